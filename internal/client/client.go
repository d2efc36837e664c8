// Package client provides an HTTP client for interacting with the hostgate server.
// It implements MCP (Model Context Protocol) over SSE (Server-Sent Events) and HTTP POST,
// allowing scripts and the CLI to call gateway operations such as reading files,
// executing allow-listed commands and hashing files on a remote host.
//
// clientパッケージはhostgateサーバーと通信するためのHTTPクライアントを提供します。
// MCP（Model Context Protocol）をSSE（Server-Sent Events）とHTTP POSTで実装し、
// スクリプトやCLIがリモートホスト上のゲートウェイ操作（ファイル読み取り、
// 許可コマンドの実行、ファイルのハッシュ計算など）を呼び出せるようにします。
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-connections/sockets"
)

// clientVersion holds the version string for the client, used during MCP initialization.
// This is typically set at build time using ldflags.
//
// clientVersionはクライアントのバージョン文字列を保持し、MCP初期化時に使用されます。
// これは通常、ビルド時にldflagsを使用して設定されます。
var clientVersion string

// ClientName is the clientInfo.name sent during initialization. The server
// logs sessions with this prefix at debug level.
//
// ClientNameは初期化時に送信されるclientInfo.nameです。
const ClientName = "hostgate-client"

// unixScheme selects a unix socket transport, e.g. "unix:///run/hostgate.sock".
const unixScheme = "unix://"

// DefaultTimeout bounds one request/response round trip.
// DefaultTimeoutは1回のリクエスト/レスポンスの往復時間の上限です。
const DefaultTimeout = 30 * time.Second

// Client is an HTTP client for the hostgate server that manages the SSE
// connection and JSON-RPC communication.
//
// Requests are serialized: each call posts one request and waits for the
// response with the matching id on the stream.
//
// ClientはhostgateサーバーのHTTPクライアントで、SSE接続とJSON-RPC通信を管理します。
// リクエストは直列化され、各呼び出しは1件のリクエストを送信し、
// ストリーム上で一致するidのレスポンスを待ちます。
type Client struct {
	baseURL       string
	httpClient    *http.Client
	sseHTTPClient *http.Client
	timeout       time.Duration

	sessionID string
	sseConn   *http.Response
	messages  chan []byte
	errors    chan error
	ctx       context.Context
	cancel    context.CancelFunc

	// mu guards sessionID and sseConn.
	// muはsessionIDとsseConnを保護します。
	mu sync.Mutex

	// callMu serializes request/response pairs.
	// callMuはリクエスト/レスポンスの組を直列化します。
	callMu sync.Mutex
	nextID int

	clientSuffix string // Suffix appended to client name / クライアント名に追加されるサフィックス
}

// NewClient creates a client for the server at baseURL. baseURL is either an
// http(s) URL such as "http://localhost:8080" or a unix socket path written
// as "unix:///run/hostgate.sock".
//
// NewClientはbaseURLのサーバー用クライアントを作成します。baseURLは
// "http://localhost:8080"のようなhttp(s) URLか、"unix:///run/hostgate.sock"
// 形式のunixソケットパスです。
func NewClient(baseURL string) (*Client, error) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		timeout:  DefaultTimeout,
		messages: make(chan []byte, 10),
		errors:   make(chan error, 1),
		ctx:      ctx,
		cancel:   cancel,
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if path, ok := strings.CutPrefix(baseURL, unixScheme); ok {
		if err := configureUnixTransport(transport, path); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to configure unix socket %s: %w", path, err)
		}
		// The host part is ignored once the dialer is bound to the socket.
		// ダイアラーがソケットに固定されるとホスト部分は無視されます。
		c.baseURL = "http://hostgate"
	}

	// SSE client has no timeout to keep the stream open.
	// SSEクライアントはストリームを維持するためタイムアウトなし。
	c.httpClient = &http.Client{Transport: transport, Timeout: DefaultTimeout}
	c.sseHTTPClient = &http.Client{Transport: transport}
	return c, nil
}

// configureUnixTransport binds every connection of tr to the socket at path.
// sockets.ConfigureTransport only sets the legacy Dial hook, which
// http.Transport ignores while DialContext is set, so DialContext is
// replaced as well.
//
// configureUnixTransportはtrのすべての接続をpathのソケットに固定します。
// sockets.ConfigureTransportは旧来のDialのみを設定し、DialContextが
// 設定されている間http.Transportはそれを無視するため、DialContextも置き換えます。
func configureUnixTransport(tr *http.Transport, path string) error {
	if err := sockets.ConfigureTransport(tr, "unix", path); err != nil {
		return err
	}
	dialer := &net.Dialer{Timeout: DefaultTimeout}
	tr.DialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
		return dialer.DialContext(ctx, "unix", path)
	}
	return nil
}

// SetClientSuffix sets a suffix that will be appended to the client name.
// The resulting client name will be "hostgate-client_<suffix>".
//
// SetClientSuffixはクライアント名に追加されるサフィックスを設定します。
// 結果のクライアント名は"hostgate-client_<suffix>"になります。
func (c *Client) SetClientSuffix(suffix string) {
	c.clientSuffix = suffix
}

// SetTimeout changes how long a call waits for its response.
// SetTimeoutは呼び出しがレスポンスを待つ時間を変更します。
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
		c.httpClient.Timeout = d
	}
}

// Connect establishes the SSE connection, reads the session ID from the
// endpoint event and performs the MCP initialize handshake. It is a no-op
// when already connected.
//
// ConnectはSSE接続を確立し、endpointイベントからセッションIDを読み取り、
// MCP初期化ハンドシェイクを実行します。既に接続済みの場合は何もしません。
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.sessionID != "" {
		c.mu.Unlock()
		return nil
	}

	req, err := http.NewRequestWithContext(c.ctx, http.MethodGet, c.baseURL+"/sse", nil)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to create SSE request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.sseHTTPClient.Do(req)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to connect to SSE: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		c.mu.Unlock()
		return fmt.Errorf("SSE connection failed with status: %d", resp.StatusCode)
	}
	c.sseConn = resp

	// The first event carries "data: /message?sessionId=...".
	// 最初のイベントは「data: /message?sessionId=...」を含みます。
	reader := bufio.NewReader(resp.Body)
	var event string
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			c.mu.Unlock()
			resp.Body.Close()
			return fmt.Errorf("failed to get session ID from SSE stream: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")

		if strings.HasPrefix(line, "event:") {
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}
		if event != "endpoint" || !strings.HasPrefix(line, "data:") {
			continue
		}
		endpoint := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		idx := strings.Index(endpoint, "sessionId=")
		if idx == -1 {
			continue
		}
		c.sessionID = endpoint[idx+len("sessionId="):]
		go c.readSSEMessages(reader)

		// initialize takes the lock again.
		// initializeは再度ロックを取得します。
		c.mu.Unlock()
		return c.initialize()
	}
}

// initialize performs the MCP initialize handshake with the server.
// initializeはサーバーとのMCP初期化ハンドシェイクを実行します。
func (c *Client) initialize() error {
	clientName := ClientName
	if c.clientSuffix != "" {
		clientName = clientName + "_" + c.clientSuffix
	}

	_, err := c.roundTrip("initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"capabilities":    map[string]any{},
		"clientInfo": map[string]string{
			"name":    clientName,
			"version": clientVersion,
		},
	})
	if err != nil {
		return fmt.Errorf("initialize failed: %w", err)
	}
	return nil
}

// readSSEMessages forwards "data:" lines from the stream to the messages
// channel until the stream ends or the client is closed.
//
// readSSEMessagesはストリームが終了するかクライアントが閉じられるまで、
// ストリームの「data:」行をmessagesチャネルへ転送します。
func (c *Client) readSSEMessages(reader *bufio.Reader) {
	defer c.sseConn.Body.Close()

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			select {
			case c.errors <- err:
			case <-c.ctx.Done():
			}
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		select {
		case c.messages <- []byte(data):
		case <-c.ctx.Done():
			return
		}
	}
}

// Close cancels the client context, stopping the SSE reader, and closes
// the stream. It is safe to call more than once.
//
// Closeはクライアントコンテキストをキャンセルし（SSEリーダーを停止）、
// ストリームを閉じます。複数回呼び出しても安全です。
func (c *Client) Close() error {
	c.cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sseConn != nil {
		return c.sseConn.Body.Close()
	}
	return nil
}

// roundTrip posts one request and waits for the response carrying its id.
// Responses with other ids (late replies to timed-out calls) are dropped.
//
// roundTripは1件のリクエストを送信し、そのidを持つレスポンスを待ちます。
// 他のidのレスポンス（タイムアウトした呼び出しへの遅延応答）は破棄されます。
func (c *Client) roundTrip(method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	sessionID := c.sessionID
	c.mu.Unlock()
	if sessionID == "" {
		return nil, fmt.Errorf("not connected: call Connect() first")
	}

	c.callMu.Lock()
	defer c.callMu.Unlock()
	c.nextID++
	id := c.nextID

	body, err := json.Marshal(JSONRPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/message?sessionId=%s", c.baseURL, sessionID)
	httpReq, err := http.NewRequestWithContext(c.ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
	case http.StatusOK:
		// Session-level errors are answered directly in the POST body.
		// セッションレベルのエラーはPOSTボディで直接返されます。
		var direct JSONRPCResponse
		if err := json.NewDecoder(resp.Body).Decode(&direct); err == nil && direct.Error != nil {
			return nil, direct.Error
		}
	default:
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned error: %d - %s", resp.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}

	timeout := time.NewTimer(c.timeout)
	defer timeout.Stop()
	for {
		select {
		case msg := <-c.messages:
			var rpcResp JSONRPCResponse
			if err := json.Unmarshal(msg, &rpcResp); err != nil {
				return nil, fmt.Errorf("failed to decode SSE response: %w", err)
			}
			if rpcResp.ID != id {
				continue
			}
			if rpcResp.Error != nil {
				return nil, rpcResp.Error
			}
			return rpcResp.Result, nil
		case err := <-c.errors:
			return nil, fmt.Errorf("SSE connection error: %w", err)
		case <-timeout.C:
			return nil, fmt.Errorf("timeout waiting for %s response", method)
		case <-c.ctx.Done():
			return nil, fmt.Errorf("client closed")
		}
	}
}

// CallTool runs one gateway operation. A failed operation is returned as
// a *JSONRPCError whose Kind names the gateway error kind.
//
// CallToolはゲートウェイ操作を1件実行します。失敗した操作は、Kindが
// ゲートウェイのエラー種別を示す*JSONRPCErrorとして返されます。
func (c *Client) CallTool(name string, arguments map[string]any) (*ToolResult, error) {
	if arguments == nil {
		arguments = map[string]any{}
	}
	raw, err := c.roundTrip("tools/call", map[string]any{
		"name":      name,
		"arguments": arguments,
	})
	if err != nil {
		return nil, err
	}

	var result ToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode tool result: %w", err)
	}
	if result.IsError {
		return nil, fmt.Errorf("tool call failed: %s", result.Text())
	}
	return &result, nil
}

// ListTools returns the server's tool catalog.
// ListToolsはサーバーのツールカタログを返します。
func (c *Client) ListTools() ([]Tool, error) {
	raw, err := c.roundTrip("tools/list", nil)
	if err != nil {
		return nil, err
	}
	var list struct {
		Tools []Tool `json:"tools"`
	}
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("failed to decode tool list: %w", err)
	}
	return list.Tools, nil
}

// Health is the /health payload.
type Health struct {
	Status   string `json:"status"`
	Server   string `json:"server"`
	Version  string `json:"version"`
	Sessions int    `json:"sessions"`
}

// HealthCheck checks whether the server is running and returns its health
// report. It does not need an SSE session.
//
// HealthCheckはサーバーが稼働中かを確認し、ヘルスレポートを返します。
// SSEセッションは不要です。
func (c *Client) HealthCheck() (*Health, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned unhealthy status: %d", resp.StatusCode)
	}
	var h Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	return &h, nil
}

// JSONRPCRequest represents a JSON-RPC 2.0 request.
// JSONRPCRequestはJSON-RPC 2.0リクエストを表します。
type JSONRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response. Result is kept raw and
// decoded by the caller that knows its shape.
//
// JSONRPCResponseはJSON-RPC 2.0レスポンスを表します。Resultは生のまま保持され、
// 形を知る呼び出し元がデコードします。
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError is a JSON-RPC 2.0 error returned by the server. Gateway
// failures carry {"kind": "<ErrorKind>"} in Data.
//
// JSONRPCErrorはサーバーが返すJSON-RPC 2.0エラーです。ゲートウェイの失敗は
// Dataに{"kind": "<ErrorKind>"}を持ちます。
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *JSONRPCError) Error() string {
	if kind := e.Kind(); kind != "" {
		return fmt.Sprintf("%s: %s", kind, e.Message)
	}
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// Kind returns the gateway error kind, or "" for protocol errors.
// Kindはゲートウェイのエラー種別を返します。プロトコルエラーの場合は""です。
func (e *JSONRPCError) Kind() string {
	data, ok := e.Data.(map[string]any)
	if !ok {
		return ""
	}
	kind, _ := data["kind"].(string)
	return kind
}

// ToolResult represents the result of an MCP tool call.
// ToolResultはMCPツール呼び出しの結果を表します。
type ToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Text joins the text blocks with newlines.
// Textはテキストブロックを改行で連結します。
func (r *ToolResult) Text() string {
	texts := make([]string, 0, len(r.Content))
	for _, c := range r.Content {
		if c.Type == "" || c.Type == "text" {
			texts = append(texts, c.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// Content represents a single content block in an MCP response.
// ContentはMCPレスポンス内の単一コンテンツブロックを表します。
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Tool is one catalog entry as listed by the server.
// Toolはサーバーが列挙するカタログの1エントリです。
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}
