package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/YujiSuzuki/hostgate/internal/audit"
)

// JSON-RPC error codes used by both transports.
// 両トランスポートで使用するJSON-RPCエラーコード。
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeNotInitialized = -32000
	CodeRateLimited    = -32001
)

// CLIClientName is the clientInfo.name sent by the bundled Go client. Its
// frequent short-lived sessions are logged at Debug level.
//
// CLIClientNameは同梱のGoクライアントが送信するclientInfo.nameです。
// 頻繁な短期セッションはDebugレベルでログ出力されます。
const CLIClientName = "hostgate-client"

// sendTimeout bounds how long a response waits for the SSE stream to accept it.
const sendTimeout = 5 * time.Second

// Server is the MCP-over-SSE server. Sessions are established with GET /sse
// and requests arrive on POST /message?sessionId=...; responses flow back
// over the session's event stream.
//
// ServerはMCP over SSEサーバーです。セッションはGET /sseで確立され、
// リクエストはPOST /message?sessionId=...で届き、レスポンスは
// セッションのイベントストリームで返されます。
type Server struct {
	tools *Toolset

	host string
	port int

	httpServer *http.Server
	srvMu      sync.Mutex

	// clients holds all connected MCP clients indexed by their session ID
	// clientsはセッションIDでインデックスされた全ての接続済みMCPクライアントを保持します
	clients   map[string]*client
	clientsMu sync.RWMutex

	// limiter throttles tools/call across all sessions; nil means unlimited.
	// limiterは全セッションにわたるtools/callを制限します。nilは無制限です。
	limiter *rate.Limiter

	// verbosity controls the logging verbosity level
	// Level 0: Normal (INFO level, minimal output)
	// Level 1 (-v): JSON output for initialized clients, filter noise
	// Level 2 (-vv): DEBUG level, JSON output, filter noise
	// Level 3 (-vvv): Full debug, all JSON, show noise
	// Level 4 (-vvvv): Full debug + HTTP headers
	//
	// verbosityはログの詳細レベルを制御します
	// レベル0: 通常（INFOレベル、最小出力）
	// レベル1 (-v): 初期化済みクライアントのJSON出力、ノイズをフィルタ
	// レベル2 (-vv): DEBUGレベル、JSON出力、ノイズをフィルタ
	// レベル3 (-vvv): フルデバッグ、全JSON、ノイズも表示
	// レベル4 (-vvvv): フルデバッグ + HTTPヘッダー表示
	verbosity int

	// requestCounter numbers requests so interleaved verbose log lines can be correlated.
	// requestCounterはリクエストに番号を付け、混在した詳細ログ行を相関付けられるようにします。
	requestCounter uint64
}

// client represents a connected MCP client session.
// clientは接続されたMCPクライアントセッションを表します。
type client struct {
	id       string
	messages chan []byte
	ctx      context.Context
	cancel   context.CancelFunc

	// mu guards initialized and clientName, which initialize writes while
	// other requests of the same session may be reading them.
	// muはinitializedとclientNameを保護します。
	mu          sync.RWMutex
	initialized bool
	clientName  string

	remoteAddr  string
	userAgent   string
	connectedAt time.Time
}

func (c *client) state() (initialized bool, name string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initialized, c.clientName
}

// ServerOption is a functional option for configuring the MCP server.
// ServerOptionはMCPサーバーを設定するための関数オプションです。
type ServerOption func(*Server)

// WithVerbosity sets the verbosity level for detailed logging.
// WithVerbosityは詳細ログのverbosityレベルを設定します。
func WithVerbosity(level int) ServerOption {
	return func(s *Server) {
		s.verbosity = level
	}
}

// WithHost sets the interface to bind to. Empty binds all interfaces.
// WithHostはバインドするインターフェースを設定します。空は全インターフェースです。
func WithHost(host string) ServerOption {
	return func(s *Server) {
		s.host = host
	}
}

// WithRateLimit allows rps tools/call requests per second with the given burst.
// WithRateLimitは毎秒rps件、バーストburst件のtools/callリクエストを許可します。
func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		if rps <= 0 {
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewServer creates a new MCP server serving tools on port.
// NewServerはportでtoolsを提供する新しいMCPサーバーを作成します。
func NewServer(tools *Toolset, port int, opts ...ServerOption) *Server {
	s := &Server{
		tools:   tools,
		port:    port,
		clients: make(map[string]*client),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler with the middleware chain applied:
// logging -> origin validation -> CORS -> routes.
//
// Handlerはミドルウェアチェーンを適用したHTTPハンドラを返します:
// ロギング -> Origin検証 -> CORS -> ルート。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /sse", s.handleSSE)
	mux.HandleFunc("POST /message", s.handleMessage)
	mux.HandleFunc("GET /health", s.handleHealth)

	// Origin validation guards against DNS rebinding.
	// Origin検証はDNSリバインディングを防ぎます。
	return s.loggingMiddleware(s.originValidationMiddleware(s.corsMiddleware(mux)))
}

// Start listens on host:port and serves until Stop is called.
// Startはhost:portで待ち受け、Stopが呼ばれるまで処理します。
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.host, fmt.Sprintf("%d", s.port))
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	slog.Info("Starting MCP server", "addr", addr)
	return s.Serve(l)
}

// Serve serves on an existing listener, e.g. a unix socket.
// Serveは既存のリスナー（unixソケットなど）で処理します。
func (s *Server) Serve(l net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.srvMu.Lock()
	s.httpServer = srv
	s.srvMu.Unlock()

	if l.Addr().Network() == "unix" {
		slog.Info("Starting MCP server", "socket", l.Addr().String())
	}
	if err := srv.Serve(l); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the MCP server within the given context deadline.
// It first cancels all client SSE connections, then shuts down the HTTP server.
//
// Stopは指定されたコンテキストのデッドライン内でMCPサーバーを正常に停止します。
// まず全クライアントのSSE接続をキャンセルし、その後HTTPサーバーをシャットダウンします。
func (s *Server) Stop(ctx context.Context) error {
	s.clientsMu.Lock()
	clientCount := len(s.clients)

	// User-Agent breakdown of uninitialized connections helps identify noise.
	// 未初期化接続のUser-Agent内訳はノイズ元の特定に役立ちます。
	userAgentCounts := make(map[string]int)
	initializedCount := 0
	for _, c := range s.clients {
		if initialized, _ := c.state(); initialized {
			initializedCount++
		} else {
			ua := c.userAgent
			if ua == "" {
				ua = "(empty)"
			}
			userAgentCounts[ua]++
		}
		c.cancel()
	}
	s.clientsMu.Unlock()

	if clientCount > 0 {
		slog.Debug("Cancelled client contexts", "count", clientCount, "initialized", initializedCount, "uninitialized", clientCount-initializedCount)
		for ua, count := range userAgentCounts {
			slog.Debug("Uninitialized connections by User-Agent", "user_agent", ua, "count", count)
		}
	}

	s.srvMu.Lock()
	srv := s.httpServer
	s.srvMu.Unlock()
	if srv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Debug("Graceful shutdown timed out, forcing close")
		return srv.Close()
	}
	return nil
}

// SessionCount returns the number of open SSE sessions.
// SessionCountは開いているSSEセッション数を返します。
func (s *Server) SessionCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"server":   ServerName,
		"version":  ServerVersion,
		"sessions": s.SessionCount(),
	})
}

// handleSSE opens a session: it sends the endpoint event carrying the
// message URL, then streams responses until the client disconnects.
//
// handleSSEはセッションを開きます。メッセージURLを含むendpointイベントを送信し、
// クライアントが切断するまでレスポンスをストリーミングします。
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ctx, cancel := context.WithCancel(r.Context())
	sessionID := newSessionID()

	c := &client{
		id:          sessionID,
		messages:    make(chan []byte, 10),
		ctx:         ctx,
		cancel:      cancel,
		remoteAddr:  r.RemoteAddr,
		userAgent:   r.UserAgent(),
		connectedAt: time.Now(),
	}

	s.clientsMu.Lock()
	s.clients[sessionID] = c
	s.clientsMu.Unlock()

	defer func() {
		duration := time.Since(c.connectedAt)
		initialized, name := c.state()

		// Uninitialized connections are noise and only shown at verbosity >= 3.
		// The bundled CLI client is always Debug level.
		// 未初期化接続はノイズでverbosity >= 3でのみ表示。同梱CLIクライアントは常にDebugレベル。
		attrs := append([]any{"sessionID", sessionID, "duration", duration.String(), "remote", c.remoteAddr}, clientLogAttrs(c)...)
		switch {
		case !initialized:
			if s.verbosity >= 3 {
				slog.Debug("[-] Client disconnected", attrs...)
			}
		case strings.HasPrefix(name, CLIClientName):
			slog.Debug("[-] Client disconnected", attrs...)
		default:
			slog.Info("[-] Client disconnected", attrs...)
		}
		if initialized {
			audit.LogClientDisconnect(context.Background(), name, sessionID, duration.Milliseconds())
		}

		s.clientsMu.Lock()
		delete(s.clients, sessionID)
		s.clientsMu.Unlock()
		cancel()
	}()

	endpointURL := fmt.Sprintf("/message?sessionId=%s", sessionID)
	if s.verbosity >= 3 {
		slog.Debug("SSE client connected", "sessionID", sessionID, "remote", c.remoteAddr, "user_agent", c.userAgent)
	}
	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", endpointURL)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-c.messages:
			// MCP 2024-11-05 frames every response as an SSE "message" event.
			// MCP 2024-11-05はすべてのレスポンスをSSE "message"イベントとして送ります。
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", msg)
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}
}

// handleMessage accepts one JSON-RPC request for a session. The POST is
// acknowledged with 202; the response itself goes out on the SSE stream.
// Notifications (no id) are acknowledged and produce no response.
//
// handleMessageはセッションへのJSON-RPCリクエストを1件受け付けます。
// POSTには202で応答し、レスポンス自体はSSEストリームで送られます。
// 通知（idなし）は受理のみでレスポンスを生成しません。
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	slog.Debug("Received message request", "sessionID", sessionID, "url", r.URL.String())
	if sessionID == "" {
		slog.Warn("Missing sessionId parameter in message request")
		sendError(w, nil, CodeInvalidRequest, "Missing sessionId parameter")
		return
	}

	s.clientsMu.RLock()
	c, exists := s.clients[sessionID]
	s.clientsMu.RUnlock()
	if !exists {
		sendError(w, nil, CodeInvalidRequest, "Invalid session ID")
		return
	}

	bodyBytes, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		slog.Error("Failed to read request body", "error", err)
		sendError(w, nil, CodeParseError, "Parse error")
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		slog.Error("Failed to decode JSON-RPC request", "error", err)
		sendError(w, nil, CodeParseError, "Parse error")
		return
	}
	slog.Debug("Decoded JSON-RPC request", "method", req.Method, "id", req.ID)

	if req.ID == nil {
		slog.Debug("Notification received", "method", req.Method, "sessionID", sessionID)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	reqNum := atomic.AddUint64(&s.requestCounter, 1)
	if s.verbosity >= 1 {
		s.logVerboseRequest(c, &req, bodyBytes, reqNum)
	}

	if initialized, _ := c.state(); !initialized && req.Method != "initialize" {
		sendErrorViaSSE(w, c, req.ID, CodeNotInitialized, "Client not initialized")
		return
	}

	result, err := s.processRequest(c, &req)
	if err != nil {
		code := CodeInternalError
		var rpcErr *JSONRPCError
		if errors.As(err, &rpcErr) {
			code = rpcErr.Code
		}
		resp := JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Error: &JSONRPCError{Code: code, Message: err.Error()}}
		if rpcErr != nil {
			resp.Error.Data = rpcErr.Data
		}
		if s.verbosity >= 1 {
			s.logVerboseResponse(c, &resp, reqNum)
		}
		sendViaSSE(w, c, &resp)
		return
	}

	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result:  result,
	}
	if s.verbosity >= 1 {
		s.logVerboseResponse(c, &resp, reqNum)
	}
	sendViaSSE(w, c, &resp)
}

// maxRequestBytes bounds one POST body. write_file content travels inline,
// so this is generous.
const maxRequestBytes = 64 << 20

// processRequest routes a JSON-RPC request to its handler.
// processRequestはJSON-RPCリクエストをハンドラにルーティングします。
func (s *Server) processRequest(c *client, req *JSONRPCRequest) (any, error) {
	slog.Info("Processing JSON-RPC request",
		append([]any{"method", req.Method, "sessionID", c.id}, clientLogAttrs(c)...)...,
	)

	switch req.Method {
	case "initialize":
		result, clientName, clientVersion := s.initialize(req.Params)
		c.mu.Lock()
		c.initialized = true
		c.clientName = clientName
		c.mu.Unlock()

		attrs := append([]any{"sessionID", c.id, "client_version", clientVersion}, clientLogAttrs(c)...)
		if strings.HasPrefix(clientName, CLIClientName) {
			slog.Debug("[+] Client connected (initialized)", attrs...)
		} else {
			slog.Info("[+] Client connected (initialized)", attrs...)
		}
		audit.LogClientConnect(c.ctx, clientName, c.id)
		return result, nil
	case "ping":
		return map[string]any{}, nil
	case "tools/list":
		return s.listTools(), nil
	case "tools/call":
		if params, ok := req.Params.(map[string]any); ok {
			if toolName, ok := params["name"].(string); ok {
				slog.Info("Tool called",
					append([]any{"tool", toolName, "sessionID", c.id}, clientLogAttrs(c)...)...,
				)
			}
		}
		if s.limiter != nil && !s.limiter.Allow() {
			slog.Warn("Rate limit exceeded", "sessionID", c.id)
			return nil, &JSONRPCError{Code: CodeRateLimited, Message: "Rate limit exceeded"}
		}
		return s.callTool(c.ctx, c.id, req.Params)
	default:
		return nil, &JSONRPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("Method not found: %s", req.Method)}
	}
}

// loggingMiddleware logs HTTP requests and responses with timing information.
// loggingMiddlewareはHTTPリクエストとレスポンスをタイミング情報と共にログに記録します。
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		// Bare SSE connections are noise until they initialize.
		// 初期化前のSSE接続はノイズとして扱います。
		isNoise := r.URL.Path == "/sse"

		if s.verbosity >= 3 || !isNoise {
			slog.Info("Request received",
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
			)
		}

		if s.verbosity >= 4 {
			keys := make([]string, 0, len(r.Header))
			for k := range r.Header {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				slog.Debug("HTTP header", "key", k, "value", strings.Join(r.Header[k], ", "))
			}
		}

		next.ServeHTTP(ww, r)

		if s.verbosity >= 3 || !isNoise {
			slog.Info("Response sent",
				"status", ww.statusCode,
				"duration", time.Since(start).String(),
			)
		}
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
// responseWriterはステータスコードを取得するためにhttp.ResponseWriterをラップします。
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush is required for SSE; events must reach the client immediately.
// FlushはSSEに必須です。イベントは即座にクライアントへ届く必要があります。
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// clientLogAttrs returns slog key-value pairs identifying the client.
// The client_name field is the raw clientInfo.name once initialized,
// "(empty name)" when initialized without one, and "(not initialized)" before that.
//
// clientLogAttrsはクライアントを識別するslogキーバリューペアを返します。
func clientLogAttrs(c *client) []any {
	initialized, name := c.state()
	switch {
	case name != "":
	case initialized:
		name = "(empty name)"
	default:
		name = "(not initialized)"
	}
	return []any{"client_name", name, "user_agent", c.userAgent}
}

// corsMiddleware adds CORS headers for localhost origins and answers preflight requests.
// corsMiddlewareはlocalhostオリジンにCORSヘッダーを追加し、プリフライトに応答します。
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isAllowedOrigin checks if the given origin is a localhost origin, with or without port.
// isAllowedOriginは指定されたオリジンがlocalhostオリジン（ポート有無を問わず）かをチェックします。
func isAllowedOrigin(origin string) bool {
	allowedOrigins := []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
		"https://127.0.0.1",
		"http://[::1]",
		"https://[::1]",
	}
	for _, allowed := range allowedOrigins {
		if origin == allowed || strings.HasPrefix(origin, allowed+":") {
			return true
		}
	}
	return false
}

// originValidationMiddleware rejects requests whose Origin header is not
// localhost. Requests without Origin (curl, CLI tools) pass.
//
// originValidationMiddlewareはOriginヘッダーがlocalhostでないリクエストを拒否します。
// Originのないリクエスト（curl、CLIツール）は通過します。
func (s *Server) originValidationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && !isAllowedOrigin(origin) {
			slog.Warn("Rejected request due to invalid Origin header",
				"origin", origin,
				"remote", r.RemoteAddr,
			)
			http.Error(w, "Forbidden: Invalid Origin header", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// sendError writes a JSON-RPC error directly to the HTTP response. It is
// used before a session is known or when the SSE stream is gone.
//
// sendErrorはJSON-RPCエラーをHTTPレスポンスに直接書き込みます。
func sendError(w http.ResponseWriter, id any, code int, message string) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: message},
	}
	w.Header().Set("Content-Type", "application/json")
	// JSON-RPC errors are sent with HTTP 200 OK status
	// JSON-RPCエラーはHTTP 200 OKステータスで送信される
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(resp)
}

// sendErrorViaSSE delivers a JSON-RPC error over the session stream.
// sendErrorViaSSEはセッションストリーム経由でJSON-RPCエラーを配信します。
func sendErrorViaSSE(w http.ResponseWriter, c *client, id any, code int, message string) {
	sendViaSSE(w, c, &JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: message},
	})
}

// sendViaSSE queues resp on the session stream and acknowledges the POST.
// sendViaSSEはrespをセッションストリームに積み、POSTに受理を返します。
func sendViaSSE(w http.ResponseWriter, c *client, resp *JSONRPCResponse) {
	respBytes, err := json.Marshal(resp)
	if err != nil {
		sendError(w, resp.ID, CodeInternalError, "Failed to marshal response")
		return
	}
	slog.Debug("JSON-RPC response", "id", resp.ID, "response_size", len(respBytes))

	select {
	case c.messages <- respBytes:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
	case <-c.ctx.Done():
		sendError(w, resp.ID, CodeInternalError, "Client disconnected")
	case <-time.After(sendTimeout):
		sendError(w, resp.ID, CodeInternalError, "Timeout sending response")
	}
}

// newSessionID returns a ULID; lexical order follows connection time.
// newSessionIDはULIDを返します。辞書順は接続時刻順になります。
func newSessionID() string {
	return ulid.Make().String()
}

// JSONRPCRequest represents a JSON-RPC 2.0 request message.
// JSONRPCRequestはJSON-RPC 2.0リクエストメッセージを表します。
type JSONRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      any    `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response message.
// It contains either a result (for successful responses) or an error (for failed ones).
//
// JSONRPCResponseはJSON-RPC 2.0レスポンスメッセージを表します。
// 結果（成功時）またはエラー（失敗時）のいずれかを含みます。
type JSONRPCResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      any           `json:"id"`
	Result  any           `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object. It doubles as a Go
// error so handlers can return a specific code.
//
// JSONRPCErrorはJSON-RPC 2.0エラーオブジェクトを表します。
// ハンドラが特定のコードを返せるようにGoのerrorとしても使えます。
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *JSONRPCError) Error() string {
	return e.Message
}

// logVerboseRequest logs the raw request JSON, pretty-printed, between
// numbered separators so interleaved requests can be told apart.
//
// logVerboseRequestは生のリクエストJSONを整形し、番号付きの区切り線の間に
// ログ出力します。混在したリクエストを区別できるようにします。
func (s *Server) logVerboseRequest(c *client, req *JSONRPCRequest, rawJSON []byte, reqNum uint64) {
	toolName := ""
	if req.Method == "tools/call" {
		if params, ok := req.Params.(map[string]any); ok {
			if name, ok := params["name"].(string); ok {
				toolName = name
			}
		}
	}

	var prettyBuf bytes.Buffer
	if err := json.Indent(&prettyBuf, rawJSON, "", "  "); err != nil {
		slog.Warn("Failed to pretty-print raw request JSON, using raw bytes",
			"function", "logVerboseRequest",
			"error", err,
		)
		prettyBuf.Reset()
		prettyBuf.Write(rawJSON)
	}

	slog.Info(fmt.Sprintf("═══ [#%d] ═══════════════════════════════════════════════════════════", reqNum))
	baseAttrs := clientLogAttrs(c)
	if toolName != "" {
		slog.Info("▼ REQUEST", append(baseAttrs, "method", req.Method, "tool", toolName, "id", req.ID)...)
	} else {
		slog.Info("▼ REQUEST", append(baseAttrs, "method", req.Method, "id", req.ID)...)
	}
	slog.Info("Request body:\n" + prettyBuf.String())
	slog.Info(fmt.Sprintf("─── [#%d] ───────────────────────────────────────────────────────────", reqNum))
}

// logVerboseResponse logs the full JSON-RPC response, pretty-printed.
// logVerboseResponseは完全なJSON-RPCレスポンスを整形してログ出力します。
func (s *Server) logVerboseResponse(c *client, resp *JSONRPCResponse, reqNum uint64) {
	prettyJSON, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		slog.Error("Unexpected marshal failure in verbose response logging",
			"function", "logVerboseResponse",
			"error", err,
		)
		return
	}

	baseAttrs := clientLogAttrs(c)
	if resp.Error != nil {
		slog.Info("▲ RESPONSE (ERROR)", append(baseAttrs, "id", resp.ID, "error_code", resp.Error.Code)...)
	} else {
		slog.Info("▲ RESPONSE", append(baseAttrs, "id", resp.ID)...)
	}
	slog.Info("Response body:\n" + string(prettyJSON))
	slog.Info(fmt.Sprintf("═══ [#%d] ═══════════════════════════════════════════════════════════", reqNum))
}
