package mcp

import (
	mcpgo "github.com/mark3labs/mcp-go/mcp"

	"github.com/YujiSuzuki/hostgate/internal/gateway"
)

// textResponse creates a standard MCP text response.
// textResponseは標準的なMCPテキストレスポンスを作成します。
func textResponse(text string) map[string]any {
	return map[string]any{
		"content": []map[string]any{
			{
				"type": "text",
				"text": text,
			},
		},
	}
}

// outcomeResponse converts a successful outcome into the tools/call result
// shape used by the SSE transport. Each content block keeps its own entry.
//
// outcomeResponseは成功した結果をSSEトランスポートで使用するtools/call結果の
// 形に変換します。各コンテンツブロックはそれぞれのエントリを保持します。
func outcomeResponse(out gateway.Outcome) map[string]any {
	if len(out.Content) == 0 {
		return textResponse("")
	}
	content := make([]map[string]any, 0, len(out.Content))
	for _, c := range out.Content {
		content = append(content, map[string]any{
			"type": c.Type,
			"text": c.Text,
		})
	}
	return map[string]any{"content": content}
}

// outcomeResult is outcomeResponse for the stdio transport.
// outcomeResultはstdioトランスポート用のoutcomeResponseです。
func outcomeResult(out gateway.Outcome) *mcpgo.CallToolResult {
	result := &mcpgo.CallToolResult{Content: make([]mcpgo.Content, 0, len(out.Content))}
	for _, c := range out.Content {
		result.Content = append(result.Content, mcpgo.NewTextContent(c.Text))
	}
	if len(result.Content) == 0 {
		result.Content = append(result.Content, mcpgo.NewTextContent(""))
	}
	return result
}
