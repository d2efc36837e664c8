// Package main is the entry point for the hostgate application.
// hostgateアプリケーションのエントリーポイントとなるパッケージです。
//
// hostgate is an MCP (Model Context Protocol) server that gives AI
// assistants sandboxed access to one directory of the host.
// hostgateは、AIアシスタントにホストの1つのディレクトリへの
// サンドボックス化されたアクセスを提供するMCP（Model Context Protocol）サーバーです。
package main

import (
	"github.com/YujiSuzuki/hostgate/internal/cli"
)

func main() {
	cli.Execute()
}
