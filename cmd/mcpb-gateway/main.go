// Command mcpb-gateway runs the multiplexing MCP gateway server.
package main

import (
	"context"
	"os"

	"github.com/mcpbundler/gateway/cmd/mcpb-gateway/app"
	"github.com/mcpbundler/gateway/internal/gwlog"
)

func main() {
	if err := app.Root().ExecuteContext(context.Background()); err != nil {
		gwlog.Error("mcpb-gateway exited with error", err)
		os.Exit(1)
	}
}
