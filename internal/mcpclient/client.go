// Package mcpclient dials the single outbound MCP server this service talks
// to — the Datadog symbol server the datadog_symbols tool calls out to —
// generalized down from the teacher's multi-server MCP client registry to
// the one connection this domain needs.
package mcpclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/opencode-ai/opencode/pkg/types"
)

// Connect dials cfg.URL over SSE and returns a ready session, or nil if cfg
// has no URL configured (the datadog_symbols tool treats a nil session as
// "disabled" rather than panicking).
func Connect(ctx context.Context, cfg types.DatadogMCPConfig) (*sdkmcp.ClientSession, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpClient := &http.Client{Timeout: timeout}
	transport := &sdkmcp.SSEClientTransport{
		Endpoint:   cfg.URL,
		HTTPClient: httpClient,
	}

	client := sdkmcp.NewClient(&sdkmcp.Implementation{
		Name:    "dumpserver",
		Version: "0.1.0",
	}, nil)

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to datadog mcp server: %w", err)
	}
	return session, nil
}
