package mcptool

import (
	"fmt"
	"os"
	"os/exec"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tarsy-run/tarsy/pkg/config"
)

// newTransport builds an MCP SDK transport from a server's TransportConfig.
// Grounded on the teacher's pkg/mcp/transport.go createTransport; SSE and
// the HTTP auth/TLS knobs are dropped since config.TransportConfig only
// carries stdio and http (spec.md §6 treats the wire transport as out of
// scope beyond naming the two kinds the example fleet actually uses).
func newTransport(cfg config.TransportConfig) (mcpsdk.Transport, error) {
	switch cfg.Type {
	case "stdio":
		return newStdioTransport(cfg)
	case "http":
		return newHTTPTransport(cfg)
	default:
		return nil, fmt.Errorf("mcptool: unsupported transport type %q", cfg.Type)
	}
}

func newStdioTransport(cfg config.TransportConfig) (*mcpsdk.CommandTransport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("mcptool: stdio transport requires command")
	}
	cmd := exec.Command(cfg.Command, cfg.Args...)
	env := os.Environ()
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = env
	return &mcpsdk.CommandTransport{Command: cmd}, nil
}

func newHTTPTransport(cfg config.TransportConfig) (*mcpsdk.StreamableClientTransport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("mcptool: http transport requires url")
	}
	return &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}, nil
}
