package collab

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/deaddrop/internal/domain"
)

// sessionID returns the calling session's id, or "" outside a session
// context (stdio before initialize, tests).
func sessionID(ctx context.Context) string {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		return session.SessionID()
	}
	return ""
}

// errText renders a domain failure for the caller. The unread-gate sentinel
// is returned verbatim so sidecars can pattern-match it; everything else
// gets the Error: prefix.
func errText(err error) string {
	var blocked *domain.UnreadBlockedError
	if errors.As(err, &blocked) {
		return blocked.Error()
	}
	return "Error: " + err.Error()
}

// toolError logs a handler failure and returns it as a result string. Domain
// failures never become protocol errors; the caller is an LLM that needs the
// text in-band.
func toolError(logger *log.Logger, op string, err error) (*mcp.CallToolResult, error) {
	logger.Printf("%s: %v", op, err)
	return mcp.NewToolResultText(errText(err)), nil
}

// jsonResult marshals v as an indented JSON tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultText("Error: " + err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
