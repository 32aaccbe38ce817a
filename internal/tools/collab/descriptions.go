package collab

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/deaddrop/internal/app"
)

// checkInboxDescription is the baseline description; the filter below
// prefixes it per-session when the caller has unread mail.
const checkInboxDescription = "Read and clear your unread messages (direct mail plus broadcasts). Call this whenever you are alerted, and before sending."

// unreadPrefix renders the attention banner injected into the check_inbox
// description. The *** markers are what sidecar prompts pattern-match on.
func unreadPrefix(unread int, senders []string) string {
	return fmt.Sprintf("*** YOU HAVE %d UNREAD MESSAGE(S) from %s *** Call check_inbox now! | ",
		unread, strings.Join(senders, ", "))
}

// UnreadToolFilter resolves every tools/list request per-session: when the
// requesting session maps to an agent with unread mail, the check_inbox
// description gets the unread banner. All other tools pass unmodified.
func UnreadToolFilter(svc *app.Service, logger *log.Logger) server.ToolFilterFunc {
	return func(ctx context.Context, tools []mcp.Tool) []mcp.Tool {
		session := server.ClientSessionFromContext(ctx)
		if session == nil {
			return tools
		}
		agent := svc.Registry.AgentFor(session.SessionID())
		if agent == "" {
			return tools
		}
		unread, senders, err := svc.Store.UnreadFor(agent)
		if err != nil {
			logger.Printf("tool filter: unread lookup for %s: %v", agent, err)
			return tools
		}
		if unread == 0 {
			return tools
		}
		out := make([]mcp.Tool, len(tools))
		copy(out, tools)
		for i := range out {
			if out[i].Name == "check_inbox" {
				out[i].Description = unreadPrefix(unread, senders) + out[i].Description
			}
		}
		return out
	}
}
