// Package collab binds the coordination operations to MCP tools.
package collab

import (
	"context"
	"log"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/deaddrop/internal/app"
)

// Register registers every coordination tool and the onboarding resources
// with the mcp-go server.
func Register(s *server.MCPServer, svc *app.Service, logger *log.Logger) {
	// Agent tools (5)
	registerRegister(s, svc, logger)
	registerSetStatus(s, svc, logger)
	registerDeregister(s, svc, logger)
	registerWho(s, svc, logger)
	registerPing(s, svc, logger)

	// Messaging tools (3)
	registerSend(s, svc, logger)
	registerCheckInbox(s, svc, logger)
	registerGetHistory(s, svc, logger)

	// Task tools (6)
	registerCreateTask(s, svc, logger)
	registerUpdateTask(s, svc, logger)
	registerListTasks(s, svc, logger)
	registerSubmitForReview(s, svc, logger)
	registerApproveTask(s, svc, logger)
	registerRejectTask(s, svc, logger)

	// Handshake tools (3)
	registerInitiateHandshake(s, svc, logger)
	registerAckHandshake(s, svc, logger)
	registerHandshakeStatus(s, svc, logger)

	// Contract tools (2)
	registerDeclareContract(s, svc, logger)
	registerListContracts(s, svc, logger)

	// Spawn policy tools (3)
	registerSetSpawnPolicy(s, svc, logger)
	registerGetSpawnPolicy(s, svc, logger)
	registerLogMinion(s, svc, logger)

	registerResources(s, svc, logger)
}

// ActivityMiddleware records tool activity on the calling session so the
// watchdog can tell live sessions from abandoned ones.
func ActivityMiddleware(registry *app.SessionRegistry) server.ToolHandlerMiddleware {
	return func(next server.ToolHandlerFunc) server.ToolHandlerFunc {
		return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if session := server.ClientSessionFromContext(ctx); session != nil {
				registry.Touch(session.SessionID())
			}
			return next(ctx, req)
		}
	}
}
