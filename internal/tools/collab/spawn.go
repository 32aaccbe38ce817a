package collab

import (
	"context"
	"fmt"
	"log"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/deaddrop/internal/app"
	"github.com/jaakkos/deaddrop/internal/domain"
)

// registerSetSpawnPolicy registers the set_spawn_policy tool.
func registerSetSpawnPolicy(s *server.MCPServer, svc *app.Service, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("set_spawn_policy",
			mcp.WithDescription("Set the minion spawn policy for one agent or for 'global'. Lead-only."),
			mcp.WithString("agent", mcp.Required(), mcp.Description("Your agent name")),
			mcp.WithString("scope", mcp.Required(), mcp.Description("Agent name the policy governs, or 'global'")),
			mcp.WithBoolean("enabled", mcp.Required(), mcp.Description("Whether spawning is allowed")),
			mcp.WithNumber("max_minions", mcp.Required(), mcp.Description("Max concurrent minions")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			agent, err := requireString(args, "agent")
			if err != nil {
				return toolError(logger, "set_spawn_policy", err)
			}
			scope, err := requireString(args, "scope")
			if err != nil {
				return toolError(logger, "set_spawn_policy", err)
			}
			enabled, err := requireBool(args, "enabled")
			if err != nil {
				return toolError(logger, "set_spawn_policy", err)
			}
			max, err := requireFloat64(args, "max_minions")
			if err != nil {
				return toolError(logger, "set_spawn_policy", err)
			}
			if err := svc.Spawns.SetPolicy(agent, scope, enabled, int(max)); err != nil {
				return toolError(logger, "set_spawn_policy", err)
			}
			logger.Printf("Spawn policy for %s set by %s: enabled=%t max=%d", scope, agent, enabled, int(max))
			return mcp.NewToolResultText(fmt.Sprintf(
				"Spawn policy for '%s' set: enabled=%t, max_minions=%d.", scope, enabled, int(max))), nil
		},
	)
}

// registerGetSpawnPolicy registers the get_spawn_policy tool.
func registerGetSpawnPolicy(s *server.MCPServer, svc *app.Service, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("get_spawn_policy",
			mcp.WithDescription("Resolve the effective spawn policy for an agent: scope row, then global, then the default. Includes whether it can spawn right now."),
			mcp.WithString("agent", mcp.Required(), mcp.Description("The pilot agent to resolve for")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			agent, err := requireString(req.GetArguments(), "agent")
			if err != nil {
				return toolError(logger, "get_spawn_policy", err)
			}
			pol, err := svc.Spawns.Policy(agent)
			if err != nil {
				return toolError(logger, "get_spawn_policy", err)
			}
			return jsonResult(pol)
		},
	)
}

// registerLogMinion registers the log_minion tool.
func registerLogMinion(s *server.MCPServer, svc *app.Service, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("log_minion",
			mcp.WithDescription("Record a minion lifecycle event: 'spawned' opens a new entry, 'completed'/'failed' closes your most recent spawned one."),
			mcp.WithString("agent", mcp.Required(), mcp.Description("Your agent name (the pilot)")),
			mcp.WithString("status", mcp.Required(), mcp.Description("spawned, completed, or failed")),
			mcp.WithString("description", mcp.Description("What the minion is doing (for 'spawned')")),
			mcp.WithString("result", mcp.Description("Outcome text (for 'completed'/'failed')")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			agent, err := requireString(args, "agent")
			if err != nil {
				return toolError(logger, "log_minion", err)
			}
			status, err := requireString(args, "status")
			if err != nil {
				return toolError(logger, "log_minion", err)
			}
			entry, err := svc.Spawns.LogMinion(agent,
				optionalString(args, "description"), status, optionalString(args, "result"))
			if err != nil {
				return toolError(logger, "log_minion", err)
			}
			logger.Printf("Minion #%d %s (pilot=%s)", entry.ID, entry.Status, agent)
			if status == domain.MinionSpawned {
				return mcp.NewToolResultText(fmt.Sprintf(
					"Minion #%d logged as spawned for '%s'.", entry.ID, agent)), nil
			}
			return mcp.NewToolResultText(fmt.Sprintf(
				"Minion #%d marked %s.", entry.ID, entry.Status)), nil
		},
	)
}
