package collab

import (
	"context"
	"fmt"
	"log"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/deaddrop/internal/app"
)

// registerRegister registers the register tool.
func registerRegister(s *server.MCPServer, svc *app.Service, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("register",
			mcp.WithDescription("Register yourself with the coordination server. Call this once at session start, before any other tool."),
			mcp.WithString("name", mcp.Required(), mcp.Description("Your agent name (e.g. 'lead1', 'frontend/dev1')")),
			mcp.WithString("role", mcp.Description("Your role: lead, researcher, coder, builder, ...")),
			mcp.WithString("description", mcp.Description("Short human-readable description of what you do")),
			mcp.WithString("team", mcp.Description("Team label; your name can then be addressed as <team>/<name>")),
			mcp.WithString("token", mcp.Description("Room token, required when the room is protected")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			name, err := requireString(args, "name")
			if err != nil {
				return toolError(logger, "register", err)
			}
			role := optionalString(args, "role")
			agent, onboarding, err := svc.RegisterAgent(sessionID(ctx),
				name, role, optionalString(args, "description"),
				optionalString(args, "team"), optionalString(args, "token"))
			if err != nil {
				return toolError(logger, "register", err)
			}
			logger.Printf("Agent registered: %s (role=%s)", agent.Name, agent.Role)
			text := fmt.Sprintf("Agent '%s' registered successfully.", agent.Name)
			if onboarding != "" {
				text += "\n\n" + onboarding
			}
			return mcp.NewToolResultText(text), nil
		},
	)
}

// registerSetStatus registers the set_status tool.
func registerSetStatus(s *server.MCPServer, svc *app.Service, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("set_status",
			mcp.WithDescription("Update your free-text status so other agents can see what you are doing."),
			mcp.WithString("agent", mcp.Required(), mcp.Description("Your agent name")),
			mcp.WithString("status", mcp.Required(), mcp.Description("New status text (e.g. 'working on TASK-003')")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			agent, err := requireString(args, "agent")
			if err != nil {
				return toolError(logger, "set_status", err)
			}
			status, err := requireString(args, "status")
			if err != nil {
				return toolError(logger, "set_status", err)
			}
			old, err := svc.Store.SetStatus(agent, status)
			if err != nil {
				return toolError(logger, "set_status", err)
			}
			return mcp.NewToolResultText(fmt.Sprintf("Status set: %s → %s", old, status)), nil
		},
	)
}

// registerDeregister registers the deregister tool.
func registerDeregister(s *server.MCPServer, svc *app.Service, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("deregister",
			mcp.WithDescription("Remove yourself from the agent roster. Your messages are kept."),
			mcp.WithString("name", mcp.Required(), mcp.Description("Your agent name")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			name, err := requireString(req.GetArguments(), "name")
			if err != nil {
				return toolError(logger, "deregister", err)
			}
			found, err := svc.DeregisterAgent(name)
			if err != nil {
				return toolError(logger, "deregister", err)
			}
			if !found {
				return mcp.NewToolResultText(fmt.Sprintf("Agent '%s' was not registered.", name)), nil
			}
			logger.Printf("Agent deregistered: %s", name)
			return mcp.NewToolResultText(fmt.Sprintf("Agent '%s' deregistered.", name)), nil
		},
	)
}

// registerWho registers the who tool.
func registerWho(s *server.MCPServer, svc *app.Service, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("who",
			mcp.WithDescription("List every agent with role, status, connectivity and heartbeat health."),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			roster, err := svc.Who()
			if err != nil {
				return toolError(logger, "who", err)
			}
			if roster == nil {
				roster = []app.WhoEntry{}
			}
			return jsonResult(roster)
		},
	)
}

// registerPing registers the ping tool.
func registerPing(s *server.MCPServer, svc *app.Service, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("ping",
			mcp.WithDescription("Heartbeat. Call periodically so others see you as healthy; also re-binds your session."),
			mcp.WithString("agent", mcp.Required(), mcp.Description("Your agent name")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			agent, err := requireString(req.GetArguments(), "agent")
			if err != nil {
				return toolError(logger, "ping", err)
			}
			if err := svc.Ping(sessionID(ctx), agent); err != nil {
				return toolError(logger, "ping", err)
			}
			return mcp.NewToolResultText(fmt.Sprintf("pong: heartbeat recorded for '%s'", agent)), nil
		},
	)
}
