package collab

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/deaddrop/internal/app"
	"github.com/jaakkos/deaddrop/internal/domain"
)

// registerInitiateHandshake registers the initiate_handshake tool.
func registerInitiateHandshake(s *server.MCPServer, svc *app.Service, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("initiate_handshake",
			mcp.WithDescription("Start an all-hands sync barrier: every target gets a [HANDSHAKE] message and must ack_handshake before the barrier completes. Lead-only."),
			mcp.WithString("initiator", mcp.Required(), mcp.Description("Your agent name")),
			mcp.WithString("content", mcp.Required(), mcp.Description("What everyone is syncing on")),
			mcp.WithArray("agents", mcp.Description("Specific targets; empty means every registered agent")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			initiator, err := requireString(args, "initiator")
			if err != nil {
				return toolError(logger, "initiate_handshake", err)
			}
			content, err := requireString(args, "content")
			if err != nil {
				return toolError(logger, "initiate_handshake", err)
			}
			res, err := svc.Handshakes.Initiate(initiator, content, optionalStringList(args, "agents"))
			if err != nil {
				return toolError(logger, "initiate_handshake", err)
			}
			logger.Printf("Handshake #%d initiated by %s (%d target(s))", res.ID, initiator, len(res.Targets))
			return mcp.NewToolResultText(fmt.Sprintf(
				"Handshake #%d initiated. Waiting for ACK from: %s",
				res.ID, strings.Join(res.Targets, ", "))), nil
		},
	)
}

// registerAckHandshake registers the ack_handshake tool.
func registerAckHandshake(s *server.MCPServer, svc *app.Service, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("ack_handshake",
			mcp.WithDescription("Acknowledge a handshake you received. When the last agent acks, the initiator is told everyone is synced."),
			mcp.WithString("agent", mcp.Required(), mcp.Description("Your agent name")),
			mcp.WithNumber("handshake_id", mcp.Required(), mcp.Description("Handshake id from the [HANDSHAKE] message")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			agent, err := requireString(args, "agent")
			if err != nil {
				return toolError(logger, "ack_handshake", err)
			}
			id, err := requireFloat64(args, "handshake_id")
			if err != nil {
				return toolError(logger, "ack_handshake", err)
			}
			res, err := svc.Handshakes.Ack(agent, int(id))
			if err != nil {
				return toolError(logger, "ack_handshake", err)
			}
			if res.Completed {
				logger.Printf("Handshake #%d COMPLETE (last ack: %s)", res.ID, agent)
				return mcp.NewToolResultText(fmt.Sprintf(
					"Handshake #%d COMPLETE. All agents synced.", res.ID)), nil
			}
			return mcp.NewToolResultText(fmt.Sprintf(
				"ACK recorded for handshake #%d. Still waiting on: %s",
				res.ID, strings.Join(res.Pending, ", "))), nil
		},
	)
}

// registerHandshakeStatus registers the handshake_status tool.
func registerHandshakeStatus(s *server.MCPServer, svc *app.Service, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("handshake_status",
			mcp.WithDescription("Show a handshake's ACK set and which agents are still outstanding."),
			mcp.WithNumber("handshake_id", mcp.Required(), mcp.Description("Handshake id")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			id, err := requireFloat64(req.GetArguments(), "handshake_id")
			if err != nil {
				return toolError(logger, "handshake_status", err)
			}
			st, err := svc.Handshakes.Status(int(id))
			if err != nil {
				return toolError(logger, "handshake_status", err)
			}
			acks := st.Acks
			if acks == nil {
				acks = []domain.HandshakeAck{}
			}
			pending := st.Pending
			if pending == nil {
				pending = []string{}
			}
			return jsonResult(map[string]any{
				"id":         st.Handshake.ID,
				"initiator":  st.Handshake.Initiator,
				"status":     st.Handshake.Status,
				"created_at": st.Handshake.CreatedAt,
				"acks":       acks,
				"pending":    pending,
			})
		},
	)
}
