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
	"github.com/jaakkos/deaddrop/internal/store"
)

// registerSend registers the send tool.
func registerSend(s *server.MCPServer, svc *app.Service, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("send",
			mcp.WithDescription("Send a message to another agent, or to 'all' for a broadcast. You must have an empty inbox first; registered leads are auto-CCed."),
			mcp.WithString("from", mcp.Required(), mcp.Description("Your agent name")),
			mcp.WithString("to", mcp.Required(), mcp.Description("Recipient name, '<team>/<name>', or 'all'")),
			mcp.WithString("content", mcp.Required(), mcp.Description("Message body")),
			mcp.WithArray("cc", mcp.Description("Extra recipients that get their own CC copy")),
			mcp.WithString("task_id", mcp.Description("Task to link this message to (e.g. 'TASK-003')")),
			mcp.WithNumber("reply_to", mcp.Description("Message id this replies to; inherits its task link")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			from, err := requireString(args, "from")
			if err != nil {
				return toolError(logger, "send", err)
			}
			to, err := requireString(args, "to")
			if err != nil {
				return toolError(logger, "send", err)
			}
			content, err := requireString(args, "content")
			if err != nil {
				return toolError(logger, "send", err)
			}
			res, err := svc.Messages.Send(store.SendRequest{
				From:    from,
				To:      to,
				Content: content,
				CC:      optionalStringList(args, "cc"),
				TaskID:  optionalString(args, "task_id"),
				ReplyTo: int(optionalFloat64(args, "reply_to", 0)),
			})
			if err != nil {
				return toolError(logger, "send", err)
			}
			logger.Printf("Message #%d sent from %s to %s (cc=%d)", res.ID, from, res.To, len(res.CC))
			ccNote := ""
			if len(res.CC) > 0 {
				ccNote = " (CC: " + strings.Join(res.CC, ", ") + ")"
			}
			return mcp.NewToolResultText(
				fmt.Sprintf("Message sent from '%s' to '%s'%s.", from, res.To, ccNote)), nil
		},
	)
}

// registerCheckInbox registers the check_inbox tool. Its description is the
// carrier for the per-session unread alert; see UnreadToolFilter.
func registerCheckInbox(s *server.MCPServer, svc *app.Service, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("check_inbox",
			mcp.WithDescription(checkInboxDescription),
			mcp.WithString("agent", mcp.Required(), mcp.Description("Your agent name")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			agent, err := requireString(req.GetArguments(), "agent")
			if err != nil {
				return toolError(logger, "check_inbox", err)
			}
			messages, err := svc.Messages.CheckInbox(agent)
			if err != nil {
				return toolError(logger, "check_inbox", err)
			}
			if messages == nil {
				messages = []domain.Message{}
			}
			logger.Printf("Inbox checked by %s: %d message(s)", agent, len(messages))
			return jsonResult(messages)
		},
	)
}

// registerGetHistory registers the get_history tool.
func registerGetHistory(s *server.MCPServer, svc *app.Service, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("get_history",
			mcp.WithDescription("Read recent messages across all agents, oldest first. Does not change read state."),
			mcp.WithNumber("count", mcp.Description("How many messages to return (default 20)")),
			mcp.WithString("task_id", mcp.Description("Only messages linked to this task")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			count := int(optionalFloat64(args, "count", 20))
			messages, err := svc.Messages.History(count, optionalString(args, "task_id"))
			if err != nil {
				return toolError(logger, "get_history", err)
			}
			if messages == nil {
				messages = []domain.Message{}
			}
			return jsonResult(messages)
		},
	)
}
