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

// registerCreateTask registers the create_task tool.
func registerCreateTask(s *server.MCPServer, svc *app.Service, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("create_task",
			mcp.WithDescription("Create a task. With assign_to it starts assigned and the assignee is notified; otherwise it starts pending."),
			mcp.WithString("creator", mcp.Required(), mcp.Description("Your agent name")),
			mcp.WithString("title", mcp.Required(), mcp.Description("Short task title")),
			mcp.WithString("description", mcp.Description("Longer task description")),
			mcp.WithString("assign_to", mcp.Description("Agent to assign the task to")),
			mcp.WithString("project", mcp.Description("Project tag for filtering")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			creator, err := requireString(args, "creator")
			if err != nil {
				return toolError(logger, "create_task", err)
			}
			title, err := requireString(args, "title")
			if err != nil {
				return toolError(logger, "create_task", err)
			}
			res, err := svc.Tasks.Create(creator, title,
				optionalString(args, "description"),
				optionalString(args, "assign_to"),
				optionalString(args, "project"))
			if err != nil {
				return toolError(logger, "create_task", err)
			}
			t := res.Task
			logger.Printf("Task created: %s (%s) by %s", t.ID, t.Status, creator)
			text := fmt.Sprintf("Task %s created (status: %s).", t.ID, t.Status)
			if t.AssignedTo != "" {
				text = fmt.Sprintf("Task %s created and assigned to '%s'.", t.ID, t.AssignedTo)
			}
			return mcp.NewToolResultText(text), nil
		},
	)
}

// registerUpdateTask registers the update_task tool.
func registerUpdateTask(s *server.MCPServer, svc *app.Service, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("update_task",
			mcp.WithDescription("Move a task through its lifecycle: pending→assigned, assigned→in_progress, in_progress→review/failed, review→completed/in_progress, failed→assigned. Leads drive assignment and review outcomes; the assignee drives progress."),
			mcp.WithString("agent", mcp.Required(), mcp.Description("Your agent name")),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id (e.g. 'TASK-003')")),
			mcp.WithString("status", mcp.Required(), mcp.Description("New status")),
			mcp.WithString("result", mcp.Description("Optional result text to store on the task")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			agent, err := requireString(args, "agent")
			if err != nil {
				return toolError(logger, "update_task", err)
			}
			taskID, err := requireString(args, "task_id")
			if err != nil {
				return toolError(logger, "update_task", err)
			}
			status, err := requireString(args, "status")
			if err != nil {
				return toolError(logger, "update_task", err)
			}
			res, err := svc.Tasks.Update(agent, taskID, status, optionalString(args, "result"))
			if err != nil {
				return toolError(logger, "update_task", err)
			}
			logger.Printf("Task %s: %s → %s (by %s)", taskID, res.OldStatus, status, agent)
			return mcp.NewToolResultText(
				fmt.Sprintf("Task %s updated: %s → %s", taskID, res.OldStatus, res.Task.Status)), nil
		},
	)
}

// registerListTasks registers the list_tasks tool.
func registerListTasks(s *server.MCPServer, svc *app.Service, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("list_tasks",
			mcp.WithDescription("List tasks, oldest first, optionally filtered. In-progress tasks whose assignee stopped heartbeating carry a warning."),
			mcp.WithString("status", mcp.Description("Filter by status")),
			mcp.WithString("assignee", mcp.Description("Filter by assignee")),
			mcp.WithString("project", mcp.Description("Filter by project tag")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			tasks, err := svc.Tasks.List(
				optionalString(args, "status"),
				optionalString(args, "assignee"),
				optionalString(args, "project"))
			if err != nil {
				return toolError(logger, "list_tasks", err)
			}
			if tasks == nil {
				tasks = []domain.Task{}
			}
			return jsonResult(tasks)
		},
	)
}

// registerSubmitForReview registers the submit_for_review tool.
func registerSubmitForReview(s *server.MCPServer, svc *app.Service, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("submit_for_review",
			mcp.WithDescription("Submit your in-progress task for lead review with a structured summary of what you did."),
			mcp.WithString("agent", mcp.Required(), mcp.Description("Your agent name (must be the assignee)")),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id")),
			mcp.WithString("summary", mcp.Required(), mcp.Description("What was done")),
			mcp.WithString("files_changed", mcp.Description("Files touched")),
			mcp.WithString("test_results", mcp.Description("Test outcome")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			agent, err := requireString(args, "agent")
			if err != nil {
				return toolError(logger, "submit_for_review", err)
			}
			taskID, err := requireString(args, "task_id")
			if err != nil {
				return toolError(logger, "submit_for_review", err)
			}
			summary, err := requireString(args, "summary")
			if err != nil {
				return toolError(logger, "submit_for_review", err)
			}
			res, err := svc.Tasks.SubmitForReview(agent, taskID, domain.ReviewPayload{
				Summary:      summary,
				FilesChanged: optionalString(args, "files_changed"),
				TestResults:  optionalString(args, "test_results"),
			})
			if err != nil {
				return toolError(logger, "submit_for_review", err)
			}
			logger.Printf("Task %s submitted for review by %s", taskID, agent)
			return mcp.NewToolResultText(
				fmt.Sprintf("Task %s submitted for review (%d lead(s) notified).", taskID, len(res.Recipients))), nil
		},
	)
}

// registerApproveTask registers the approve_task tool.
func registerApproveTask(s *server.MCPServer, svc *app.Service, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("approve_task",
			mcp.WithDescription("Approve a task under review, completing it. Lead-only."),
			mcp.WithString("agent", mcp.Required(), mcp.Description("Your agent name")),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id")),
			mcp.WithString("notes", mcp.Description("Optional approval notes for the assignee")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			agent, err := requireString(args, "agent")
			if err != nil {
				return toolError(logger, "approve_task", err)
			}
			taskID, err := requireString(args, "task_id")
			if err != nil {
				return toolError(logger, "approve_task", err)
			}
			if _, err := svc.Tasks.Approve(agent, taskID, optionalString(args, "notes")); err != nil {
				return toolError(logger, "approve_task", err)
			}
			logger.Printf("Task %s approved by %s", taskID, agent)
			return mcp.NewToolResultText(fmt.Sprintf("Task %s approved and completed.", taskID)), nil
		},
	)
}

// registerRejectTask registers the reject_task tool.
func registerRejectTask(s *server.MCPServer, svc *app.Service, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("reject_task",
			mcp.WithDescription("Send a task under review back to in_progress for rework. Lead-only."),
			mcp.WithString("agent", mcp.Required(), mcp.Description("Your agent name")),
			mcp.WithString("task_id", mcp.Required(), mcp.Description("Task id")),
			mcp.WithString("reason", mcp.Description("Why the work needs another pass")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			agent, err := requireString(args, "agent")
			if err != nil {
				return toolError(logger, "reject_task", err)
			}
			taskID, err := requireString(args, "task_id")
			if err != nil {
				return toolError(logger, "reject_task", err)
			}
			if _, err := svc.Tasks.Reject(agent, taskID, optionalString(args, "reason")); err != nil {
				return toolError(logger, "reject_task", err)
			}
			logger.Printf("Task %s rejected by %s", taskID, agent)
			return mcp.NewToolResultText(
				fmt.Sprintf("Task %s rejected; back to in_progress.", taskID)), nil
		},
	)
}
