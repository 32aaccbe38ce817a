package collab

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/jaakkos/deaddrop/internal/domain"
)

func TestCreateTaskTool(t *testing.T) {
	s := testServer(testService(t))
	mustCall(t, s, "register", map[string]any{"name": "boss", "role": "lead"})
	mustCall(t, s, "register", map[string]any{"name": "alice", "role": "coder"})

	text := mustCall(t, s, "create_task", map[string]any{
		"creator": "boss", "title": "build the parser", "assign_to": "alice",
	})
	if text != "Task TASK-001 created and assigned to 'alice'." {
		t.Errorf("text = %q", text)
	}

	text = mustCall(t, s, "create_task", map[string]any{
		"creator": "boss", "title": "backlog item",
	})
	if text != "Task TASK-002 created (status: pending)." {
		t.Errorf("text = %q", text)
	}
}

func TestTaskReviewFlowTools(t *testing.T) {
	s := testServer(testService(t))
	mustCall(t, s, "register", map[string]any{"name": "boss", "role": "lead"})
	mustCall(t, s, "register", map[string]any{"name": "alice", "role": "coder"})
	mustCall(t, s, "create_task", map[string]any{
		"creator": "boss", "title": "t", "assign_to": "alice",
	})
	mustCall(t, s, "check_inbox", map[string]any{"agent": "alice"})

	text := mustCall(t, s, "update_task", map[string]any{
		"agent": "alice", "task_id": "TASK-001", "status": "in_progress",
	})
	if text != "Task TASK-001 updated: assigned → in_progress" {
		t.Errorf("text = %q", text)
	}

	text = mustCall(t, s, "submit_for_review", map[string]any{
		"agent": "alice", "task_id": "TASK-001",
		"summary": "done", "files_changed": "a.go", "test_results": "pass",
	})
	if text != "Task TASK-001 submitted for review (1 lead(s) notified)." {
		t.Errorf("text = %q", text)
	}

	text = mustCall(t, s, "reject_task", map[string]any{
		"agent": "boss", "task_id": "TASK-001", "reason": "more tests",
	})
	if text != "Task TASK-001 rejected; back to in_progress." {
		t.Errorf("text = %q", text)
	}

	mustCall(t, s, "submit_for_review", map[string]any{
		"agent": "alice", "task_id": "TASK-001", "summary": "now with tests",
	})
	text = mustCall(t, s, "approve_task", map[string]any{
		"agent": "boss", "task_id": "TASK-001", "notes": "ship it",
	})
	if text != "Task TASK-001 approved and completed." {
		t.Errorf("text = %q", text)
	}
}

func TestUpdateTaskToolReportsInvalidTransition(t *testing.T) {
	s := testServer(testService(t))
	mustCall(t, s, "register", map[string]any{"name": "boss", "role": "lead"})
	mustCall(t, s, "register", map[string]any{"name": "alice", "role": "coder"})
	mustCall(t, s, "create_task", map[string]any{
		"creator": "boss", "title": "t", "assign_to": "alice",
	})

	// assigned → completed skips the machine; the error names the legal edge.
	text := mustCall(t, s, "update_task", map[string]any{
		"agent": "alice", "task_id": "TASK-001", "status": "completed",
	})
	if !strings.HasPrefix(text, "Error: invalid transition for TASK-001") ||
		!strings.Contains(text, "valid next states: in_progress") {
		t.Errorf("text = %q", text)
	}
}

func TestListTasksTool(t *testing.T) {
	s := testServer(testService(t))
	mustCall(t, s, "register", map[string]any{"name": "boss", "role": "lead"})
	mustCall(t, s, "create_task", map[string]any{"creator": "boss", "title": "a", "project": "p1"})
	mustCall(t, s, "create_task", map[string]any{"creator": "boss", "title": "b", "project": "p2"})

	text := mustCall(t, s, "list_tasks", map[string]any{"project": "p2"})
	var tasks []domain.Task
	if err := json.Unmarshal([]byte(text), &tasks); err != nil {
		t.Fatalf("list not JSON: %v\n%s", err, text)
	}
	if len(tasks) != 1 || tasks[0].Title != "b" {
		t.Errorf("tasks = %+v", tasks)
	}

	text = mustCall(t, s, "list_tasks", map[string]any{"status": "completed"})
	if text != "[]" {
		t.Errorf("empty filter = %q, want []", text)
	}
}
