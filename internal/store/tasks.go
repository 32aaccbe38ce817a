package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jaakkos/deaddrop/internal/domain"
)

const taskCols = "id, project, title, description, assigned_to, created_by, status, result, created_at, updated_at, completed_at"

func scanTask(row interface{ Scan(...any) error }) (domain.Task, error) {
	var t domain.Task
	var created, updated, completed string
	if err := row.Scan(&t.ID, &t.Project, &t.Title, &t.Description, &t.AssignedTo,
		&t.CreatedBy, &t.Status, &t.Result, &created, &updated, &completed); err != nil {
		return domain.Task{}, err
	}
	var err error
	if t.CreatedAt, err = parseTime(created, "task "+t.ID); err != nil {
		return domain.Task{}, err
	}
	if t.UpdatedAt, err = parseTime(updated, "task "+t.ID); err != nil {
		return domain.Task{}, err
	}
	if t.CompletedAt, err = parseTime(completed, "task "+t.ID); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// authLead / authAssignee tag who may drive a transition.
const (
	authLead     = "lead"
	authAssignee = "assignee"
)

type transition struct {
	to   string
	auth string
}

// taskTransitions is the complete state machine. completed is terminal.
var taskTransitions = map[string][]transition{
	domain.TaskPending:    {{domain.TaskAssigned, authLead}},
	domain.TaskAssigned:   {{domain.TaskInProgress, authAssignee}},
	domain.TaskInProgress: {{domain.TaskReview, authAssignee}, {domain.TaskFailed, authAssignee}},
	domain.TaskReview:     {{domain.TaskCompleted, authLead}, {domain.TaskInProgress, authLead}},
	domain.TaskFailed:     {{domain.TaskAssigned, authLead}},
	domain.TaskCompleted:  nil,
}

// requireLead enforces lead authorization. With no lead registered, any
// agent passes (bootstrap rule).
func requireLead(q dbtx, actor string) error {
	leads, err := leadNames(q)
	if err != nil {
		return err
	}
	if len(leads) == 0 {
		return nil
	}
	for _, l := range leads {
		if l == actor {
			return nil
		}
	}
	return &domain.UnauthorizedError{Actor: actor, Need: authLead}
}

// nextTaskID mints TASK-NNN by parsing the largest existing numeric suffix.
func nextTaskID(q dbtx) (string, error) {
	rows, err := q.Query("SELECT id FROM tasks")
	if err != nil {
		return "", err
	}
	defer rows.Close()
	max := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		suffix, ok := strings.CutPrefix(id, "TASK-")
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(suffix); err == nil && n > max {
			max = n
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("TASK-%03d", max+1), nil
}

// TaskResult reports a committed task mutation plus the agents owed a push.
type TaskResult struct {
	Task       domain.Task
	OldStatus  string
	Recipients []string
}

// CreateTask mints the next id and inserts the task. With an assignee the
// task starts assigned and the assignment lands in the assignee's inbox with
// a CC to every other lead; otherwise it starts pending.
func (s *Store) CreateTask(creator, title, description, assignTo, project string) (TaskResult, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return TaskResult{}, fmt.Errorf("create task: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	ts := fmtTime(now)
	if err := ensureAgent(tx, creator, ts); err != nil {
		return TaskResult{}, fmt.Errorf("create task: %w", err)
	}

	assignee := ""
	if assignTo != "" {
		assignee, err = resolveRecipient(tx, assignTo)
		if err != nil {
			return TaskResult{}, err
		}
		if err := ensureAgent(tx, assignee, ts); err != nil {
			return TaskResult{}, fmt.Errorf("create task: %w", err)
		}
	}

	id, err := nextTaskID(tx)
	if err != nil {
		return TaskResult{}, fmt.Errorf("create task: %w", err)
	}
	status := domain.TaskPending
	if assignee != "" {
		status = domain.TaskAssigned
	}
	t := domain.Task{
		ID: id, Project: project, Title: title, Description: description,
		AssignedTo: assignee, CreatedBy: creator, Status: status,
		CreatedAt: now, UpdatedAt: now,
	}
	if _, err := tx.Exec(`
		INSERT INTO tasks (id, project, title, description, assigned_to, created_by, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Project, t.Title, t.Description, t.AssignedTo, t.CreatedBy, t.Status, ts, ts); err != nil {
		return TaskResult{}, fmt.Errorf("create task: %w", err)
	}

	var recipients []string
	if assignee != "" {
		body := fmt.Sprintf("[%s] TASK ASSIGNED: %s", id, title)
		if description != "" {
			body += "\n\n" + description
		}
		if _, err := insertMessage(tx, domain.Message{
			From: creator, To: assignee, Content: body, Timestamp: now, TaskID: id,
		}); err != nil {
			return TaskResult{}, fmt.Errorf("create task: %w", err)
		}
		recipients = append(recipients, assignee)

		leads, err := leadNames(tx)
		if err != nil {
			return TaskResult{}, fmt.Errorf("create task: %w", err)
		}
		for _, lead := range leads {
			if lead == creator || lead == assignee {
				continue
			}
			if _, err := insertMessage(tx, domain.Message{
				From: creator, To: lead, Content: body, Timestamp: now,
				IsCC: true, CCOriginalTo: assignee, TaskID: id,
			}); err != nil {
				return TaskResult{}, fmt.Errorf("create task: %w", err)
			}
			recipients = append(recipients, lead)
		}
	}

	if err := tx.Commit(); err != nil {
		return TaskResult{}, fmt.Errorf("create task: %w", err)
	}
	return TaskResult{Task: t, Recipients: recipients}, nil
}

// GetTask returns one task by id.
func (s *Store) GetTask(id string) (domain.Task, error) {
	row := s.db.QueryRow("SELECT "+taskCols+" FROM tasks WHERE id = ?", id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return domain.Task{}, fmt.Errorf("task %q: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// transitionTask is the shared read-modify-write core. It validates the edge
// and its authorization, applies the update, and posts the auto-notification
// rows, all in one transaction.
func (s *Store) transitionTask(actor, id, newStatus, result, notifyBody string) (TaskResult, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return TaskResult{}, fmt.Errorf("update task: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow("SELECT "+taskCols+" FROM tasks WHERE id = ?", id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return TaskResult{}, fmt.Errorf("task %q: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return TaskResult{}, fmt.Errorf("update task: %w", err)
	}

	edges := taskTransitions[t.Status]
	var edge *transition
	valid := make([]string, 0, len(edges))
	for i := range edges {
		valid = append(valid, edges[i].to)
		if edges[i].to == newStatus {
			edge = &edges[i]
		}
	}
	if edge == nil {
		return TaskResult{}, &domain.InvalidTransitionError{
			TaskID: id, From: t.Status, To: newStatus, Valid: valid,
		}
	}
	switch edge.auth {
	case authLead:
		if err := requireLead(tx, actor); err != nil {
			return TaskResult{}, err
		}
	case authAssignee:
		if actor != t.AssignedTo {
			return TaskResult{}, &domain.UnauthorizedError{Actor: actor, Need: authAssignee}
		}
	}

	now := time.Now()
	ts := fmtTime(now)
	old := t.Status
	t.Status = newStatus
	t.UpdatedAt = now
	if result != "" {
		t.Result = result
	}
	completed := ""
	if newStatus == domain.TaskCompleted {
		t.CompletedAt = now
		completed = ts
	}
	if _, err := tx.Exec(
		"UPDATE tasks SET status = ?, result = ?, updated_at = ?, completed_at = ? WHERE id = ?",
		t.Status, t.Result, ts, completed, id); err != nil {
		return TaskResult{}, fmt.Errorf("update task: %w", err)
	}

	if notifyBody == "" {
		notifyBody = fmt.Sprintf("[%s] Status: %s → %s", id, old, newStatus)
		if result != "" {
			notifyBody += "\nResult: " + result
		}
	}
	var recipients []string
	if actor == t.AssignedTo {
		// Assignee-driven change: report up to every lead.
		leads, err := leadNames(tx)
		if err != nil {
			return TaskResult{}, fmt.Errorf("update task: %w", err)
		}
		for _, lead := range leads {
			if lead == actor {
				continue
			}
			recipients = append(recipients, lead)
		}
	} else if t.AssignedTo != "" && t.AssignedTo != actor {
		// Lead-driven change: report down to the assignee.
		recipients = append(recipients, t.AssignedTo)
	}
	for _, r := range recipients {
		if _, err := insertMessage(tx, domain.Message{
			From: actor, To: r, Content: notifyBody, Timestamp: now, TaskID: id,
		}); err != nil {
			return TaskResult{}, fmt.Errorf("update task: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return TaskResult{}, fmt.Errorf("update task: %w", err)
	}
	return TaskResult{Task: t, OldStatus: old, Recipients: recipients}, nil
}

// UpdateTask drives one edge of the task state machine.
func (s *Store) UpdateTask(actor, id, newStatus, result string) (TaskResult, error) {
	return s.transitionTask(actor, id, newStatus, result, "")
}

// SubmitForReview stores the structured review payload into result and moves
// the task to review. Only the assignee may submit, and only from
// in_progress; both rules fall out of the transition table.
func (s *Store) SubmitForReview(actor, id string, payload domain.ReviewPayload) (TaskResult, error) {
	blob, err := json.Marshal(payload)
	if err != nil {
		return TaskResult{}, fmt.Errorf("submit for review: %w", err)
	}
	body := fmt.Sprintf("[REVIEW] %s ready for review from %s\n\nSummary: %s", id, actor, payload.Summary)
	if payload.FilesChanged != "" {
		body += "\nFiles changed: " + payload.FilesChanged
	}
	if payload.TestResults != "" {
		body += "\nTest results: " + payload.TestResults
	}
	return s.transitionTask(actor, id, domain.TaskReview, string(blob), body)
}

// ApproveTask completes a task under review.
func (s *Store) ApproveTask(actor, id, notes string) (TaskResult, error) {
	body := fmt.Sprintf("[APPROVED] %s approved by %s", id, actor)
	if notes != "" {
		body += "\nNotes: " + notes
	}
	return s.transitionTask(actor, id, domain.TaskCompleted, "", body)
}

// RejectTask sends a task under review back for rework.
func (s *Store) RejectTask(actor, id, reason string) (TaskResult, error) {
	body := fmt.Sprintf("[REJECTED] %s sent back for rework by %s", id, actor)
	if reason != "" {
		body += "\nReason: " + reason
	}
	return s.transitionTask(actor, id, domain.TaskInProgress, "", body)
}

// ListTasks filters tasks, oldest first. In-progress tasks whose assignee has
// not heartbeat within 10 minutes carry a dead-agent warning.
func (s *Store) ListTasks(status, assignee, project string) ([]domain.Task, error) {
	query := "SELECT " + taskCols + " FROM tasks WHERE 1=1"
	var args []any
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	if assignee != "" {
		query += " AND assigned_to = ?"
		args = append(args, assignee)
	}
	if project != "" {
		query += " AND project = ?"
		args = append(args, project)
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	var out []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	now := time.Now()
	heartbeats := map[string]time.Time{}
	for i, t := range out {
		if t.Status != domain.TaskInProgress || t.AssignedTo == "" {
			continue
		}
		hb, ok := heartbeats[t.AssignedTo]
		if !ok {
			var raw string
			err := s.db.QueryRow("SELECT heartbeat_at FROM agents WHERE name = ?", t.AssignedTo).Scan(&raw)
			if err != nil && err != sql.ErrNoRows {
				return nil, fmt.Errorf("list tasks: %w", err)
			}
			if hb, err = parseTime(raw, "agent "+t.AssignedTo); err != nil {
				return nil, err
			}
			heartbeats[t.AssignedTo] = hb
		}
		if !hb.IsZero() && now.Sub(hb) > 10*time.Minute {
			out[i].Warning = "assigned agent appears dead"
		}
	}
	return out, nil
}
