package store

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/jaakkos/deaddrop/internal/domain"
)

const messageCols = "id, from_agent, to_agent, content, timestamp, read_flag, is_cc, cc_original_to, task_id, reply_to"

func scanMessage(row interface{ Scan(...any) error }) (domain.Message, error) {
	var m domain.Message
	var ts string
	var read, cc int
	if err := row.Scan(&m.ID, &m.From, &m.To, &m.Content, &ts,
		&read, &cc, &m.CCOriginalTo, &m.TaskID, &m.ReplyTo); err != nil {
		return domain.Message{}, err
	}
	m.Read = read != 0
	m.IsCC = cc != 0
	var err error
	if m.Timestamp, err = parseTime(ts, fmt.Sprintf("message %d", m.ID)); err != nil {
		return domain.Message{}, err
	}
	return m, nil
}

// insertMessage writes one delivery row and returns its id. Shared by sends,
// task auto-notifications, handshakes and contract broadcasts.
func insertMessage(q dbtx, m domain.Message) (int, error) {
	cc := 0
	if m.IsCC {
		cc = 1
	}
	res, err := q.Exec(`
		INSERT INTO messages (from_agent, to_agent, content, timestamp, is_cc, cc_original_to, task_id, reply_to)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.From, m.To, m.Content, fmtTime(m.Timestamp), cc, m.CCOriginalTo, m.TaskID, m.ReplyTo)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return int(id), nil
}

// unreadFor counts an agent's deliverable unread mail: unread direct rows
// addressed to any of its name variants plus broadcasts from others it has
// not yet consumed. Senders are unique, in first-seen order.
func unreadFor(q dbtx, agent string) (int, []string, error) {
	names, err := inboxNames(q, agent)
	if err != nil {
		return 0, nil, err
	}
	args := make([]any, 0, 2*len(names))
	for _, n := range names {
		args = append(args, n)
	}
	ph := placeholders(len(names))

	query := fmt.Sprintf(`
		SELECT from_agent FROM messages WHERE to_agent IN (%s) AND read_flag = 0
		UNION ALL
		SELECT from_agent FROM messages
		WHERE to_agent = 'all' AND from_agent NOT IN (%s)
		  AND id NOT IN (SELECT message_id FROM broadcast_reads WHERE agent_name IN (%s))`,
		ph, ph, ph)
	for i := 0; i < 2; i++ {
		for _, n := range names {
			args = append(args, n)
		}
	}
	rows, err := q.Query(query, args...)
	if err != nil {
		return 0, nil, fmt.Errorf("unread count: %w", err)
	}
	defer rows.Close()

	count := 0
	seen := map[string]bool{}
	var senders []string
	for rows.Next() {
		var from string
		if err := rows.Scan(&from); err != nil {
			return 0, nil, fmt.Errorf("unread count: %w", err)
		}
		count++
		if !seen[from] {
			seen[from] = true
			senders = append(senders, from)
		}
	}
	return count, senders, rows.Err()
}

// UnreadFor is the exported unread summary used by the notifier and the
// per-session tool description rewrite.
func (s *Store) UnreadFor(agent string) (int, []string, error) {
	return unreadFor(s.db, agent)
}

// SendRequest carries one send call.
type SendRequest struct {
	From    string
	To      string
	Content string
	CC      []string
	TaskID  string
	ReplyTo int
}

// SendResult reports what a committed send produced: the primary row id, the
// resolved recipient, and the CC recipients that got their own rows.
type SendResult struct {
	ID        int
	To        string
	CC        []string
	Broadcast bool
	Timestamp time.Time
}

// Send delivers a message. The unread gate runs first: a sender with any
// unread mail is refused before any row is written. The effective CC set is
// the explicit list plus every registered lead, minus the sender and the
// primary recipient; each CC recipient gets its own row sharing the primary
// row's timestamp.
func (s *Store) Send(req SendRequest) (SendResult, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return SendResult{}, fmt.Errorf("send: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	ts := fmtTime(now)
	if err := ensureAgent(tx, req.From, ts); err != nil {
		return SendResult{}, fmt.Errorf("send: %w", err)
	}

	count, _, err := unreadFor(tx, req.From)
	if err != nil {
		return SendResult{}, fmt.Errorf("send: %w", err)
	}
	if count > 0 {
		return SendResult{}, &domain.UnreadBlockedError{Count: count}
	}

	to, err := resolveRecipient(tx, req.To)
	if err != nil {
		return SendResult{}, err
	}

	taskID := req.TaskID
	if req.ReplyTo > 0 && taskID == "" {
		// Replies inherit the thread's task link.
		if err := tx.QueryRow("SELECT task_id FROM messages WHERE id = ?", req.ReplyTo).Scan(&taskID); err != nil {
			taskID = ""
		}
	}

	primary := domain.Message{
		From: req.From, To: to, Content: req.Content,
		Timestamp: now, TaskID: taskID, ReplyTo: req.ReplyTo,
	}
	id, err := insertMessage(tx, primary)
	if err != nil {
		return SendResult{}, fmt.Errorf("send: %w", err)
	}
	if to != domain.Broadcast {
		if err := ensureAgent(tx, to, ts); err != nil {
			return SendResult{}, fmt.Errorf("send: %w", err)
		}
	}

	leads, err := leadNames(tx)
	if err != nil {
		return SendResult{}, fmt.Errorf("send: %w", err)
	}
	ccSet := map[string]bool{}
	var ccs []string
	addCC := func(name string) error {
		resolved, err := resolveRecipient(tx, name)
		if err != nil {
			return err
		}
		if resolved == "" || resolved == req.From || resolved == to || ccSet[resolved] {
			return nil
		}
		ccSet[resolved] = true
		ccs = append(ccs, resolved)
		return nil
	}
	for _, c := range req.CC {
		if err := addCC(c); err != nil {
			return SendResult{}, err
		}
	}
	for _, lead := range leads {
		if err := addCC(lead); err != nil {
			return SendResult{}, err
		}
	}
	for _, cc := range ccs {
		if err := ensureAgent(tx, cc, ts); err != nil {
			return SendResult{}, fmt.Errorf("send: %w", err)
		}
		row := domain.Message{
			From: req.From, To: cc, Content: req.Content,
			Timestamp: now, IsCC: true, CCOriginalTo: to,
			TaskID: taskID, ReplyTo: req.ReplyTo,
		}
		if _, err := insertMessage(tx, row); err != nil {
			return SendResult{}, fmt.Errorf("send cc: %w", err)
		}
	}

	if _, err := tx.Exec("UPDATE agents SET last_seen = ? WHERE name = ?", ts, req.From); err != nil {
		return SendResult{}, fmt.Errorf("send: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return SendResult{}, fmt.Errorf("send: %w", err)
	}
	return SendResult{
		ID: id, To: to, CC: ccs,
		Broadcast: to == domain.Broadcast, Timestamp: now,
	}, nil
}

// CheckInbox drains an agent's unread mail: direct rows to any name variant
// plus unconsumed broadcasts, oldest first. Read marks and broadcast-read
// rows are written in the same transaction that selects them, so a second
// call returns nothing until new mail arrives.
func (s *Store) CheckInbox(agent string) ([]domain.Message, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("check inbox: %w", err)
	}
	defer tx.Rollback()

	ts := fmtTime(time.Now())
	if err := ensureAgent(tx, agent, ts); err != nil {
		return nil, fmt.Errorf("check inbox: %w", err)
	}
	names, err := inboxNames(tx, agent)
	if err != nil {
		return nil, fmt.Errorf("check inbox: %w", err)
	}
	nameArgs := make([]any, len(names))
	for i, n := range names {
		nameArgs[i] = n
	}
	ph := placeholders(len(names))

	rows, err := tx.Query(fmt.Sprintf(
		"SELECT "+messageCols+" FROM messages WHERE to_agent IN (%s) AND read_flag = 0 ORDER BY id", ph),
		nameArgs...)
	if err != nil {
		return nil, fmt.Errorf("check inbox: %w", err)
	}
	var inbox []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("check inbox: %w", err)
		}
		if m.IsCC {
			m.CCNote = "[CC] originally to: " + m.CCOriginalTo
		}
		inbox = append(inbox, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("check inbox: %w", err)
	}
	rows.Close()

	if len(inbox) > 0 {
		if _, err := tx.Exec(fmt.Sprintf(
			"UPDATE messages SET read_flag = 1 WHERE to_agent IN (%s) AND read_flag = 0", ph),
			nameArgs...); err != nil {
			return nil, fmt.Errorf("check inbox: %w", err)
		}
	}

	bArgs := make([]any, 0, 2*len(names))
	bArgs = append(bArgs, nameArgs...)
	bArgs = append(bArgs, nameArgs...)
	rows, err = tx.Query(fmt.Sprintf(`
		SELECT `+messageCols+` FROM messages
		WHERE to_agent = 'all' AND from_agent NOT IN (%s)
		  AND id NOT IN (SELECT message_id FROM broadcast_reads WHERE agent_name IN (%s))
		ORDER BY id`, ph, ph), bArgs...)
	if err != nil {
		return nil, fmt.Errorf("check inbox: %w", err)
	}
	var broadcasts []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("check inbox: %w", err)
		}
		broadcasts = append(broadcasts, m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("check inbox: %w", err)
	}
	rows.Close()

	for _, m := range broadcasts {
		if _, err := tx.Exec("INSERT OR IGNORE INTO broadcast_reads (agent_name, message_id) VALUES (?, ?)",
			agent, m.ID); err != nil {
			return nil, fmt.Errorf("check inbox: %w", err)
		}
	}

	if _, err := tx.Exec("UPDATE agents SET last_inbox_check = ?, last_seen = ? WHERE name = ?",
		ts, ts, agent); err != nil {
		return nil, fmt.Errorf("check inbox: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("check inbox: %w", err)
	}

	all := append(inbox, broadcasts...)
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return all, nil
}

// History returns the newest count messages, optionally filtered by task id,
// presented oldest first.
func (s *Store) History(count int, taskID string) ([]domain.Message, error) {
	if count <= 0 {
		count = 20
	}
	var query string
	var args []any
	if taskID != "" {
		query = "SELECT " + messageCols + " FROM messages WHERE task_id = ? ORDER BY id DESC LIMIT ?"
		args = []any{taskID, count}
	} else {
		query = "SELECT " + messageCols + " FROM messages ORDER BY id DESC LIMIT ?"
		args = []any{count}
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()
	var out []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	// newest-first from the index scan; flip to chronological
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// MessageStats summarizes the message table for archive indexing: total row
// count and the timestamp range. Zero times mean an empty table.
func (s *Store) MessageStats() (int, time.Time, time.Time, error) {
	var count int
	var first, last sql.NullString
	err := s.db.QueryRow("SELECT COUNT(*), MIN(timestamp), MAX(timestamp) FROM messages").
		Scan(&count, &first, &last)
	if err != nil {
		return 0, time.Time{}, time.Time{}, fmt.Errorf("message stats: %w", err)
	}
	firstAt, err := parseTime(first.String, "message stats")
	if err != nil {
		return 0, time.Time{}, time.Time{}, err
	}
	lastAt, err := parseTime(last.String, "message stats")
	if err != nil {
		return 0, time.Time{}, time.Time{}, err
	}
	return count, firstAt, lastAt, nil
}

// PruneMessages trims read direct messages, first by age and then down to the
// retention cap. Unread rows and broadcasts are never pruned. Returns the
// number of rows deleted.
func (s *Store) PruneMessages(maxCount, maxDays int) (int, error) {
	deleted := 0
	if maxDays > 0 {
		cutoff := fmtTime(time.Now().AddDate(0, 0, -maxDays))
		res, err := s.db.Exec(
			"DELETE FROM messages WHERE read_flag = 1 AND to_agent != 'all' AND timestamp < ?", cutoff)
		if err != nil {
			return deleted, fmt.Errorf("prune by age: %w", err)
		}
		n, _ := res.RowsAffected()
		deleted += int(n)
	}
	if maxCount > 0 {
		res, err := s.db.Exec(`
			DELETE FROM messages WHERE read_flag = 1 AND to_agent != 'all' AND id IN (
				SELECT id FROM messages WHERE read_flag = 1 AND to_agent != 'all'
				ORDER BY id DESC LIMIT -1 OFFSET ?)`, maxCount)
		if err != nil {
			return deleted, fmt.Errorf("prune by count: %w", err)
		}
		n, _ := res.RowsAffected()
		deleted += int(n)
	}
	return deleted, nil
}
