package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jaakkos/deaddrop/internal/domain"
)

// HandshakeResult reports a committed handshake mutation plus push targets.
type HandshakeResult struct {
	ID         int
	Targets    []string
	Completed  bool
	Pending    []string
	Recipients []string
}

// InitiateHandshake starts an ACK barrier: one [HANDSHAKE] message per
// target, anchored by the first inserted row. Lead-only. An empty target
// list means every registered agent other than the initiator.
func (s *Store) InitiateHandshake(initiator, body string, targets []string) (HandshakeResult, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return HandshakeResult{}, fmt.Errorf("initiate handshake: %w", err)
	}
	defer tx.Rollback()

	if err := requireLead(tx, initiator); err != nil {
		return HandshakeResult{}, err
	}

	now := time.Now()
	ts := fmtTime(now)
	if err := ensureAgent(tx, initiator, ts); err != nil {
		return HandshakeResult{}, fmt.Errorf("initiate handshake: %w", err)
	}

	var resolved []string
	if len(targets) == 0 {
		rows, err := tx.Query("SELECT name FROM agents WHERE name != ? ORDER BY name", initiator)
		if err != nil {
			return HandshakeResult{}, fmt.Errorf("initiate handshake: %w", err)
		}
		for rows.Next() {
			var n string
			if err := rows.Scan(&n); err != nil {
				rows.Close()
				return HandshakeResult{}, fmt.Errorf("initiate handshake: %w", err)
			}
			resolved = append(resolved, n)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return HandshakeResult{}, fmt.Errorf("initiate handshake: %w", err)
		}
		rows.Close()
	} else {
		seen := map[string]bool{}
		for _, t := range targets {
			name, err := resolveRecipient(tx, t)
			if err != nil {
				return HandshakeResult{}, err
			}
			if name == initiator || seen[name] {
				continue
			}
			seen[name] = true
			if err := ensureAgent(tx, name, ts); err != nil {
				return HandshakeResult{}, fmt.Errorf("initiate handshake: %w", err)
			}
			resolved = append(resolved, name)
		}
	}

	content := "[HANDSHAKE] " + body
	firstID := 0
	for _, target := range resolved {
		id, err := insertMessage(tx, domain.Message{
			From: initiator, To: target, Content: content, Timestamp: now,
		})
		if err != nil {
			return HandshakeResult{}, fmt.Errorf("initiate handshake: %w", err)
		}
		if firstID == 0 {
			firstID = id
		}
	}

	res, err := tx.Exec(
		"INSERT INTO handshakes (initiator, message_id, status, created_at) VALUES (?, ?, ?, ?)",
		initiator, firstID, domain.HandshakePending, ts)
	if err != nil {
		return HandshakeResult{}, fmt.Errorf("initiate handshake: %w", err)
	}
	hid, err := res.LastInsertId()
	if err != nil {
		return HandshakeResult{}, fmt.Errorf("initiate handshake: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return HandshakeResult{}, fmt.Errorf("initiate handshake: %w", err)
	}
	return HandshakeResult{ID: int(hid), Targets: resolved}, nil
}

// handshakePending computes the registered non-initiators that have not yet
// ACKed.
func handshakePending(q dbtx, id int, initiator string) ([]string, error) {
	rows, err := q.Query(`
		SELECT name FROM agents
		WHERE name != ? AND name NOT IN (SELECT agent FROM handshake_acks WHERE handshake_id = ?)
		ORDER BY name`, initiator, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var pending []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		pending = append(pending, n)
	}
	return pending, rows.Err()
}

// AckHandshake records one agent's ACK and re-evaluates the barrier. When
// the last registered non-initiator ACKs, the handshake completes and the
// initiator plus every lead get a system-originated sync notice.
func (s *Store) AckHandshake(acker string, id int) (HandshakeResult, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return HandshakeResult{}, fmt.Errorf("ack handshake: %w", err)
	}
	defer tx.Rollback()

	var initiator, status string
	err = tx.QueryRow("SELECT initiator, status FROM handshakes WHERE id = ?", id).Scan(&initiator, &status)
	if err == sql.ErrNoRows {
		return HandshakeResult{}, fmt.Errorf("handshake %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return HandshakeResult{}, fmt.Errorf("ack handshake: %w", err)
	}
	if status == domain.HandshakeCompleted {
		return HandshakeResult{}, fmt.Errorf("handshake %d is already completed", id)
	}
	var dup int
	if err := tx.QueryRow("SELECT COUNT(*) FROM handshake_acks WHERE handshake_id = ? AND agent = ?",
		id, acker).Scan(&dup); err != nil {
		return HandshakeResult{}, fmt.Errorf("ack handshake: %w", err)
	}
	if dup > 0 {
		return HandshakeResult{}, fmt.Errorf("agent %q has already acknowledged handshake %d", acker, id)
	}

	now := time.Now()
	ts := fmtTime(now)
	if err := ensureAgent(tx, acker, ts); err != nil {
		return HandshakeResult{}, fmt.Errorf("ack handshake: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO handshake_acks (handshake_id, agent, acked_at) VALUES (?, ?, ?)",
		id, acker, ts); err != nil {
		return HandshakeResult{}, fmt.Errorf("ack handshake: %w", err)
	}

	pending, err := handshakePending(tx, id, initiator)
	if err != nil {
		return HandshakeResult{}, fmt.Errorf("ack handshake: %w", err)
	}
	out := HandshakeResult{ID: id, Pending: pending}
	if len(pending) == 0 {
		if _, err := tx.Exec("UPDATE handshakes SET status = ? WHERE id = ?",
			domain.HandshakeCompleted, id); err != nil {
			return HandshakeResult{}, fmt.Errorf("ack handshake: %w", err)
		}
		out.Completed = true

		leads, err := leadNames(tx)
		if err != nil {
			return HandshakeResult{}, fmt.Errorf("ack handshake: %w", err)
		}
		notify := append([]string{initiator}, leads...)
		seen := map[string]bool{}
		body := fmt.Sprintf("[HANDSHAKE #%d] ALL AGENTS SYNCED. Ready for GO signal.", id)
		for _, name := range notify {
			if seen[name] {
				continue
			}
			seen[name] = true
			if _, err := insertMessage(tx, domain.Message{
				From: domain.System, To: name, Content: body, Timestamp: now,
			}); err != nil {
				return HandshakeResult{}, fmt.Errorf("ack handshake: %w", err)
			}
			out.Recipients = append(out.Recipients, name)
		}
	}

	if err := tx.Commit(); err != nil {
		return HandshakeResult{}, fmt.Errorf("ack handshake: %w", err)
	}
	return out, nil
}

// HandshakeStatus is the full barrier state for one handshake.
type HandshakeStatus struct {
	Handshake domain.Handshake
	Acks      []domain.HandshakeAck
	Pending   []string
}

// GetHandshakeStatus reports a handshake's ACK set and outstanding agents.
func (s *Store) GetHandshakeStatus(id int) (HandshakeStatus, error) {
	var st HandshakeStatus
	var created string
	err := s.db.QueryRow(
		"SELECT id, initiator, message_id, status, created_at FROM handshakes WHERE id = ?", id).
		Scan(&st.Handshake.ID, &st.Handshake.Initiator, &st.Handshake.MessageID,
			&st.Handshake.Status, &created)
	if err == sql.ErrNoRows {
		return HandshakeStatus{}, fmt.Errorf("handshake %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return HandshakeStatus{}, fmt.Errorf("handshake status: %w", err)
	}
	if st.Handshake.CreatedAt, err = parseTime(created, fmt.Sprintf("handshake %d", id)); err != nil {
		return HandshakeStatus{}, err
	}

	rows, err := s.db.Query(
		"SELECT handshake_id, agent, acked_at FROM handshake_acks WHERE handshake_id = ? ORDER BY acked_at, agent", id)
	if err != nil {
		return HandshakeStatus{}, fmt.Errorf("handshake status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ack domain.HandshakeAck
		var acked string
		if err := rows.Scan(&ack.HandshakeID, &ack.Agent, &acked); err != nil {
			return HandshakeStatus{}, fmt.Errorf("handshake status: %w", err)
		}
		if ack.AckedAt, err = parseTime(acked, "handshake ack"); err != nil {
			return HandshakeStatus{}, err
		}
		st.Acks = append(st.Acks, ack)
	}
	if err := rows.Err(); err != nil {
		return HandshakeStatus{}, fmt.Errorf("handshake status: %w", err)
	}

	if st.Pending, err = handshakePending(s.db, id, st.Handshake.Initiator); err != nil {
		return HandshakeStatus{}, fmt.Errorf("handshake status: %w", err)
	}
	return st, nil
}
