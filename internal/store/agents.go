package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jaakkos/deaddrop/internal/domain"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx so row helpers can run inside
// or outside a transaction.
type dbtx interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

const agentCols = "name, team, role, description, status, registered_at, last_seen, last_inbox_check, heartbeat_at"

func scanAgent(row interface{ Scan(...any) error }) (domain.Agent, error) {
	var a domain.Agent
	var registered, seen, inbox, heartbeat string
	if err := row.Scan(&a.Name, &a.Team, &a.Role, &a.Description, &a.Status,
		&registered, &seen, &inbox, &heartbeat); err != nil {
		return domain.Agent{}, err
	}
	var err error
	if a.RegisteredAt, err = parseTime(registered, "agent "+a.Name); err != nil {
		return domain.Agent{}, err
	}
	if a.LastSeen, err = parseTime(seen, "agent "+a.Name); err != nil {
		return domain.Agent{}, err
	}
	if a.LastInboxAt, err = parseTime(inbox, "agent "+a.Name); err != nil {
		return domain.Agent{}, err
	}
	if a.HeartbeatAt, err = parseTime(heartbeat, "agent "+a.Name); err != nil {
		return domain.Agent{}, err
	}
	return a, nil
}

// RegisterAgent creates or upgrades an agent record. Re-registration keeps
// the original registered_at and overwrites role, description and team.
func (s *Store) RegisterAgent(name, role, description, team string) (domain.Agent, error) {
	now := fmtTime(time.Now())
	_, err := s.db.Exec(`
		INSERT INTO agents (name, team, role, description, status, registered_at, last_seen)
		VALUES (?, ?, ?, ?, 'online', ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			team = excluded.team,
			role = excluded.role,
			description = excluded.description,
			status = 'online',
			last_seen = excluded.last_seen`,
		name, team, role, description, now, now)
	if err != nil {
		return domain.Agent{}, fmt.Errorf("register agent: %w", err)
	}
	return s.GetAgent(name)
}

// ensureAgent lazily creates a skeletal record for a name seen in traffic.
func ensureAgent(q dbtx, name, ts string) error {
	if name == "" || name == domain.Broadcast || name == domain.System {
		return nil
	}
	_, err := q.Exec(`INSERT OR IGNORE INTO agents (name, registered_at, last_seen) VALUES (?, ?, ?)`,
		name, ts, ts)
	return err
}

// GetAgent returns the agent with the exact stored name.
func (s *Store) GetAgent(name string) (domain.Agent, error) {
	row := s.db.QueryRow("SELECT "+agentCols+" FROM agents WHERE name = ?", name)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return domain.Agent{}, fmt.Errorf("agent %q: %w", name, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Agent{}, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

// Agents returns every known agent sorted by name.
func (s *Store) Agents() ([]domain.Agent, error) {
	rows, err := s.db.Query("SELECT " + agentCols + " FROM agents ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()
	var out []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("list agents: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// SetStatus updates an agent's free-text status and returns the previous one.
func (s *Store) SetStatus(name, status string) (string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("set status: %w", err)
	}
	defer tx.Rollback()

	now := fmtTime(time.Now())
	if err := ensureAgent(tx, name, now); err != nil {
		return "", fmt.Errorf("set status: %w", err)
	}
	var old string
	if err := tx.QueryRow("SELECT status FROM agents WHERE name = ?", name).Scan(&old); err != nil {
		return "", fmt.Errorf("set status: %w", err)
	}
	if _, err := tx.Exec("UPDATE agents SET status = ?, last_seen = ? WHERE name = ?",
		status, now, name); err != nil {
		return "", fmt.Errorf("set status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("set status: %w", err)
	}
	return old, nil
}

// Ping refreshes an agent's heartbeat, creating a skeletal record when the
// name has never been seen.
func (s *Store) Ping(name string) error {
	now := fmtTime(time.Now())
	if err := ensureAgent(s.db, name, now); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if _, err := s.db.Exec("UPDATE agents SET heartbeat_at = ?, last_seen = ? WHERE name = ?",
		now, now, name); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Deregister removes an agent record. Messages survive removal.
func (s *Store) Deregister(name string) (bool, error) {
	res, err := s.db.Exec("DELETE FROM agents WHERE name = ?", name)
	if err != nil {
		return false, fmt.Errorf("deregister: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("deregister: %w", err)
	}
	return n > 0, nil
}

// leadNames returns the names of every registered lead-role agent.
func leadNames(q dbtx) ([]string, error) {
	rows, err := q.Query("SELECT name FROM agents WHERE role = ? ORDER BY name", domain.RoleLead)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var leads []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		leads = append(leads, n)
	}
	return leads, rows.Err()
}

// resolveRecipient canonicalizes a recipient name. A short name that matches
// exactly one stored name (directly, as a team-qualified suffix, or via the
// team column) resolves to that row; multiple matches are an error; zero
// matches pass the name through unchanged for lazy creation.
func resolveRecipient(q dbtx, to string) (string, error) {
	if to == domain.Broadcast {
		return to, nil
	}
	var exact string
	err := q.QueryRow("SELECT name FROM agents WHERE name = ?", to).Scan(&exact)
	if err == nil {
		return exact, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("resolve recipient: %w", err)
	}

	if i := strings.LastIndex(to, "/"); i >= 0 {
		// Qualified form that has no exact row: try the short name with a
		// matching team label.
		team, short := to[:i], to[i+1:]
		var name string
		err := q.QueryRow("SELECT name FROM agents WHERE name = ? AND team = ?", short, team).Scan(&name)
		if err == nil {
			return name, nil
		}
		if err != sql.ErrNoRows {
			return "", fmt.Errorf("resolve recipient: %w", err)
		}
		return to, nil
	}

	rows, err := q.Query(`SELECT name, team FROM agents WHERE name LIKE '%/' || ?`, to)
	if err != nil {
		return "", fmt.Errorf("resolve recipient: %w", err)
	}
	defer rows.Close()
	var matches []string
	for rows.Next() {
		var name, team string
		if err := rows.Scan(&name, &team); err != nil {
			return "", fmt.Errorf("resolve recipient: %w", err)
		}
		if strings.HasSuffix(name, "/"+to) {
			matches = append(matches, name)
		}
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("resolve recipient: %w", err)
	}
	switch len(matches) {
	case 0:
		return to, nil
	case 1:
		return matches[0], nil
	default:
		return "", &domain.AmbiguousRecipientError{Name: to, Matches: matches}
	}
}

// ResolveRecipient is the exported resolution entry point for callers that
// validate a name outside a send.
func (s *Store) ResolveRecipient(to string) (string, error) {
	return resolveRecipient(s.db, to)
}

// inboxNames returns every stored-name variant that addresses the given
// agent: the name itself, its team-qualified form, and its short suffix.
func inboxNames(q dbtx, agent string) ([]string, error) {
	seen := map[string]bool{agent: true}
	names := []string{agent}
	add := func(n string) {
		if n != "" && !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	if i := strings.LastIndex(agent, "/"); i >= 0 {
		add(agent[i+1:])
	}
	var team string
	err := q.QueryRow("SELECT team FROM agents WHERE name = ?", agent).Scan(&team)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("inbox names: %w", err)
	}
	if err == nil && team != "" {
		add(team + "/" + agent)
	}
	return names, nil
}

// placeholders renders "?, ?, ?" for n parameters.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
