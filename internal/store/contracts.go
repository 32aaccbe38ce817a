package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jaakkos/deaddrop/internal/domain"
)

// ContractResult reports a committed declaration. A version bump carries the
// broadcast recipients owed a push; a fresh v1 has none.
type ContractResult struct {
	Contract   domain.Contract
	Updated    bool
	Recipients []string
}

// DeclareContract inserts a contract at version 1 or bumps an existing
// (project, name, kind) row. A bump replaces spec and owner and fans an
// informational message out to every other registered agent.
func (s *Store) DeclareContract(owner, name, kind, spec, project string) (ContractResult, error) {
	if !domain.ValidContractKind(kind) {
		return ContractResult{}, &domain.InvalidKindError{Kind: kind}
	}
	tx, err := s.db.Begin()
	if err != nil {
		return ContractResult{}, fmt.Errorf("declare contract: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	ts := fmtTime(now)
	if err := ensureAgent(tx, owner, ts); err != nil {
		return ContractResult{}, fmt.Errorf("declare contract: %w", err)
	}

	var out ContractResult
	var id, version int
	var created string
	err = tx.QueryRow(
		"SELECT id, version, created_at FROM contracts WHERE project = ? AND name = ? AND kind = ?",
		project, name, kind).Scan(&id, &version, &created)
	switch {
	case err == sql.ErrNoRows:
		res, err := tx.Exec(`
			INSERT INTO contracts (project, name, kind, owner, spec, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 1, ?, ?)`,
			project, name, kind, owner, spec, ts, ts)
		if err != nil {
			return ContractResult{}, fmt.Errorf("declare contract: %w", err)
		}
		newID, err := res.LastInsertId()
		if err != nil {
			return ContractResult{}, fmt.Errorf("declare contract: %w", err)
		}
		out.Contract = domain.Contract{
			ID: int(newID), Project: project, Name: name, Kind: kind,
			Owner: owner, Spec: spec, Version: 1, CreatedAt: now, UpdatedAt: now,
		}
	case err != nil:
		return ContractResult{}, fmt.Errorf("declare contract: %w", err)
	default:
		version++
		if _, err := tx.Exec(
			"UPDATE contracts SET owner = ?, spec = ?, version = ?, updated_at = ? WHERE id = ?",
			owner, spec, version, ts, id); err != nil {
			return ContractResult{}, fmt.Errorf("declare contract: %w", err)
		}
		createdAt, err := parseTime(created, "contract "+name)
		if err != nil {
			return ContractResult{}, err
		}
		out.Contract = domain.Contract{
			ID: id, Project: project, Name: name, Kind: kind,
			Owner: owner, Spec: spec, Version: version, CreatedAt: createdAt, UpdatedAt: now,
		}
		out.Updated = true

		body := fmt.Sprintf("[CONTRACT v%d] %s '%s' updated by %s: %s", version, kind, name, owner, spec)
		rows, err := tx.Query("SELECT name FROM agents WHERE name != ? ORDER BY name", owner)
		if err != nil {
			return ContractResult{}, fmt.Errorf("declare contract: %w", err)
		}
		var others []string
		for rows.Next() {
			var n string
			if err := rows.Scan(&n); err != nil {
				rows.Close()
				return ContractResult{}, fmt.Errorf("declare contract: %w", err)
			}
			others = append(others, n)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return ContractResult{}, fmt.Errorf("declare contract: %w", err)
		}
		rows.Close()
		for _, n := range others {
			if _, err := insertMessage(tx, domain.Message{
				From: owner, To: n, Content: body, Timestamp: now,
			}); err != nil {
				return ContractResult{}, fmt.Errorf("declare contract: %w", err)
			}
			out.Recipients = append(out.Recipients, n)
		}
	}

	if err := tx.Commit(); err != nil {
		return ContractResult{}, fmt.Errorf("declare contract: %w", err)
	}
	return out, nil
}

// ListContracts filters contracts, sorted by (kind, name).
func (s *Store) ListContracts(project, owner, kind string) ([]domain.Contract, error) {
	query := "SELECT id, project, name, kind, owner, spec, version, created_at, updated_at FROM contracts WHERE 1=1"
	var args []any
	if project != "" {
		query += " AND project = ?"
		args = append(args, project)
	}
	if owner != "" {
		query += " AND owner = ?"
		args = append(args, owner)
	}
	if kind != "" {
		query += " AND kind = ?"
		args = append(args, kind)
	}
	query += " ORDER BY kind, name"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list contracts: %w", err)
	}
	defer rows.Close()
	var out []domain.Contract
	for rows.Next() {
		var c domain.Contract
		var created, updated string
		if err := rows.Scan(&c.ID, &c.Project, &c.Name, &c.Kind, &c.Owner,
			&c.Spec, &c.Version, &created, &updated); err != nil {
			return nil, fmt.Errorf("list contracts: %w", err)
		}
		if c.CreatedAt, err = parseTime(created, "contract "+c.Name); err != nil {
			return nil, err
		}
		if c.UpdatedAt, err = parseTime(updated, "contract "+c.Name); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
