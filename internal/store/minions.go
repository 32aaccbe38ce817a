package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jaakkos/deaddrop/internal/domain"
)

// SetSpawnPolicy upserts the policy row for a scope (an agent name or
// "global"). Lead-only.
func (s *Store) SetSpawnPolicy(actor, scope string, enabled bool, maxMinions int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("set spawn policy: %w", err)
	}
	defer tx.Rollback()

	if err := requireLead(tx, actor); err != nil {
		return err
	}
	e := 0
	if enabled {
		e = 1
	}
	if _, err := tx.Exec(`
		INSERT INTO spawn_policies (scope, enabled, max_minions, set_by, set_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(scope) DO UPDATE SET
			enabled = excluded.enabled,
			max_minions = excluded.max_minions,
			set_by = excluded.set_by,
			set_at = excluded.set_at`,
		scope, e, maxMinions, actor, fmtTime(time.Now())); err != nil {
		return fmt.Errorf("set spawn policy: %w", err)
	}
	return tx.Commit()
}

// EffectiveSpawnPolicy resolves the policy governing one pilot: its own
// scope row, then the global row, then the built-in default of 3 enabled
// minions. active_minions counts this pilot's rows still in spawned.
func (s *Store) EffectiveSpawnPolicy(pilot string) (domain.EffectivePolicy, error) {
	p := domain.EffectivePolicy{Enabled: true, MaxMinions: 3}
	for _, scope := range []string{pilot, domain.GlobalScope} {
		var enabled, max int
		err := s.db.QueryRow("SELECT enabled, max_minions FROM spawn_policies WHERE scope = ?", scope).
			Scan(&enabled, &max)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return domain.EffectivePolicy{}, fmt.Errorf("spawn policy: %w", err)
		}
		p.Enabled = enabled != 0
		p.MaxMinions = max
		break
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM minion_log WHERE pilot = ? AND status = ?",
		pilot, domain.MinionSpawned).Scan(&p.ActiveMinions); err != nil {
		return domain.EffectivePolicy{}, fmt.Errorf("spawn policy: %w", err)
	}
	p.CanSpawn = p.Enabled && p.ActiveMinions < p.MaxMinions
	return p, nil
}

// LogMinion records a minion lifecycle event. spawned inserts a fresh entry;
// completed and failed close the pilot's most recent still-spawned entry.
func (s *Store) LogMinion(pilot, description, status, result string) (domain.MinionLogEntry, error) {
	now := time.Now()
	ts := fmtTime(now)
	switch status {
	case domain.MinionSpawned:
		res, err := s.db.Exec(
			"INSERT INTO minion_log (pilot, description, status, spawned_at) VALUES (?, ?, ?, ?)",
			pilot, description, status, ts)
		if err != nil {
			return domain.MinionLogEntry{}, fmt.Errorf("log minion: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return domain.MinionLogEntry{}, fmt.Errorf("log minion: %w", err)
		}
		return domain.MinionLogEntry{
			ID: int(id), Pilot: pilot, Description: description,
			Status: status, SpawnedAt: now,
		}, nil

	case domain.MinionCompleted, domain.MinionFailed:
		tx, err := s.db.Begin()
		if err != nil {
			return domain.MinionLogEntry{}, fmt.Errorf("log minion: %w", err)
		}
		defer tx.Rollback()

		var id int
		var desc, spawned string
		err = tx.QueryRow(`
			SELECT id, description, spawned_at FROM minion_log
			WHERE pilot = ? AND status = ? ORDER BY id DESC LIMIT 1`,
			pilot, domain.MinionSpawned).Scan(&id, &desc, &spawned)
		if err == sql.ErrNoRows {
			return domain.MinionLogEntry{}, domain.ErrNoActiveMinion
		}
		if err != nil {
			return domain.MinionLogEntry{}, fmt.Errorf("log minion: %w", err)
		}
		if _, err := tx.Exec(
			"UPDATE minion_log SET status = ?, result = ?, completed_at = ? WHERE id = ?",
			status, result, ts, id); err != nil {
			return domain.MinionLogEntry{}, fmt.Errorf("log minion: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return domain.MinionLogEntry{}, fmt.Errorf("log minion: %w", err)
		}
		spawnedAt, err := parseTime(spawned, "minion log")
		if err != nil {
			return domain.MinionLogEntry{}, err
		}
		return domain.MinionLogEntry{
			ID: id, Pilot: pilot, Description: desc, Status: status,
			Result: result, SpawnedAt: spawnedAt, CompletedAt: now,
		}, nil

	default:
		return domain.MinionLogEntry{}, fmt.Errorf("log minion: unknown status %q", status)
	}
}
