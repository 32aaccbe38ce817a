// Package hub provisions isolated rooms: each room is one container running
// the room server on its own port with its own database file.
package hub

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/jaakkos/deaddrop/internal/policy"
)

// Room statuses.
const (
	RoomRunning   = "running"
	RoomArchived  = "archived"
	RoomDestroyed = "destroyed"
)

// Room is one provisioned collaboration room.
type Room struct {
	Name        string    `json:"name"`
	Team        string    `json:"team,omitempty"`
	Port        int       `json:"port"`
	Token       string    `json:"token"`
	ContainerID string    `json:"container_id,omitempty"`
	DBPath      string    `json:"db_path"`
	Status      string    `json:"status"`
	Pinned      bool      `json:"pinned"`
	CreatedAt   time.Time `json:"created_at"`
	ArchivedAt  time.Time `json:"archived_at,omitempty"`
}

const hubSchema = `
CREATE TABLE IF NOT EXISTS rooms (
	name TEXT PRIMARY KEY,
	team TEXT NOT NULL DEFAULT '',
	port INTEGER NOT NULL,
	token TEXT NOT NULL,
	container_id TEXT NOT NULL DEFAULT '',
	db_path TEXT NOT NULL,
	status TEXT NOT NULL,
	pinned INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	archived_at TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS teams (
	name TEXT PRIMARY KEY,
	description TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS room_members (
	room TEXT NOT NULL,
	agent TEXT NOT NULL,
	joined_at TEXT NOT NULL,
	PRIMARY KEY (room, agent)
);
`

// Registry is the hub's own record store: which rooms exist, what port and
// token each got, and which container runs it.
type Registry struct {
	db  *sql.DB
	cfg *policy.HubConfig
}

// NewRegistry opens the hub database and applies its schema.
func NewRegistry(cfg *policy.HubConfig) (*Registry, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return nil, fmt.Errorf("hub registry mkdir: %w", err)
	}
	db, err := sql.Open("sqlite", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("hub registry open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(hubSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("hub registry schema: %w", err)
	}
	return &Registry{db: db, cfg: cfg}, nil
}

// Close releases the hub database.
func (r *Registry) Close() error { return r.db.Close() }

// allocatePort returns the first free port in the configured range.
func (r *Registry) allocatePort() (int, error) {
	rows, err := r.db.Query("SELECT port FROM rooms WHERE status = ?", RoomRunning)
	if err != nil {
		return 0, fmt.Errorf("allocate port: %w", err)
	}
	defer rows.Close()
	used := map[int]bool{}
	for rows.Next() {
		var p int
		if err := rows.Scan(&p); err != nil {
			return 0, fmt.Errorf("allocate port: %w", err)
		}
		used[p] = true
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("allocate port: %w", err)
	}
	for p := r.cfg.PortRangeStart; p <= r.cfg.PortRangeEnd; p++ {
		if !used[p] {
			return p, nil
		}
	}
	return 0, fmt.Errorf("no free port in range %d-%d", r.cfg.PortRangeStart, r.cfg.PortRangeEnd)
}

// CreateRoom records a new room with a fresh port and token. The room is not
// running yet; the spawner fills in the container id via SetContainer.
func (r *Registry) CreateRoom(name, team string) (Room, error) {
	var exists int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM rooms WHERE name = ? AND status = ?",
		name, RoomRunning).Scan(&exists); err != nil {
		return Room{}, fmt.Errorf("create room: %w", err)
	}
	if exists > 0 {
		return Room{}, fmt.Errorf("room %q already running", name)
	}
	port, err := r.allocatePort()
	if err != nil {
		return Room{}, err
	}
	room := Room{
		Name:      name,
		Team:      team,
		Port:      port,
		Token:     uuid.NewString(),
		DBPath:    filepath.Join(r.cfg.RoomDataDir, name, "messages.db"),
		Status:    RoomRunning,
		CreatedAt: time.Now(),
	}
	_, err = r.db.Exec(`
		INSERT INTO rooms (name, team, port, token, db_path, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			team = excluded.team,
			port = excluded.port,
			token = excluded.token,
			container_id = '',
			db_path = excluded.db_path,
			status = excluded.status,
			pinned = 0,
			created_at = excluded.created_at,
			archived_at = ''`,
		room.Name, room.Team, room.Port, room.Token, room.DBPath,
		room.Status, room.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Room{}, fmt.Errorf("create room: %w", err)
	}
	// A recycled name starts with a clean member list.
	if _, err := r.db.Exec("DELETE FROM room_members WHERE room = ?", room.Name); err != nil {
		return Room{}, fmt.Errorf("create room: %w", err)
	}
	return room, nil
}

// SetContainer records the container backing a room.
func (r *Registry) SetContainer(name, containerID string) error {
	_, err := r.db.Exec("UPDATE rooms SET container_id = ? WHERE name = ?", containerID, name)
	if err != nil {
		return fmt.Errorf("set container: %w", err)
	}
	return nil
}

// GetRoom returns one room by name.
func (r *Registry) GetRoom(name string) (Room, error) {
	row := r.db.QueryRow(`
		SELECT name, team, port, token, container_id, db_path, status, pinned, created_at, archived_at
		FROM rooms WHERE name = ?`, name)
	room, err := scanRoom(row)
	if err == sql.ErrNoRows {
		return Room{}, fmt.Errorf("room %q not found", name)
	}
	if err != nil {
		return Room{}, fmt.Errorf("get room: %w", err)
	}
	return room, nil
}

// ListRooms returns every room, running first, newest first within status.
func (r *Registry) ListRooms() ([]Room, error) {
	rows, err := r.db.Query(`
		SELECT name, team, port, token, container_id, db_path, status, pinned, created_at, archived_at
		FROM rooms ORDER BY status DESC, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()
	var out []Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("list rooms: %w", err)
		}
		out = append(out, room)
	}
	return out, rows.Err()
}

// MarkArchived flips a room to archived.
func (r *Registry) MarkArchived(name string) error {
	_, err := r.db.Exec("UPDATE rooms SET status = ?, archived_at = ? WHERE name = ?",
		RoomArchived, time.Now().Format(time.RFC3339Nano), name)
	if err != nil {
		return fmt.Errorf("mark archived: %w", err)
	}
	return nil
}

// MarkDestroyed flips a room to destroyed, freeing its port and name.
func (r *Registry) MarkDestroyed(name string) error {
	_, err := r.db.Exec("UPDATE rooms SET status = ? WHERE name = ?", RoomDestroyed, name)
	if err != nil {
		return fmt.Errorf("mark destroyed: %w", err)
	}
	return nil
}

// SetPinned marks a room as pinned or unpinned. Pinned rooms refuse archive
// and destroy until unpinned.
func (r *Registry) SetPinned(name string, pinned bool) error {
	p := 0
	if pinned {
		p = 1
	}
	res, err := r.db.Exec("UPDATE rooms SET pinned = ? WHERE name = ?", p, name)
	if err != nil {
		return fmt.Errorf("set pinned: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("room %q not found", name)
	}
	return nil
}

// JoinRoom records an agent as a member of a running room.
func (r *Registry) JoinRoom(name, agent string) error {
	room, err := r.GetRoom(name)
	if err != nil {
		return err
	}
	if room.Status != RoomRunning {
		return fmt.Errorf("room %q is not running", name)
	}
	_, err = r.db.Exec(`
		INSERT INTO room_members (room, agent, joined_at) VALUES (?, ?, ?)
		ON CONFLICT(room, agent) DO NOTHING`,
		name, agent, time.Now().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	return nil
}

// LeaveRoom drops an agent's membership.
func (r *Registry) LeaveRoom(name, agent string) error {
	res, err := r.db.Exec("DELETE FROM room_members WHERE room = ? AND agent = ?", name, agent)
	if err != nil {
		return fmt.Errorf("leave room: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("agent %q is not a member of room %q", agent, name)
	}
	return nil
}

// RoomsFor returns the rooms an agent has joined, newest membership first.
func (r *Registry) RoomsFor(agent string) ([]Room, error) {
	rows, err := r.db.Query(`
		SELECT r.name, r.team, r.port, r.token, r.container_id, r.db_path, r.status, r.pinned,
			r.created_at, r.archived_at
		FROM rooms r JOIN room_members m ON m.room = r.name
		WHERE m.agent = ? ORDER BY m.joined_at DESC`, agent)
	if err != nil {
		return nil, fmt.Errorf("rooms for %s: %w", agent, err)
	}
	defer rows.Close()
	var out []Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("rooms for %s: %w", agent, err)
		}
		out = append(out, room)
	}
	return out, rows.Err()
}

// Members returns the agents currently joined to a room, alphabetically.
func (r *Registry) Members(name string) ([]string, error) {
	rows, err := r.db.Query("SELECT agent FROM room_members WHERE room = ? ORDER BY agent", name)
	if err != nil {
		return nil, fmt.Errorf("members of %s: %w", name, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var agent string
		if err := rows.Scan(&agent); err != nil {
			return nil, fmt.Errorf("members of %s: %w", name, err)
		}
		out = append(out, agent)
	}
	return out, rows.Err()
}

func scanRoom(row interface{ Scan(...any) error }) (Room, error) {
	var room Room
	var created, archived string
	var pinned int
	if err := row.Scan(&room.Name, &room.Team, &room.Port, &room.Token,
		&room.ContainerID, &room.DBPath, &room.Status, &pinned, &created, &archived); err != nil {
		return Room{}, err
	}
	room.Pinned = pinned != 0
	var err error
	if room.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return Room{}, fmt.Errorf("room %s: parse created_at: %w", room.Name, err)
	}
	if archived != "" {
		if room.ArchivedAt, err = time.Parse(time.RFC3339Nano, archived); err != nil {
			return Room{}, fmt.Errorf("room %s: parse archived_at: %w", room.Name, err)
		}
	}
	return room, nil
}
