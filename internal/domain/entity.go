// Package domain holds the persistent coordination entities.
// It has no dependencies on other packages.
package domain

import "time"

// Broadcast is the reserved recipient name that fans a message out to
// every registered agent.
const Broadcast = "all"

// System is the sender name used for server-originated messages
// (handshake completion, connect notices).
const System = "system"

// RoleLead marks agents that receive auto-CCs and may drive lead-authorized
// task transitions. Roles form an open set; only "lead" carries semantics.
const RoleLead = "lead"

// Agent is a named participant. Created lazily on first mention, upgraded on
// explicit registration, removed only by explicit deregistration.
type Agent struct {
	Name         string    `json:"name"`
	Role         string    `json:"role,omitempty"`
	Description  string    `json:"description,omitempty"`
	Team         string    `json:"team,omitempty"`
	Status       string    `json:"status"`
	RegisteredAt time.Time `json:"registered_at"`
	LastSeen     time.Time `json:"last_seen"`
	LastInboxAt  time.Time `json:"last_inbox_check,omitempty"`
	HeartbeatAt  time.Time `json:"heartbeat_at,omitempty"`
}

// QualifiedName returns "<team>/<name>" when the agent has a team label,
// otherwise the plain name.
func (a Agent) QualifiedName() string {
	if a.Team == "" {
		return a.Name
	}
	return a.Team + "/" + a.Name
}

// AgentHealth classifies an agent's heartbeat freshness for who().
type AgentHealth string

const (
	HealthHealthy AgentHealth = "healthy" // heartbeat < 2 minutes old
	HealthStale   AgentHealth = "stale"   // heartbeat < 10 minutes old
	HealthDead    AgentHealth = "dead"    // older than that
	HealthUnknown AgentHealth = "unknown" // never sent a heartbeat
)

// Health derives an agent's health class from its heartbeat at the given time.
func (a Agent) Health(now time.Time) AgentHealth {
	if a.HeartbeatAt.IsZero() {
		return HealthUnknown
	}
	age := now.Sub(a.HeartbeatAt)
	switch {
	case age < 2*time.Minute:
		return HealthHealthy
	case age < 10*time.Minute:
		return HealthStale
	default:
		return HealthDead
	}
}

// Message is one delivery row. CC deliveries are distinct rows carrying
// IsCC=true and the original recipient; broadcast rows ('all') are written
// once and per-reader read state lives in broadcast_reads.
type Message struct {
	ID           int       `json:"id"`
	From         string    `json:"from_agent"`
	To           string    `json:"to_agent"`
	Content      string    `json:"content"`
	Timestamp    time.Time `json:"timestamp"`
	Read         bool      `json:"read"`
	IsCC         bool      `json:"is_cc,omitempty"`
	CCOriginalTo string    `json:"cc_original_to,omitempty"`
	TaskID       string    `json:"task_id,omitempty"`
	ReplyTo      int       `json:"reply_to,omitempty"`
	// CCNote is a display annotation set on inbox reads, never persisted.
	CCNote string `json:"cc_note,omitempty"`
}

// Task statuses. completed is terminal.
const (
	TaskPending    = "pending"
	TaskAssigned   = "assigned"
	TaskInProgress = "in_progress"
	TaskReview     = "review"
	TaskCompleted  = "completed"
	TaskFailed     = "failed"
)

// Task is a shared work item with a TASK-NNN id.
type Task struct {
	ID          string    `json:"id"`
	Project     string    `json:"project,omitempty"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	AssignedTo  string    `json:"assigned_to,omitempty"`
	CreatedBy   string    `json:"created_by"`
	Status      string    `json:"status"`
	Result      string    `json:"result,omitempty"` // opaque; submit_for_review stores JSON here
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	// Warning is a display annotation (dead-assignee detection), never persisted.
	Warning string `json:"warning,omitempty"`
}

// ReviewPayload is the structured result stored by submit_for_review.
// Task.Result is otherwise opaque text; only the review-render path parses it.
type ReviewPayload struct {
	Summary      string `json:"summary"`
	FilesChanged string `json:"files_changed,omitempty"`
	TestResults  string `json:"test_results,omitempty"`
}

// Handshake statuses.
const (
	HandshakePending   = "pending"
	HandshakeCompleted = "completed"
)

// Handshake is an all-hands ACK barrier. MessageID is the first message row
// produced when the handshake was broadcast.
type Handshake struct {
	ID        int       `json:"id"`
	Initiator string    `json:"initiator"`
	MessageID int       `json:"message_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// HandshakeAck records one agent's ACK.
type HandshakeAck struct {
	HandshakeID int       `json:"handshake_id"`
	Agent       string    `json:"agent"`
	AckedAt     time.Time `json:"acked_at"`
}

// ContractKinds is the closed set of interface-contract kinds.
var ContractKinds = []string{"function", "dom_id", "css_class", "file_path", "api_endpoint", "event", "other"}

// ValidContractKind reports whether kind is in the closed set.
func ValidContractKind(kind string) bool {
	for _, k := range ContractKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Contract is a versioned interface contract, unique per (project, name, kind).
type Contract struct {
	ID        int       `json:"id"`
	Project   string    `json:"project,omitempty"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Owner     string    `json:"owner"`
	Spec      string    `json:"spec"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GlobalScope is the spawn-policy scope that applies to every agent without
// an agent-specific row.
const GlobalScope = "global"

// SpawnPolicy governs minion spawning for a scope (agent name or "global").
type SpawnPolicy struct {
	Scope      string    `json:"scope"`
	Enabled    bool      `json:"enabled"`
	MaxMinions int       `json:"max_minions"`
	SetBy      string    `json:"set_by"`
	SetAt      time.Time `json:"set_at"`
}

// EffectivePolicy is the resolved spawn policy for one pilot.
type EffectivePolicy struct {
	Enabled       bool `json:"enabled"`
	MaxMinions    int  `json:"max_minions"`
	ActiveMinions int  `json:"active_minions"`
	CanSpawn      bool `json:"can_spawn"`
}

// Minion log statuses.
const (
	MinionSpawned   = "spawned"
	MinionCompleted = "completed"
	MinionFailed    = "failed"
)

// MinionLogEntry records one spawned minion's lifecycle for a pilot agent.
type MinionLogEntry struct {
	ID          int       `json:"id"`
	Pilot       string    `json:"pilot"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Result      string    `json:"result,omitempty"`
	SpawnedAt   time.Time `json:"spawned_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}
