// Package app holds the in-process coordination machinery: the session
// registry, the notifier, and the component services that sit between the
// tool surface and the store.
package app

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jaakkos/deaddrop/internal/domain"
	"github.com/jaakkos/deaddrop/internal/policy"
	"github.com/jaakkos/deaddrop/internal/store"
)

// Service wires the store, session registry and notifier together and
// exposes one component value per concern. Tools depend on Service only.
type Service struct {
	Store    *store.Store
	Registry *SessionRegistry
	Logger   *log.Logger

	cfg      *policy.Config
	notifier *Notifier

	Messages   *MessageCore
	Tasks      *TaskMachine
	Handshakes *HandshakeCoordinator
	Contracts  *ContractRegistry
	Spawns     *SpawnGovernor
}

// NewService builds the component graph. The notifier is attached later via
// SetNotifier because its push function needs the MCP server's sessions.
func NewService(st *store.Store, registry *SessionRegistry, cfg *policy.Config, logger *log.Logger) *Service {
	s := &Service{Store: st, Registry: registry, Logger: logger, cfg: cfg}
	s.Messages = &MessageCore{svc: s}
	s.Tasks = &TaskMachine{svc: s}
	s.Handshakes = &HandshakeCoordinator{svc: s}
	s.Contracts = &ContractRegistry{svc: s}
	s.Spawns = &SpawnGovernor{svc: s}
	return s
}

// SetNotifier attaches the push pathway.
func (s *Service) SetNotifier(n *Notifier) { s.notifier = n }

// RuntimeDir exposes the directory holding onboarding documents.
func (s *Service) RuntimeDir() string { return s.cfg.RuntimeDir }

// afterCommit touches the cross-process signal file and pushes to the given
// recipients. Push failures are handled inside the notifier (eviction).
func (s *Service) afterCommit(recipients []string) {
	if err := TouchNotifySignal(s.cfg.SignalFilePath()); err != nil {
		s.Logger.Printf("signal touch: %v", err)
	}
	if s.notifier != nil && len(recipients) > 0 {
		s.notifier.Notify(recipients)
	}
}

// RegisterAgent validates the room token, upserts the agent, binds the
// calling session and returns the agent plus any onboarding text found under
// the runtime directory.
func (s *Service) RegisterAgent(sessionID, name, role, description, team, token string) (domain.Agent, string, error) {
	if s.cfg.RoomToken != "" && token != s.cfg.RoomToken {
		return domain.Agent{}, "", domain.ErrAuthRejected
	}
	agent, err := s.Store.RegisterAgent(name, role, description, team)
	if err != nil {
		return domain.Agent{}, "", err
	}
	if sessionID != "" {
		s.Registry.Bind(sessionID, name)
	}
	return agent, s.loadOnboarding(role), nil
}

// loadOnboarding concatenates PROTOCOL.md and roles/<role>.md from the
// runtime directory; missing files are skipped.
func (s *Service) loadOnboarding(role string) string {
	if s.cfg.RuntimeDir == "" {
		return ""
	}
	var parts []string
	if data, err := os.ReadFile(filepath.Join(s.cfg.RuntimeDir, "PROTOCOL.md")); err == nil {
		parts = append(parts, strings.TrimSpace(string(data)))
	}
	if role != "" {
		if data, err := os.ReadFile(filepath.Join(s.cfg.RuntimeDir, "roles", role+".md")); err == nil {
			parts = append(parts, strings.TrimSpace(string(data)))
		}
	}
	return strings.Join(parts, "\n\n---\n\n")
}

// DeregisterAgent removes the agent record and its session binding.
func (s *Service) DeregisterAgent(name string) (bool, error) {
	found, err := s.Store.Deregister(name)
	if err != nil {
		return false, err
	}
	if sid := s.Registry.SessionFor(name); sid != "" {
		s.Registry.Remove(sid)
	}
	return found, nil
}

// Ping refreshes the agent's heartbeat and (re)binds the calling session.
func (s *Service) Ping(sessionID, name string) error {
	if err := s.Store.Ping(name); err != nil {
		return err
	}
	if sessionID != "" {
		s.Registry.Bind(sessionID, name)
	}
	return nil
}

// WhoEntry is one agent in the who() roster, enriched with live-session and
// heartbeat-health annotations.
type WhoEntry struct {
	domain.Agent
	Connected bool               `json:"connected"`
	Health    domain.AgentHealth `json:"health"`
}

// Who returns every agent with connectivity and health.
func (s *Service) Who() ([]WhoEntry, error) {
	agents, err := s.Store.Agents()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	out := make([]WhoEntry, 0, len(agents))
	for _, a := range agents {
		out = append(out, WhoEntry{
			Agent:     a,
			Connected: s.Registry.Connected(a.Name),
			Health:    a.Health(now),
		})
	}
	return out, nil
}

// MessageCore is the send/inbox/history surface.
type MessageCore struct {
	svc *Service
}

// Send delivers a message and pushes to everyone who got a row: the primary
// recipient (or every other connected agent for a broadcast) plus the CC set.
func (m *MessageCore) Send(req store.SendRequest) (store.SendResult, error) {
	res, err := m.svc.Store.Send(req)
	if err != nil {
		return store.SendResult{}, err
	}
	seen := map[string]bool{req.From: true}
	var recipients []string
	add := func(name string) {
		if name != "" && name != domain.Broadcast && !seen[name] {
			seen[name] = true
			recipients = append(recipients, name)
		}
	}
	if res.Broadcast {
		for _, a := range m.svc.Registry.ConnectedAgents() {
			add(a)
		}
	} else {
		add(res.To)
	}
	for _, cc := range res.CC {
		add(cc)
	}
	m.svc.afterCommit(recipients)
	return res, nil
}

// CheckInbox drains the agent's unread mail.
func (m *MessageCore) CheckInbox(agent string) ([]domain.Message, error) {
	return m.svc.Store.CheckInbox(agent)
}

// History returns recent messages, optionally scoped to one task.
func (m *MessageCore) History(count int, taskID string) ([]domain.Message, error) {
	return m.svc.Store.History(count, taskID)
}

// TaskMachine is the task lifecycle surface.
type TaskMachine struct {
	svc *Service
}

// Create mints and inserts a task, pushing the assignment to the assignee
// and the lead CC set.
func (t *TaskMachine) Create(creator, title, description, assignTo, project string) (store.TaskResult, error) {
	res, err := t.svc.Store.CreateTask(creator, title, description, assignTo, project)
	if err != nil {
		return store.TaskResult{}, err
	}
	t.svc.afterCommit(res.Recipients)
	return res, nil
}

// Update drives one transition and pushes the auto-notification recipients.
func (t *TaskMachine) Update(actor, id, newStatus, result string) (store.TaskResult, error) {
	res, err := t.svc.Store.UpdateTask(actor, id, newStatus, result)
	if err != nil {
		return store.TaskResult{}, err
	}
	t.svc.afterCommit(res.Recipients)
	return res, nil
}

// SubmitForReview moves an in-progress task to review with its payload.
func (t *TaskMachine) SubmitForReview(actor, id string, payload domain.ReviewPayload) (store.TaskResult, error) {
	res, err := t.svc.Store.SubmitForReview(actor, id, payload)
	if err != nil {
		return store.TaskResult{}, err
	}
	t.svc.afterCommit(res.Recipients)
	return res, nil
}

// Approve completes a task under review.
func (t *TaskMachine) Approve(actor, id, notes string) (store.TaskResult, error) {
	res, err := t.svc.Store.ApproveTask(actor, id, notes)
	if err != nil {
		return store.TaskResult{}, err
	}
	t.svc.afterCommit(res.Recipients)
	return res, nil
}

// Reject sends a task under review back to in_progress.
func (t *TaskMachine) Reject(actor, id, reason string) (store.TaskResult, error) {
	res, err := t.svc.Store.RejectTask(actor, id, reason)
	if err != nil {
		return store.TaskResult{}, err
	}
	t.svc.afterCommit(res.Recipients)
	return res, nil
}

// List filters tasks.
func (t *TaskMachine) List(status, assignee, project string) ([]domain.Task, error) {
	return t.svc.Store.ListTasks(status, assignee, project)
}

// HandshakeCoordinator is the ACK-barrier surface.
type HandshakeCoordinator struct {
	svc *Service
}

// Initiate starts a barrier and pushes the [HANDSHAKE] message to targets.
func (h *HandshakeCoordinator) Initiate(initiator, body string, targets []string) (store.HandshakeResult, error) {
	res, err := h.svc.Store.InitiateHandshake(initiator, body, targets)
	if err != nil {
		return store.HandshakeResult{}, err
	}
	h.svc.afterCommit(res.Targets)
	return res, nil
}

// Ack records one ACK; on completion the sync notice recipients get pushed.
func (h *HandshakeCoordinator) Ack(acker string, id int) (store.HandshakeResult, error) {
	res, err := h.svc.Store.AckHandshake(acker, id)
	if err != nil {
		return store.HandshakeResult{}, err
	}
	h.svc.afterCommit(res.Recipients)
	return res, nil
}

// Status reports barrier state.
func (h *HandshakeCoordinator) Status(id int) (store.HandshakeStatus, error) {
	return h.svc.Store.GetHandshakeStatus(id)
}

// ContractRegistry is the versioned-contract surface.
type ContractRegistry struct {
	svc *Service
}

// Declare inserts or bumps a contract; a bump pushes the broadcast set.
func (c *ContractRegistry) Declare(owner, name, kind, spec, project string) (store.ContractResult, error) {
	res, err := c.svc.Store.DeclareContract(owner, name, kind, spec, project)
	if err != nil {
		return store.ContractResult{}, err
	}
	c.svc.afterCommit(res.Recipients)
	return res, nil
}

// List filters contracts.
func (c *ContractRegistry) List(project, owner, kind string) ([]domain.Contract, error) {
	return c.svc.Store.ListContracts(project, owner, kind)
}

// SpawnGovernor is the minion policy surface.
type SpawnGovernor struct {
	svc *Service
}

// SetPolicy upserts a scope's spawn policy. Lead-only.
func (g *SpawnGovernor) SetPolicy(actor, scope string, enabled bool, maxMinions int) error {
	return g.svc.Store.SetSpawnPolicy(actor, scope, enabled, maxMinions)
}

// Policy resolves the effective policy for one pilot.
func (g *SpawnGovernor) Policy(pilot string) (domain.EffectivePolicy, error) {
	return g.svc.Store.EffectiveSpawnPolicy(pilot)
}

// LogMinion records a minion lifecycle event.
func (g *SpawnGovernor) LogMinion(pilot, description, status, result string) (domain.MinionLogEntry, error) {
	return g.svc.Store.LogMinion(pilot, description, status, result)
}
