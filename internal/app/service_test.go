package app

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jaakkos/deaddrop/internal/domain"
	"github.com/jaakkos/deaddrop/internal/policy"
	"github.com/jaakkos/deaddrop/internal/store"
)

func newTestService(t *testing.T) (*Service, *policy.Config) {
	t.Helper()
	st, cfg := newTestStore(t)
	svc := NewService(st, NewSessionRegistry(), cfg, testLogger())
	return svc, cfg
}

func TestRegisterAgentTokenCheck(t *testing.T) {
	svc, cfg := newTestService(t)
	cfg.RoomToken = "secret"

	_, _, err := svc.RegisterAgent("s1", "alice", "coder", "", "", "wrong")
	if !errors.Is(err, domain.ErrAuthRejected) {
		t.Errorf("wrong token: err = %v, want ErrAuthRejected", err)
	}
	if svc.Registry.Connected("alice") {
		t.Error("rejected agent got a session binding")
	}

	agent, _, err := svc.RegisterAgent("s1", "alice", "coder", "", "", "secret")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if agent.Name != "alice" || !svc.Registry.Connected("alice") {
		t.Errorf("agent = %+v, connected = %t", agent, svc.Registry.Connected("alice"))
	}
}

func TestRegisterAgentNoTokenConfigured(t *testing.T) {
	svc, _ := newTestService(t)
	// With no room token, any (or no) token passes.
	if _, _, err := svc.RegisterAgent("s1", "alice", "coder", "", "", ""); err != nil {
		t.Errorf("register without token: %v", err)
	}
}

func TestRegisterAgentLoadsOnboarding(t *testing.T) {
	svc, cfg := newTestService(t)
	if err := os.WriteFile(filepath.Join(cfg.RuntimeDir, "PROTOCOL.md"),
		[]byte("# Room protocol\ncheck your inbox\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	rolesDir := filepath.Join(cfg.RuntimeDir, "roles")
	if err := os.MkdirAll(rolesDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(rolesDir, "lead.md"),
		[]byte("# Lead duties\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, onboarding, err := svc.RegisterAgent("s1", "boss", "lead", "", "", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	want := "# Room protocol\ncheck your inbox\n\n---\n\n# Lead duties"
	if onboarding != want {
		t.Errorf("onboarding = %q, want %q", onboarding, want)
	}

	// A role with no document gets just the protocol.
	_, onboarding, err = svc.RegisterAgent("s2", "worker", "coder", "", "", "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if onboarding != "# Room protocol\ncheck your inbox" {
		t.Errorf("onboarding = %q", onboarding)
	}
}

func TestDeregisterDropsSessionBinding(t *testing.T) {
	svc, _ := newTestService(t)
	if _, _, err := svc.RegisterAgent("s1", "alice", "coder", "", "", ""); err != nil {
		t.Fatal(err)
	}
	found, err := svc.DeregisterAgent("alice")
	if err != nil || !found {
		t.Fatalf("deregister = %t, %v", found, err)
	}
	if svc.Registry.Connected("alice") {
		t.Error("session binding survived deregistration")
	}
}

func TestPingRebindsSession(t *testing.T) {
	svc, _ := newTestService(t)
	if err := svc.Ping("s1", "alice"); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if svc.Registry.SessionFor("alice") != "s1" {
		t.Error("ping did not bind the session")
	}
	// Reconnect under a new session.
	if err := svc.Ping("s2", "alice"); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if svc.Registry.SessionFor("alice") != "s2" || svc.Registry.AgentFor("s1") != "" {
		t.Error("ping did not rebind the session")
	}
}

func TestWhoAnnotatesConnectivity(t *testing.T) {
	svc, _ := newTestService(t)
	if _, _, err := svc.RegisterAgent("s1", "alice", "coder", "", "", ""); err != nil {
		t.Fatal(err)
	}
	if _, _, err := svc.RegisterAgent("", "bob", "coder", "", "", ""); err != nil {
		t.Fatal(err)
	}

	who, err := svc.Who()
	if err != nil {
		t.Fatalf("who: %v", err)
	}
	if len(who) != 2 {
		t.Fatalf("who = %+v", who)
	}
	byName := map[string]WhoEntry{}
	for _, w := range who {
		byName[w.Name] = w
	}
	if !byName["alice"].Connected || byName["bob"].Connected {
		t.Errorf("connectivity wrong: %+v", byName)
	}
	if byName["alice"].Health != domain.HealthUnknown {
		t.Errorf("health = %s, want unknown before any heartbeat", byName["alice"].Health)
	}
}

func TestSendPushesToDeliveredSet(t *testing.T) {
	svc, cfg := newTestService(t)
	rec := &pushRecorder{}
	svc.SetNotifier(NewNotifier(cfg.SignalFilePath(), svc.Store, svc.Registry,
		rec.push, func(string) {}, testLogger()))

	if _, _, err := svc.RegisterAgent("s-lead", "boss", "lead", "", "", ""); err != nil {
		t.Fatal(err)
	}
	if _, _, err := svc.RegisterAgent("s-alice", "alice", "coder", "", "", ""); err != nil {
		t.Fatal(err)
	}
	if _, _, err := svc.RegisterAgent("s-bob", "bob", "coder", "", "", ""); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Messages.Send(store.SendRequest{From: "alice", To: "bob", Content: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	// bob (primary) and boss (auto-CC) each get caps-changed + alert.
	sessions := map[string]int{}
	for _, p := range rec.all() {
		sessions[p.SessionID]++
	}
	if sessions["s-bob"] != 2 || sessions["s-lead"] != 2 || sessions["s-alice"] != 0 {
		t.Errorf("pushes per session = %v", sessions)
	}

	// The signal file was touched for cross-process watchers.
	if _, err := os.Stat(cfg.SignalFilePath()); err != nil {
		t.Errorf("signal file missing: %v", err)
	}
}

func TestBroadcastPushesToConnectedOthers(t *testing.T) {
	svc, cfg := newTestService(t)
	rec := &pushRecorder{}
	svc.SetNotifier(NewNotifier(cfg.SignalFilePath(), svc.Store, svc.Registry,
		rec.push, func(string) {}, testLogger()))

	if _, _, err := svc.RegisterAgent("s-alice", "alice", "coder", "", "", ""); err != nil {
		t.Fatal(err)
	}
	if _, _, err := svc.RegisterAgent("s-bob", "bob", "coder", "", "", ""); err != nil {
		t.Fatal(err)
	}
	// carol is registered but not connected.
	if _, _, err := svc.RegisterAgent("", "carol", "coder", "", "", ""); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Messages.Send(store.SendRequest{From: "alice", To: "all", Content: "hello"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	sessions := map[string]int{}
	for _, p := range rec.all() {
		sessions[p.SessionID]++
	}
	if sessions["s-bob"] != 2 || sessions["s-alice"] != 0 || len(sessions) != 1 {
		t.Errorf("pushes per session = %v", sessions)
	}
}
