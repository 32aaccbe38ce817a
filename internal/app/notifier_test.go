package app

import (
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jaakkos/deaddrop/internal/policy"
	"github.com/jaakkos/deaddrop/internal/store"
)

type pushRecord struct {
	SessionID string
	Method    string
	Params    map[string]any
}

// pushRecorder is a PushFunc that captures every push and can be told to fail
// for chosen sessions.
type pushRecorder struct {
	mu     sync.Mutex
	pushes []pushRecord
	fail   map[string]error
}

func (p *pushRecorder) push(sessionID, method string, params map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.fail[sessionID]; ok {
		return err
	}
	p.pushes = append(p.pushes, pushRecord{sessionID, method, params})
	return nil
}

func (p *pushRecorder) all() []pushRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]pushRecord, len(p.pushes))
	copy(out, p.pushes)
	return out
}

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestStore(t *testing.T) (*store.Store, *policy.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := policy.DefaultConfig()
	cfg.DBPath = filepath.Join(dir, "messages.db")
	cfg.RuntimeDir = dir
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, cfg
}

func TestNotifyPushesCapsThenAlert(t *testing.T) {
	st, cfg := newTestStore(t)
	registry := NewSessionRegistry()
	rec := &pushRecorder{}
	evicted := []string{}
	n := NewNotifier(cfg.SignalFilePath(), st, registry, rec.push,
		func(sid string) { evicted = append(evicted, sid) }, testLogger())

	if _, err := st.RegisterAgent("alice", "coder", "", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := st.RegisterAgent("bob", "coder", "", ""); err != nil {
		t.Fatal(err)
	}
	registry.Bind("s-bob", "bob")
	if _, err := st.Send(store.SendRequest{From: "alice", To: "bob", Content: "wake up"}); err != nil {
		t.Fatal(err)
	}

	// alice has no session and must be skipped silently.
	n.Notify([]string{"alice", "bob"})

	pushes := rec.all()
	if len(pushes) != 2 {
		t.Fatalf("pushes = %+v, want caps-changed then alert", pushes)
	}
	if pushes[0].Method != "notifications/tools/list_changed" || pushes[0].SessionID != "s-bob" {
		t.Errorf("first push = %+v", pushes[0])
	}
	alert := pushes[1]
	if alert.Method != "notifications/message" {
		t.Errorf("second push = %+v", alert)
	}
	if alert.Params["level"] != "alert" || alert.Params["logger"] != "dead-drop" {
		t.Errorf("alert params = %v", alert.Params)
	}
	want := "YOU HAVE 1 UNREAD MESSAGE(S) from alice. Call check_inbox now."
	if alert.Params["data"] != want {
		t.Errorf("alert data = %q, want %q", alert.Params["data"], want)
	}
	if len(evicted) != 0 {
		t.Errorf("evicted = %v, want none", evicted)
	}
}

func TestNotifySkipsAlertWhenInboxClean(t *testing.T) {
	st, cfg := newTestStore(t)
	registry := NewSessionRegistry()
	rec := &pushRecorder{}
	n := NewNotifier(cfg.SignalFilePath(), st, registry, rec.push, func(string) {}, testLogger())

	if _, err := st.RegisterAgent("bob", "coder", "", ""); err != nil {
		t.Fatal(err)
	}
	registry.Bind("s-bob", "bob")
	n.Notify([]string{"bob"})

	pushes := rec.all()
	if len(pushes) != 1 || pushes[0].Method != "notifications/tools/list_changed" {
		t.Errorf("pushes = %+v, want only the caps-changed push", pushes)
	}
}

func TestFailedPushEvictsSession(t *testing.T) {
	st, cfg := newTestStore(t)
	registry := NewSessionRegistry()
	rec := &pushRecorder{fail: map[string]error{"s-dead": io.ErrClosedPipe}}
	var evicted []string
	evict := func(sid string) {
		evicted = append(evicted, sid)
		registry.Remove(sid)
	}
	n := NewNotifier(cfg.SignalFilePath(), st, registry, rec.push, evict, testLogger())

	registry.Bind("s-dead", "ghost")
	n.Notify([]string{"ghost"})

	if len(evicted) != 1 || evicted[0] != "s-dead" {
		t.Errorf("evicted = %v, want [s-dead]", evicted)
	}
	if registry.Connected("ghost") {
		t.Error("ghost still registered after eviction")
	}
	if len(rec.all()) != 0 {
		t.Errorf("pushes = %+v, want none", rec.all())
	}
}

func TestSweepDedupesBySignalRevision(t *testing.T) {
	st, cfg := newTestStore(t)
	registry := NewSessionRegistry()
	rec := &pushRecorder{}
	n := NewNotifier(cfg.SignalFilePath(), st, registry, rec.push, func(string) {}, testLogger())

	if _, err := st.RegisterAgent("alice", "coder", "", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := st.RegisterAgent("bob", "coder", "", ""); err != nil {
		t.Fatal(err)
	}
	registry.Bind("s-bob", "bob")
	if _, err := st.Send(store.SendRequest{From: "alice", To: "bob", Content: "hi"}); err != nil {
		t.Fatal(err)
	}

	// No signal file yet: nothing to do.
	n.CheckOnce()
	if len(rec.all()) != 0 {
		t.Fatalf("pushes before signal = %+v", rec.all())
	}

	if err := TouchNotifySignal(cfg.SignalFilePath()); err != nil {
		t.Fatalf("touch signal: %v", err)
	}
	n.CheckOnce()
	if got := len(rec.all()); got != 2 {
		t.Fatalf("pushes after signal = %d, want 2", got)
	}

	// Same revision: the sweep is a no-op.
	n.CheckOnce()
	if got := len(rec.all()); got != 2 {
		t.Errorf("pushes after repeat sweep = %d, want still 2", got)
	}

	// A fresh revision triggers another sweep.
	if err := TouchNotifySignal(cfg.SignalFilePath()); err != nil {
		t.Fatalf("touch signal: %v", err)
	}
	n.CheckOnce()
	if got := len(rec.all()); got != 4 {
		t.Errorf("pushes after new revision = %d, want 4", got)
	}
}
