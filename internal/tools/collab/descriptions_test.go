package collab

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/deaddrop/internal/store"
)

// fakeSession satisfies server.ClientSession for filter tests.
type fakeSession struct {
	id          string
	notifyCh    chan mcp.JSONRPCNotification
	initialized bool
}

func newFakeSession(id string) *fakeSession {
	return &fakeSession{id: id, notifyCh: make(chan mcp.JSONRPCNotification, 8)}
}

func (f *fakeSession) SessionID() string { return f.id }
func (f *fakeSession) NotificationChannel() chan<- mcp.JSONRPCNotification {
	return f.notifyCh
}
func (f *fakeSession) Initialize()       { f.initialized = true }
func (f *fakeSession) Initialized() bool { return f.initialized }

func TestUnreadPrefix(t *testing.T) {
	got := unreadPrefix(3, []string{"alice", "bob"})
	want := "*** YOU HAVE 3 UNREAD MESSAGE(S) from alice, bob *** Call check_inbox now! | "
	if got != want {
		t.Errorf("prefix = %q, want %q", got, want)
	}
}

func TestUnreadToolFilterPrefixesCheckInbox(t *testing.T) {
	svc := testService(t)
	srv := testServer(svc)
	filter := UnreadToolFilter(svc, testLogger())

	if _, _, err := svc.RegisterAgent("sess-bob", "bob", "coder", "", "", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Store.RegisterAgent("alice", "coder", "", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Store.Send(store.SendRequest{From: "alice", To: "bob", Content: "hi"}); err != nil {
		t.Fatal(err)
	}

	tools := []mcp.Tool{
		{Name: "send", Description: "send desc"},
		{Name: "check_inbox", Description: checkInboxDescription},
	}

	// No session on the context: untouched.
	out := filter(context.Background(), tools)
	if out[1].Description != checkInboxDescription {
		t.Errorf("description modified without a session: %q", out[1].Description)
	}

	// Session bound to an agent with unread mail: banner prepended.
	session := newFakeSession("sess-bob")
	ctx := srv.WithContext(context.Background(), session)
	out = filter(ctx, tools)
	wantPrefix := "*** YOU HAVE 1 UNREAD MESSAGE(S) from alice *** Call check_inbox now! | "
	if !strings.HasPrefix(out[1].Description, wantPrefix) {
		t.Errorf("description = %q, want prefix %q", out[1].Description, wantPrefix)
	}
	if !strings.HasSuffix(out[1].Description, checkInboxDescription) {
		t.Errorf("baseline description lost: %q", out[1].Description)
	}
	if out[0].Description != "send desc" {
		t.Errorf("other tool touched: %q", out[0].Description)
	}
	// The input slice is never mutated.
	if tools[1].Description != checkInboxDescription {
		t.Errorf("input slice mutated: %q", tools[1].Description)
	}

	// Drained inbox: banner gone.
	if _, err := svc.Store.CheckInbox("bob"); err != nil {
		t.Fatal(err)
	}
	out = filter(ctx, tools)
	if out[1].Description != checkInboxDescription {
		t.Errorf("banner still present after drain: %q", out[1].Description)
	}
}

func TestUnreadToolFilterUnboundSession(t *testing.T) {
	svc := testService(t)
	srv := testServer(svc)
	filter := UnreadToolFilter(svc, testLogger())

	tools := []mcp.Tool{{Name: "check_inbox", Description: checkInboxDescription}}
	ctx := srv.WithContext(context.Background(), newFakeSession("sess-unknown"))
	out := filter(ctx, tools)
	if out[0].Description != checkInboxDescription {
		t.Errorf("description modified for unbound session: %q", out[0].Description)
	}
}

var _ server.ClientSession = (*fakeSession)(nil)
