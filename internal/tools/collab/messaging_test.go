package collab

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/jaakkos/deaddrop/internal/domain"
)

func TestSendTool(t *testing.T) {
	s := testServer(testService(t))
	mustCall(t, s, "register", map[string]any{"name": "alice", "role": "coder"})
	mustCall(t, s, "register", map[string]any{"name": "bob", "role": "coder"})

	text := mustCall(t, s, "send", map[string]any{
		"from": "alice", "to": "bob", "content": "hello",
	})
	if text != "Message sent from 'alice' to 'bob'." {
		t.Errorf("text = %q", text)
	}
}

func TestSendToolAnnotatesCC(t *testing.T) {
	s := testServer(testService(t))
	mustCall(t, s, "register", map[string]any{"name": "boss", "role": "lead"})
	mustCall(t, s, "register", map[string]any{"name": "alice", "role": "coder"})
	mustCall(t, s, "register", map[string]any{"name": "bob", "role": "coder"})

	text := mustCall(t, s, "send", map[string]any{
		"from": "alice", "to": "bob", "content": "hello",
	})
	if text != "Message sent from 'alice' to 'bob' (CC: boss)." {
		t.Errorf("text = %q", text)
	}
}

func TestSendToolBlockedByUnread(t *testing.T) {
	s := testServer(testService(t))
	mustCall(t, s, "register", map[string]any{"name": "alice", "role": "coder"})
	mustCall(t, s, "register", map[string]any{"name": "bob", "role": "coder"})
	mustCall(t, s, "send", map[string]any{"from": "alice", "to": "bob", "content": "first"})

	// The gate sentinel comes back verbatim, no Error: prefix.
	text := mustCall(t, s, "send", map[string]any{"from": "bob", "to": "alice", "content": "reply"})
	if text != "BLOCKED: You have 1 unread message(s). Call check_inbox first." {
		t.Errorf("text = %q", text)
	}

	mustCall(t, s, "check_inbox", map[string]any{"agent": "bob"})
	text = mustCall(t, s, "send", map[string]any{"from": "bob", "to": "alice", "content": "reply"})
	if !strings.HasPrefix(text, "Message sent") {
		t.Errorf("text after drain = %q", text)
	}
}

func TestCheckInboxTool(t *testing.T) {
	s := testServer(testService(t))
	mustCall(t, s, "register", map[string]any{"name": "alice", "role": "coder"})
	mustCall(t, s, "register", map[string]any{"name": "bob", "role": "coder"})

	text := mustCall(t, s, "check_inbox", map[string]any{"agent": "bob"})
	if text != "[]" {
		t.Errorf("empty inbox = %q, want []", text)
	}

	mustCall(t, s, "send", map[string]any{"from": "alice", "to": "bob", "content": "one"})
	text = mustCall(t, s, "check_inbox", map[string]any{"agent": "bob"})
	var msgs []domain.Message
	if err := json.Unmarshal([]byte(text), &msgs); err != nil {
		t.Fatalf("inbox not JSON: %v\n%s", err, text)
	}
	if len(msgs) != 1 || msgs[0].From != "alice" || msgs[0].Content != "one" {
		t.Errorf("inbox = %+v", msgs)
	}

	// Drained on read.
	text = mustCall(t, s, "check_inbox", map[string]any{"agent": "bob"})
	if text != "[]" {
		t.Errorf("second check = %q, want []", text)
	}
}

func TestCheckInboxToolShowsCCNote(t *testing.T) {
	s := testServer(testService(t))
	mustCall(t, s, "register", map[string]any{"name": "boss", "role": "lead"})
	mustCall(t, s, "register", map[string]any{"name": "alice", "role": "coder"})
	mustCall(t, s, "register", map[string]any{"name": "bob", "role": "coder"})
	mustCall(t, s, "send", map[string]any{"from": "alice", "to": "bob", "content": "x"})

	text := mustCall(t, s, "check_inbox", map[string]any{"agent": "boss"})
	var msgs []domain.Message
	if err := json.Unmarshal([]byte(text), &msgs); err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].CCNote != "[CC] originally to: bob" {
		t.Errorf("cc inbox = %+v", msgs)
	}
}

func TestGetHistoryTool(t *testing.T) {
	s := testServer(testService(t))
	mustCall(t, s, "register", map[string]any{"name": "alice", "role": "coder"})
	mustCall(t, s, "register", map[string]any{"name": "bob", "role": "coder"})
	mustCall(t, s, "send", map[string]any{"from": "alice", "to": "bob", "content": "one"})
	mustCall(t, s, "check_inbox", map[string]any{"agent": "bob"})
	mustCall(t, s, "send", map[string]any{"from": "bob", "to": "alice", "content": "two"})

	text := mustCall(t, s, "get_history", map[string]any{"count": float64(10)})
	var msgs []domain.Message
	if err := json.Unmarshal([]byte(text), &msgs); err != nil {
		t.Fatalf("history not JSON: %v\n%s", err, text)
	}
	if len(msgs) != 2 || msgs[0].Content != "one" || msgs[1].Content != "two" {
		t.Errorf("history = %+v", msgs)
	}

	// History does not consume unread state.
	inbox := mustCall(t, s, "check_inbox", map[string]any{"agent": "alice"})
	if inbox == "[]" {
		t.Error("history consumed alice's unread mail")
	}
}
