package collab

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/jaakkos/deaddrop/internal/domain"
)

func TestSpawnPolicyTools(t *testing.T) {
	s := testServer(testService(t))
	mustCall(t, s, "register", map[string]any{"name": "boss", "role": "lead"})

	text := mustCall(t, s, "set_spawn_policy", map[string]any{
		"agent": "boss", "scope": "global", "enabled": true, "max_minions": float64(2),
	})
	if text != "Spawn policy for 'global' set: enabled=true, max_minions=2." {
		t.Errorf("text = %q", text)
	}

	text = mustCall(t, s, "get_spawn_policy", map[string]any{"agent": "pilot"})
	var pol domain.EffectivePolicy
	if err := json.Unmarshal([]byte(text), &pol); err != nil {
		t.Fatalf("policy not JSON: %v\n%s", err, text)
	}
	if !pol.Enabled || pol.MaxMinions != 2 || pol.ActiveMinions != 0 || !pol.CanSpawn {
		t.Errorf("policy = %+v", pol)
	}
}

func TestSetSpawnPolicyToolLeadOnly(t *testing.T) {
	s := testServer(testService(t))
	mustCall(t, s, "register", map[string]any{"name": "boss", "role": "lead"})
	mustCall(t, s, "register", map[string]any{"name": "alice", "role": "coder"})

	text := mustCall(t, s, "set_spawn_policy", map[string]any{
		"agent": "alice", "scope": "global", "enabled": false, "max_minions": float64(0),
	})
	if !strings.HasPrefix(text, "Error: unauthorized") {
		t.Errorf("text = %q", text)
	}
}

func TestLogMinionTool(t *testing.T) {
	s := testServer(testService(t))

	text := mustCall(t, s, "log_minion", map[string]any{
		"agent": "pilot", "status": "spawned", "description": "scraping docs",
	})
	if text != "Minion #1 logged as spawned for 'pilot'." {
		t.Errorf("text = %q", text)
	}

	text = mustCall(t, s, "log_minion", map[string]any{
		"agent": "pilot", "status": "completed", "result": "done",
	})
	if text != "Minion #1 marked completed." {
		t.Errorf("text = %q", text)
	}

	text = mustCall(t, s, "log_minion", map[string]any{
		"agent": "pilot", "status": "completed",
	})
	if text != "Error: no active minion to update" {
		t.Errorf("text = %q", text)
	}
}
