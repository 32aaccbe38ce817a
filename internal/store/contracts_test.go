package store

import (
	"errors"
	"strings"
	"testing"

	"github.com/jaakkos/deaddrop/internal/domain"
)

func TestContractVersioning(t *testing.T) {
	s := newTestStore(t)
	mustRegister(t, s, "alice", "coder", "")
	mustRegister(t, s, "bob", "coder", "")

	res, err := s.DeclareContract("alice", "renderGrid", "function", "renderGrid(data) -> void", "ui")
	if err != nil {
		t.Fatalf("declare: %v", err)
	}
	if res.Updated || res.Contract.Version != 1 {
		t.Errorf("first declaration = %+v, want fresh v1", res)
	}
	// A fresh declaration is silent.
	if len(res.Recipients) != 0 {
		t.Errorf("recipients = %v, want none", res.Recipients)
	}
	if msgs := drainInbox(t, s, "bob"); len(msgs) != 0 {
		t.Errorf("bob inbox = %+v, want empty after v1", msgs)
	}

	res, err = s.DeclareContract("bob", "renderGrid", "function", "renderGrid(data, opts) -> void", "ui")
	if err != nil {
		t.Fatalf("redeclare: %v", err)
	}
	if !res.Updated || res.Contract.Version != 2 {
		t.Errorf("redeclaration = %+v, want v2 update", res)
	}
	if res.Contract.Owner != "bob" {
		t.Errorf("owner = %s, want ownership transferred to bob", res.Contract.Owner)
	}
	// The bump notifies every other agent.
	if len(res.Recipients) != 1 || res.Recipients[0] != "alice" {
		t.Errorf("recipients = %v, want [alice]", res.Recipients)
	}
	msgs := drainInbox(t, s, "alice")
	if len(msgs) != 1 {
		t.Fatalf("alice inbox = %+v", msgs)
	}
	want := "[CONTRACT v2] function 'renderGrid' updated by bob: renderGrid(data, opts) -> void"
	if msgs[0].Content != want {
		t.Errorf("update notice = %q, want %q", msgs[0].Content, want)
	}
}

func TestContractUniquePerProjectNameKind(t *testing.T) {
	s := newTestStore(t)
	mustRegister(t, s, "alice", "coder", "")

	// Same name, different kind or project: independent v1 rows.
	if _, err := s.DeclareContract("alice", "grid", "function", "fn", "p1"); err != nil {
		t.Fatalf("declare: %v", err)
	}
	res, err := s.DeclareContract("alice", "grid", "dom_id", "#grid", "p1")
	if err != nil {
		t.Fatalf("declare other kind: %v", err)
	}
	if res.Updated || res.Contract.Version != 1 {
		t.Errorf("other kind = %+v, want independent v1", res)
	}
	res, err = s.DeclareContract("alice", "grid", "function", "fn", "p2")
	if err != nil {
		t.Fatalf("declare other project: %v", err)
	}
	if res.Updated || res.Contract.Version != 1 {
		t.Errorf("other project = %+v, want independent v1", res)
	}
}

func TestContractInvalidKind(t *testing.T) {
	s := newTestStore(t)
	_, err := s.DeclareContract("alice", "x", "sproket", "spec", "")
	var invalid *domain.InvalidKindError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want InvalidKindError", err)
	}
	if !strings.Contains(err.Error(), "function") {
		t.Errorf("error should enumerate valid kinds: %q", err.Error())
	}
}

func TestListContractsFilters(t *testing.T) {
	s := newTestStore(t)
	mustRegister(t, s, "alice", "coder", "")
	mustRegister(t, s, "bob", "coder", "")
	s.DeclareContract("alice", "zeta", "function", "z", "p1")
	s.DeclareContract("bob", "alpha", "function", "a", "p1")
	s.DeclareContract("alice", "styles", "css_class", ".grid", "p2")

	all, err := s.ListContracts("", "", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	// Sorted by (kind, name).
	if len(all) != 3 || all[0].Name != "styles" || all[1].Name != "alpha" || all[2].Name != "zeta" {
		t.Errorf("all = %+v", all)
	}

	byOwner, _ := s.ListContracts("", "alice", "")
	if len(byOwner) != 2 {
		t.Errorf("by owner = %+v", byOwner)
	}
	byKind, _ := s.ListContracts("", "", "css_class")
	if len(byKind) != 1 || byKind[0].Name != "styles" {
		t.Errorf("by kind = %+v", byKind)
	}
	byProject, _ := s.ListContracts("p1", "", "")
	if len(byProject) != 2 {
		t.Errorf("by project = %+v", byProject)
	}
}
