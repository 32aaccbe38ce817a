package hub

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/jaakkos/deaddrop/internal/policy"
)

func testHubConfig(t *testing.T) *policy.HubConfig {
	t.Helper()
	dir := t.TempDir()
	return &policy.HubConfig{
		Host:           "127.0.0.1",
		Port:           9500,
		DBPath:         filepath.Join(dir, "hub.db"),
		ArchiveDir:     filepath.Join(dir, "archive"),
		RoomDataDir:    filepath.Join(dir, "rooms"),
		RoomImage:      "dead-drop-room:test",
		AdvertiseHost:  "localhost",
		PortRangeStart: 9401,
		PortRangeEnd:   9403,
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(testHubConfig(t))
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestCreateRoomAllocatesDistinctPorts(t *testing.T) {
	r := newTestRegistry(t)

	a, err := r.CreateRoom("proj-a", "team1")
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	b, err := r.CreateRoom("proj-b", "")
	if err != nil {
		t.Fatalf("create b: %v", err)
	}
	if a.Port == b.Port {
		t.Errorf("ports collide: %d", a.Port)
	}
	if a.Port < 9401 || a.Port > 9403 || b.Port < 9401 || b.Port > 9403 {
		t.Errorf("ports outside range: %d, %d", a.Port, b.Port)
	}
	if a.Token == "" || a.Token == b.Token {
		t.Errorf("tokens not unique: %q, %q", a.Token, b.Token)
	}
	if !strings.HasSuffix(a.DBPath, filepath.Join("proj-a", "messages.db")) {
		t.Errorf("db path = %q", a.DBPath)
	}
}

func TestCreateRoomRefusesDuplicateRunning(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.CreateRoom("proj", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := r.CreateRoom("proj", ""); err == nil {
		t.Error("duplicate running room accepted")
	}
}

func TestArchivedRoomFreesPortAndName(t *testing.T) {
	r := newTestRegistry(t)
	a, err := r.CreateRoom("proj", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := r.MarkArchived("proj"); err != nil {
		t.Fatalf("archive: %v", err)
	}

	room, err := r.GetRoom("proj")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if room.Status != RoomArchived || room.ArchivedAt.IsZero() {
		t.Errorf("room = %+v", room)
	}

	// The name can be reused and the port pool no longer counts the old room.
	b, err := r.CreateRoom("proj", "")
	if err != nil {
		t.Fatalf("recreate: %v", err)
	}
	if b.Port != a.Port {
		t.Errorf("port = %d, want the freed %d", b.Port, a.Port)
	}
	if b.Token == a.Token {
		t.Error("token reused across room generations")
	}
}

func TestPortPoolExhaustion(t *testing.T) {
	r := newTestRegistry(t)
	for _, name := range []string{"a", "b", "c"} {
		if _, err := r.CreateRoom(name, ""); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}
	if _, err := r.CreateRoom("d", ""); err == nil ||
		!strings.Contains(err.Error(), "no free port") {
		t.Errorf("err = %v, want pool exhaustion", err)
	}
}

func TestMembershipLifecycle(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.CreateRoom("proj", ""); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := r.JoinRoom("proj", "alice"); err != nil {
		t.Fatalf("join: %v", err)
	}
	// Joining twice is a no-op.
	if err := r.JoinRoom("proj", "alice"); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if err := r.JoinRoom("proj", "bob"); err != nil {
		t.Fatalf("join bob: %v", err)
	}

	members, err := r.Members("proj")
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if len(members) != 2 || members[0] != "alice" || members[1] != "bob" {
		t.Errorf("members = %v", members)
	}

	rooms, err := r.RoomsFor("alice")
	if err != nil {
		t.Fatalf("rooms for: %v", err)
	}
	if len(rooms) != 1 || rooms[0].Name != "proj" {
		t.Errorf("rooms = %+v", rooms)
	}

	if err := r.LeaveRoom("proj", "alice"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if err := r.LeaveRoom("proj", "alice"); err == nil {
		t.Error("left a room twice")
	}
	rooms, err = r.RoomsFor("alice")
	if err != nil {
		t.Fatalf("rooms for: %v", err)
	}
	if len(rooms) != 0 {
		t.Errorf("rooms after leave = %+v", rooms)
	}
}

func TestJoinRequiresRunningRoom(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.JoinRoom("ghost", "alice"); err == nil {
		t.Error("joined a room that does not exist")
	}
	if _, err := r.CreateRoom("proj", ""); err != nil {
		t.Fatal(err)
	}
	if err := r.MarkArchived("proj"); err != nil {
		t.Fatal(err)
	}
	if err := r.JoinRoom("proj", "alice"); err == nil {
		t.Error("joined an archived room")
	}
}

func TestRecreatedRoomClearsMembers(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.CreateRoom("proj", ""); err != nil {
		t.Fatal(err)
	}
	if err := r.JoinRoom("proj", "alice"); err != nil {
		t.Fatal(err)
	}
	if err := r.MarkArchived("proj"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.CreateRoom("proj", ""); err != nil {
		t.Fatal(err)
	}
	members, err := r.Members("proj")
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 0 {
		t.Errorf("members carried across generations: %v", members)
	}
}

func TestSetPinned(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.CreateRoom("proj", ""); err != nil {
		t.Fatal(err)
	}
	if err := r.SetPinned("proj", true); err != nil {
		t.Fatalf("pin: %v", err)
	}
	room, err := r.GetRoom("proj")
	if err != nil {
		t.Fatal(err)
	}
	if !room.Pinned {
		t.Error("room not pinned")
	}
	if err := r.SetPinned("ghost", true); err == nil {
		t.Error("pinned a room that does not exist")
	}
}

func TestListRooms(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.CreateRoom("a", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := r.CreateRoom("b", ""); err != nil {
		t.Fatal(err)
	}
	if err := r.MarkArchived("a"); err != nil {
		t.Fatal(err)
	}

	rooms, err := r.ListRooms()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("rooms = %+v", rooms)
	}
	// Running rooms sort before archived ones.
	if rooms[0].Name != "b" || rooms[0].Status != RoomRunning {
		t.Errorf("first = %+v", rooms[0])
	}
}
