package session

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/int-arsh/codenest/internal/broadcast"
	"github.com/int-arsh/codenest/internal/broadcast/broadcasttest"
	"github.com/int-arsh/codenest/internal/protocol"
	"github.com/int-arsh/codenest/internal/room"
)

func setupManager(t *testing.T, opts ...room.Option) (*Manager, *room.Registry, *broadcasttest.Directory) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := room.NewRegistry(opts...)
	dir := broadcasttest.NewDirectory()
	return NewManager(reg, broadcast.New(reg, dir, logger), logger), reg, dir
}

func TestConnectRegistersEmptySession(t *testing.T) {
	m, _, _ := setupManager(t)

	m.Connect("a")
	m.Connect("a")

	if m.Count() != 1 {
		t.Errorf("Expected 1 session, got %d", m.Count())
	}
	s, ok := m.Get("a")
	if !ok {
		t.Fatal("Session should exist")
	}
	if _, inRoom := s.CurrentRoom(); inRoom {
		t.Error("New session should not be in a room")
	}
}

func TestJoinRecordsCurrentRoom(t *testing.T) {
	m, reg, dir := setupManager(t)
	conn := dir.Add("a")
	m.Connect("a")

	if err := m.Join("a", "r1"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	s, _ := m.Get("a")
	if current, _ := s.CurrentRoom(); current != "r1" {
		t.Errorf("Expected current room 'r1', got %q", current)
	}
	if got := reg.MembersExcept("r1", ""); len(got) != 1 {
		t.Errorf("Expected 1 member, got %v", got)
	}
	if codes := conn.Codes(protocol.EventInitialCode); len(codes) != 1 {
		t.Errorf("Expected one initial_code, got %v", codes)
	}
}

func TestJoinSecondRoomLeavesFirst(t *testing.T) {
	m, reg, dir := setupManager(t)
	dir.Add("a")
	m.Connect("a")

	m.Join("a", "r1")
	m.Join("a", "r2")

	if got := reg.MembersExcept("r1", ""); len(got) != 0 {
		t.Errorf("Expected r1 to be empty, got %v", got)
	}
	if got := reg.MembersExcept("r2", ""); len(got) != 1 {
		t.Errorf("Expected a in r2, got %v", got)
	}
	s, _ := m.Get("a")
	if current, _ := s.CurrentRoom(); current != "r2" {
		t.Errorf("Expected current room 'r2', got %q", current)
	}
}

func TestLeave(t *testing.T) {
	m, reg, dir := setupManager(t)
	dir.Add("a")
	m.Connect("a")
	m.Join("a", "r1")

	// Leaving a room other than the current one only drops that membership
	reg.AddMember("other", "a")
	if err := m.Leave("a", "other"); err != nil {
		t.Fatalf("Leave failed: %v", err)
	}
	s, _ := m.Get("a")
	if current, _ := s.CurrentRoom(); current != "r1" {
		t.Errorf("Expected current room to stay 'r1', got %q", current)
	}
	if got := reg.MembersExcept("other", ""); len(got) != 0 {
		t.Errorf("Expected other to be empty, got %v", got)
	}

	m.Leave("a", "r1")
	m.Leave("a", "r1")
	if _, inRoom := s.CurrentRoom(); inRoom {
		t.Error("Session should have no room after leave")
	}
	if got := reg.MembersExcept("r1", ""); len(got) != 0 {
		t.Errorf("Expected r1 to be empty, got %v", got)
	}
}

func TestDisconnectRemovesMembership(t *testing.T) {
	m, reg, dir := setupManager(t)
	gone := dir.Add("a")
	dir.Add("b")
	m.Connect("a")
	m.Connect("b")
	m.Join("a", "r")
	m.Join("b", "r")

	if err := m.Disconnect("a"); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if _, ok := m.Get("a"); ok {
		t.Error("Session should be discarded")
	}
	if got := reg.MembersExcept("r", ""); len(got) != 1 || got[0] != "b" {
		t.Errorf("Expected [b], got %v", got)
	}

	gone.Reset()
	if n, _ := m.Update("b", "r", "after"); n != 0 {
		t.Errorf("Expected no recipients, got %d", n)
	}
	if frames := gone.Frames(); len(frames) != 0 {
		t.Errorf("Disconnected connection should not be targeted, got %+v", frames)
	}
}

func TestUnknownSessionIsNoop(t *testing.T) {
	m, reg, _ := setupManager(t)

	if err := m.Join("ghost", "r"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("Expected ErrUnknownSession from Join, got %v", err)
	}
	if err := m.Leave("ghost", "r"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("Expected ErrUnknownSession from Leave, got %v", err)
	}
	if _, err := m.Update("ghost", "r", "x"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("Expected ErrUnknownSession from Update, got %v", err)
	}
	if err := m.Disconnect("ghost"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("Expected ErrUnknownSession from Disconnect, got %v", err)
	}
	if reg.Count() != 0 {
		t.Errorf("Expected no rooms, got %d", reg.Count())
	}
}

func TestJoinFullRoom(t *testing.T) {
	m, reg, dir := setupManager(t, room.WithMaxMembers(1))
	dir.Add("a")
	dir.Add("b")
	m.Connect("a")
	m.Connect("b")
	m.Join("a", "r")
	m.Join("b", "elsewhere")

	err := m.Join("b", "r")
	if !errors.Is(err, room.ErrRoomFull) {
		t.Fatalf("Expected ErrRoomFull, got %v", err)
	}

	s, _ := m.Get("b")
	if _, inRoom := s.CurrentRoom(); inRoom {
		t.Error("Rejected join should leave the connection in no room")
	}
	if got := reg.MembersExcept("elsewhere", ""); len(got) != 0 {
		t.Errorf("Previous room should have been left, got %v", got)
	}
}

func TestConcurrentJoinAndDisconnect(t *testing.T) {
	m, reg, dir := setupManager(t)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		id := string(rune('A' + i))
		dir.Add(id)
		m.Connect(id)
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.Join(id, "r")
		}()
		go func() {
			defer wg.Done()
			m.Disconnect(id)
		}()
	}
	wg.Wait()

	if got := reg.MembersExcept("r", ""); len(got) != 0 {
		t.Errorf("Expected no members after all disconnects, got %v", got)
	}
	if m.Count() != 0 {
		t.Errorf("Expected 0 sessions, got %d", m.Count())
	}
}

func TestUpdateRequiresMembership(t *testing.T) {
	m, reg, dir := setupManager(t)
	member := dir.Add("member")
	dir.Add("outsider")
	m.Connect("member")
	m.Connect("outsider")
	m.Join("member", "r")
	member.Reset()

	n, err := m.Update("outsider", "r", "hijack")
	if !errors.Is(err, ErrNotMember) {
		t.Errorf("Expected ErrNotMember, got %v", err)
	}
	if n != 0 {
		t.Errorf("Expected no recipients, got %d", n)
	}
	if snap, _ := reg.Lookup("r"); snap.Content == "hijack" {
		t.Error("Non-member update should not change content")
	}
	if frames := member.Frames(); len(frames) != 0 {
		t.Errorf("Member should not be notified, got %+v", frames)
	}

	if _, err := m.Update("outsider", "never", "x"); !errors.Is(err, ErrNotMember) {
		t.Errorf("Expected ErrNotMember for unjoined room, got %v", err)
	}
	if _, ok := reg.Lookup("never"); ok {
		t.Error("Non-member update should not create a room")
	}
}
