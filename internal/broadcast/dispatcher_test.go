package broadcast_test

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/int-arsh/codenest/internal/broadcast"
	"github.com/int-arsh/codenest/internal/broadcast/broadcasttest"
	"github.com/int-arsh/codenest/internal/protocol"
	"github.com/int-arsh/codenest/internal/room"
)

func setupDispatcher(t *testing.T) (*broadcast.Dispatcher, *room.Registry, *broadcasttest.Directory) {
	t.Helper()
	reg := room.NewRegistry()
	dir := broadcasttest.NewDirectory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return broadcast.New(reg, dir, logger), reg, dir
}

func TestJoinSendsInitialState(t *testing.T) {
	d, _, dir := setupDispatcher(t)
	conn := dir.Add("a")

	if err := d.Join("room-1", "a"); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	frames := conn.Frames()
	if len(frames) != 1 {
		t.Fatalf("Expected 1 frame, got %d", len(frames))
	}
	if frames[0].Event != protocol.EventInitialCode {
		t.Errorf("Expected initial_code, got %s", frames[0].Event)
	}
	if frames[0].Code != room.WelcomeContent("room-1") {
		t.Errorf("Expected welcome content, got %q", frames[0].Code)
	}
}

func TestBroadcastSkipsOrigin(t *testing.T) {
	d, reg, dir := setupDispatcher(t)
	origin := dir.Add("origin")
	peerA := dir.Add("peer-a")
	peerB := dir.Add("peer-b")

	for _, id := range []string{"origin", "peer-a", "peer-b"} {
		d.Join("r", id)
	}
	origin.Reset()
	peerA.Reset()
	peerB.Reset()

	if n := d.BroadcastUpdate("r", "X", "origin"); n != 2 {
		t.Errorf("Expected 2 recipients, got %d", n)
	}

	if len(origin.Frames()) != 0 {
		t.Error("Originator should not receive its own update")
	}
	for name, c := range map[string]*broadcasttest.Conn{"peer-a": peerA, "peer-b": peerB} {
		codes := c.Codes(protocol.EventCodeUpdate)
		if len(codes) != 1 || codes[0] != "X" {
			t.Errorf("%s: expected [X], got %v", name, codes)
		}
	}

	snap, _ := reg.Lookup("r")
	if snap.Content != "X" {
		t.Errorf("Expected stored content 'X', got %q", snap.Content)
	}
}

func TestBroadcastOrderPerRecipient(t *testing.T) {
	d, reg, dir := setupDispatcher(t)
	dir.Add("origin")
	peer := dir.Add("peer")
	d.Join("r", "origin")
	d.Join("r", "peer")

	d.BroadcastUpdate("r", "X", "origin")
	d.BroadcastUpdate("r", "Y", "origin")

	codes := peer.Codes(protocol.EventCodeUpdate)
	if fmt.Sprint(codes) != "[X Y]" {
		t.Errorf("Expected [X Y], got %v", codes)
	}
	if snap, _ := reg.Lookup("r"); snap.Content != "Y" {
		t.Errorf("Expected final content 'Y', got %q", snap.Content)
	}
}

func TestBroadcastIsolatesFailedRecipient(t *testing.T) {
	d, _, dir := setupDispatcher(t)
	dir.Add("origin")
	broken := dir.Add("broken")
	healthy := dir.Add("healthy")
	for _, id := range []string{"origin", "broken", "healthy"} {
		d.Join("r", id)
	}
	broken.Fail(broadcast.ErrSendQueueFull)

	if n := d.BroadcastUpdate("r", "X", "origin"); n != 1 {
		t.Errorf("Expected 1 successful recipient, got %d", n)
	}
	if codes := healthy.Codes(protocol.EventCodeUpdate); len(codes) != 1 {
		t.Errorf("Healthy peer should still receive the update, got %v", codes)
	}
}

func TestBroadcastUnknownConnection(t *testing.T) {
	d, reg, dir := setupDispatcher(t)
	peer := dir.Add("peer")
	d.Join("r", "peer")
	reg.AddMember("r", "ghost")

	if n := d.BroadcastUpdate("r", "X", ""); n != 1 {
		t.Errorf("Expected 1 recipient, got %d", n)
	}
	if codes := peer.Codes(protocol.EventCodeUpdate); len(codes) != 1 {
		t.Errorf("Expected peer update, got %v", codes)
	}
}

func TestSendError(t *testing.T) {
	d, _, dir := setupDispatcher(t)
	conn := dir.Add("a")

	if err := d.SendError("a", protocol.MsgRoomIDRequired); err != nil {
		t.Fatalf("SendError failed: %v", err)
	}
	frames := conn.Frames()
	if len(frames) != 1 || frames[0].Event != protocol.EventError || frames[0].Message != protocol.MsgRoomIDRequired {
		t.Errorf("Unexpected frames %+v", frames)
	}

	if err := d.SendError("nobody", "x"); !errors.Is(err, broadcast.ErrUnknownConnection) {
		t.Errorf("Expected ErrUnknownConnection, got %v", err)
	}
}

// A joiner racing with writers must see, as its first frame, the content that
// was current when it became a member: every update it receives afterwards is
// one applied after that initial state.
func TestJoinNeverSeesStaleContent(t *testing.T) {
	d, _, dir := setupDispatcher(t)
	dir.Add("writer")
	d.Join("r", "writer")

	const updates = 200
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= updates; i++ {
			d.BroadcastUpdate("r", fmt.Sprintf("%04d", i), "writer")
		}
	}()

	joiners := make([]*broadcasttest.Conn, 20)
	for i := range joiners {
		id := fmt.Sprintf("joiner-%d", i)
		joiners[i] = dir.Add(id)
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			d.Join("r", id)
		}(id)
	}
	wg.Wait()

	for i, c := range joiners {
		frames := c.Frames()
		if len(frames) == 0 || frames[0].Event != protocol.EventInitialCode {
			t.Fatalf("joiner %d: first frame should be initial_code, got %+v", i, frames)
		}
		prev := frames[0].Code
		for _, f := range frames[1:] {
			if f.Event != protocol.EventCodeUpdate {
				t.Fatalf("joiner %d: unexpected frame %+v", i, f)
			}
			if prev != room.WelcomeContent("r") && f.Code <= prev {
				t.Errorf("joiner %d: update %q not newer than %q", i, f.Code, prev)
			}
			prev = f.Code
		}
		if prev != fmt.Sprintf("%04d", updates) {
			t.Errorf("joiner %d: expected to end at latest update, got %q", i, prev)
		}
	}
}
