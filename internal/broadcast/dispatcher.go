package broadcast

import (
	"errors"
	"log/slog"

	"github.com/int-arsh/codenest/internal/metrics"
	"github.com/int-arsh/codenest/internal/protocol"
	"github.com/int-arsh/codenest/internal/room"
)

var (
	ErrSendQueueFull     = errors.New("send queue full")
	ErrConnectionClosed  = errors.New("connection closed")
	ErrUnknownConnection = errors.New("unknown connection")
)

// Sender queues an encoded frame for one connection. It must not block on
// network I/O; the transport drains the queue on its own goroutine.
type Sender interface {
	Send(msg []byte) error
}

// Directory resolves connection IDs to their senders
type Directory interface {
	Sender(connID string) (Sender, bool)
}

// Dispatcher turns room mutations into per-connection frames. Every frame is
// queued while the room lock is held, so each recipient sees a room's frames
// in the order the mutations were applied.
type Dispatcher struct {
	registry *room.Registry
	conns    Directory
	log      *slog.Logger
}

func New(registry *room.Registry, conns Directory, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, conns: conns, log: logger}
}

// Join records connID in roomID and queues initial_code with the content
// current at that moment.
func (d *Dispatcher) Join(roomID, connID string) error {
	return d.registry.Join(roomID, connID, func(content string) {
		_ = d.SendInitialState(connID, content)
	})
}

func (d *Dispatcher) SendInitialState(connID, content string) error {
	return d.deliver(connID, protocol.InitialCode(content))
}

func (d *Dispatcher) SendError(connID, message string) error {
	return d.deliver(connID, protocol.Error(message))
}

// BroadcastUpdate stores content for roomID, then queues code_update to every
// member except origin. A failed recipient never stops the others. Returns the
// number of recipients the frame was queued for.
func (d *Dispatcher) BroadcastUpdate(roomID, content, origin string) int {
	msg, err := protocol.CodeUpdate(content).Encode()
	if err != nil {
		d.log.Error("dispatch.encode", "event", protocol.EventCodeUpdate, "err", err)
		return 0
	}

	queued := 0
	d.registry.Update(roomID, origin, content, func(recipients []string) {
		for _, connID := range recipients {
			if d.send(connID, protocol.EventCodeUpdate, msg) == nil {
				queued++
			}
		}
	})

	d.log.Debug("dispatch.broadcast", "room", roomID, "origin", origin, "recipients", queued, "bytes", len(content))
	return queued
}

func (d *Dispatcher) deliver(connID string, f protocol.Frame) error {
	msg, err := f.Encode()
	if err != nil {
		d.log.Error("dispatch.encode", "event", f.Event, "err", err)
		return err
	}
	return d.send(connID, f.Event, msg)
}

func (d *Dispatcher) send(connID string, event protocol.Event, msg []byte) error {
	err := ErrUnknownConnection
	if s, ok := d.conns.Sender(connID); ok {
		err = s.Send(msg)
	}

	if err != nil {
		metrics.FramesDropped.WithLabelValues(dropReason(err)).Inc()
		d.log.Warn("dispatch.drop", "conn", connID, "event", event, "err", err)
		return err
	}

	metrics.FramesSent.WithLabelValues(string(event)).Inc()
	return nil
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, ErrSendQueueFull):
		return "queue_full"
	case errors.Is(err, ErrConnectionClosed):
		return "closed"
	case errors.Is(err, ErrUnknownConnection):
		return "unknown"
	default:
		return "other"
	}
}
