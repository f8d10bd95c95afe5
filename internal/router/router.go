package router

import (
	"errors"
	"log/slog"

	"github.com/int-arsh/codenest/internal/broadcast"
	"github.com/int-arsh/codenest/internal/metrics"
	"github.com/int-arsh/codenest/internal/protocol"
	"github.com/int-arsh/codenest/internal/room"
	"github.com/int-arsh/codenest/internal/session"
)

// Router maps transport events onto sessions and the dispatcher. It never
// returns errors to the transport: every failure becomes an error frame to
// the requester or is dropped.
type Router struct {
	sessions   *session.Manager
	dispatcher *broadcast.Dispatcher
	log        *slog.Logger
}

func New(sessions *session.Manager, dispatcher *broadcast.Dispatcher, logger *slog.Logger) *Router {
	return &Router{sessions: sessions, dispatcher: dispatcher, log: logger}
}

func (r *Router) Connect(connID string) {
	metrics.EventsReceived.WithLabelValues(string(protocol.EventConnect)).Inc()
	r.sessions.Connect(connID)
}

func (r *Router) Disconnect(connID string) {
	metrics.EventsReceived.WithLabelValues(string(protocol.EventDisconnect)).Inc()
	if err := r.sessions.Disconnect(connID); err != nil {
		r.log.Debug("router.disconnect", "conn", connID, "err", err)
	}
}

// HandleMessage decodes one client frame and routes it
func (r *Router) HandleMessage(connID string, raw []byte) {
	env, err := protocol.ParseEnvelope(raw)
	if err != nil {
		r.log.Warn("router.invalid_message", "conn", connID, "err", err)
		return
	}
	r.Handle(connID, env)
}

func (r *Router) Handle(connID string, env protocol.Envelope) {
	defer func() {
		if v := recover(); v != nil {
			r.log.Error("router.panic", "conn", connID, "event", env.Event, "panic", v)
		}
	}()

	metrics.EventsReceived.WithLabelValues(string(env.Event)).Inc()

	switch env.Event {
	case protocol.EventJoinRoom:
		r.joinRoom(connID, env)
	case protocol.EventCodeChange:
		r.codeChange(connID, env)
	case protocol.EventLeaveRoom:
		r.leaveRoom(connID, env)
	default:
		r.log.Warn("router.unknown_event", "conn", connID, "event", env.Event)
	}
}

func (r *Router) joinRoom(connID string, env protocol.Envelope) {
	req, err := protocol.DecodeRoomRequest(env.Data)
	if err != nil {
		r.log.Warn("router.join_room", "conn", connID, "err", err)
		r.dispatcher.SendError(connID, protocol.MsgRoomIDRequired)
		return
	}

	switch err := r.sessions.Join(connID, req.RoomID); {
	case err == nil:
	case errors.Is(err, session.ErrUnknownSession):
		r.log.Debug("router.join_room", "conn", connID, "room", req.RoomID, "err", err)
	case errors.Is(err, room.ErrRoomFull):
		r.dispatcher.SendError(connID, protocol.MsgJoinFailed(req.RoomID))
	default:
		r.log.Error("router.join_room", "conn", connID, "room", req.RoomID, "err", err)
		r.dispatcher.SendError(connID, protocol.MsgJoinFailed(req.RoomID))
	}
}

// Malformed code_change and leave_room requests are dropped without telling
// the client.
func (r *Router) codeChange(connID string, env protocol.Envelope) {
	req, err := protocol.DecodeCodeChange(env.Data)
	if err != nil {
		r.log.Warn("router.code_change", "conn", connID, "err", err)
		return
	}

	if _, err := r.sessions.Update(connID, req.RoomID, req.Code); err != nil {
		r.log.Debug("router.code_change", "conn", connID, "room", req.RoomID, "err", err)
	}
}

func (r *Router) leaveRoom(connID string, env protocol.Envelope) {
	req, err := protocol.DecodeRoomRequest(env.Data)
	if err != nil {
		r.log.Warn("router.leave_room", "conn", connID, "err", err)
		return
	}

	if err := r.sessions.Leave(connID, req.RoomID); err != nil {
		r.log.Debug("router.leave_room", "conn", connID, "room", req.RoomID, "err", err)
	}
}
