package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Names the kind of message carried in an envelope
type Event string

const (
	// Produced by the transport, never sent by clients
	EventConnect    Event = "connect"
	EventDisconnect Event = "disconnect"

	// Client to server
	EventJoinRoom   Event = "join_room"
	EventCodeChange Event = "code_change"
	EventLeaveRoom  Event = "leave_room"

	// Server to client
	EventInitialCode Event = "initial_code"
	EventCodeUpdate  Event = "code_update"
	EventError       Event = "error"
)

const MsgRoomIDRequired = "Room ID is required."

// MsgJoinFailed is the error text for a join the room refused.
func MsgJoinFailed(roomID string) string {
	return fmt.Sprintf("Could not join room %s.", roomID)
}

var (
	ErrEmptyMessage  = errors.New("empty message")
	ErrUnknownEvent  = errors.New("unknown event")
	ErrMissingRoomID = errors.New("missing roomId")
	ErrMissingCode   = errors.New("missing code")
)

// Envelope is the JSON shape of every websocket text frame
type Envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ParseEnvelope decodes a client frame and rejects events clients may not send
func ParseEnvelope(raw []byte) (Envelope, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Envelope{}, ErrEmptyMessage
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Event {
	case EventJoinRoom, EventCodeChange, EventLeaveRoom:
		return env, nil
	default:
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}
}

type roomPayload struct {
	RoomID *string `json:"roomId"`
	Code   *string `json:"code"`
}

func decodePayload(data json.RawMessage) (roomPayload, error) {
	var p roomPayload
	if len(data) == 0 || string(data) == "null" {
		return p, nil
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}

func requireRoomID(p roomPayload) (string, error) {
	if p.RoomID == nil || *p.RoomID == "" {
		return "", ErrMissingRoomID
	}
	return *p.RoomID, nil
}

// Body of join_room and leave_room
type RoomRequest struct {
	RoomID string
}

// Body of code_change
type CodeChange struct {
	RoomID string
	Code   string
}

// DecodeRoomRequest reads {roomId}. An absent or empty roomId is an error.
func DecodeRoomRequest(data json.RawMessage) (RoomRequest, error) {
	p, err := decodePayload(data)
	if err != nil {
		return RoomRequest{}, err
	}
	id, err := requireRoomID(p)
	if err != nil {
		return RoomRequest{}, err
	}
	return RoomRequest{RoomID: id}, nil
}

// DecodeCodeChange reads {roomId, code}. An empty code string is valid content,
// only an absent code is rejected.
func DecodeCodeChange(data json.RawMessage) (CodeChange, error) {
	p, err := decodePayload(data)
	if err != nil {
		return CodeChange{}, err
	}
	id, err := requireRoomID(p)
	if err != nil {
		return CodeChange{}, err
	}
	if p.Code == nil {
		return CodeChange{}, ErrMissingCode
	}
	return CodeChange{RoomID: id, Code: *p.Code}, nil
}

// Frame is one outbound message addressed to a single connection
type Frame struct {
	Event Event
	Data  any
}

type codeBody struct {
	Code string `json:"code"`
}

type errorBody struct {
	Message string `json:"message"`
}

func InitialCode(code string) Frame { return Frame{Event: EventInitialCode, Data: codeBody{Code: code}} }

func CodeUpdate(code string) Frame { return Frame{Event: EventCodeUpdate, Data: codeBody{Code: code}} }

func Error(message string) Frame { return Frame{Event: EventError, Data: errorBody{Message: message}} }

// Encode renders the frame as an envelope
func (f Frame) Encode() ([]byte, error) {
	data, err := json.Marshal(f.Data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", f.Event, err)
	}
	return json.Marshal(Envelope{Event: f.Event, Data: data})
}
