// Package broadcasttest provides an in-memory connection directory for tests
// that need to observe the frames a Dispatcher queues.
package broadcasttest

import (
	"encoding/json"
	"sync"

	"github.com/int-arsh/codenest/internal/broadcast"
	"github.com/int-arsh/codenest/internal/protocol"
)

// Frame is a decoded outbound frame
type Frame struct {
	Event   protocol.Event
	Code    string
	Message string
}

// Conn records every frame sent to it
type Conn struct {
	mu     sync.Mutex
	frames []Frame
	err    error
}

func (c *Conn) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return c.err
	}

	var env protocol.Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return err
	}
	var body struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(env.Data, &body); err != nil {
		return err
	}

	c.frames = append(c.frames, Frame{Event: env.Event, Code: body.Code, Message: body.Message})
	return nil
}

// Fail makes every later Send return err
func (c *Conn) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *Conn) Frames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Frame, len(c.frames))
	copy(out, c.frames)
	return out
}

// Codes returns the code carried by each frame of the given event, in order
func (c *Conn) Codes(event protocol.Event) []string {
	var out []string
	for _, f := range c.Frames() {
		if f.Event == event {
			out = append(out, f.Code)
		}
	}
	return out
}

func (c *Conn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}

// Directory is a broadcast.Directory backed by recording connections
type Directory struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

func NewDirectory() *Directory {
	return &Directory{conns: make(map[string]*Conn)}
}

func (d *Directory) Add(connID string) *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := &Conn{}
	d.conns[connID] = c
	return c
}

func (d *Directory) Remove(connID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.conns, connID)
}

func (d *Directory) Sender(connID string) (broadcast.Sender, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.conns[connID]
	if !ok {
		return nil, false
	}
	return c, true
}
