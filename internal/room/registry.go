package room

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/int-arsh/codenest/internal/metrics"
)

var ErrRoomFull = errors.New("room is full")

// Registry owns every live room. The map is guarded by mu; each room's
// content and members are guarded by that room's own lock, so work on
// different rooms never contends beyond the map lookup.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	maxMembers int
	welcome    func(roomID string) string
	now        func() time.Time
}

type Option func(*Registry)

// WithMaxMembers caps room size. Zero means unlimited.
func WithMaxMembers(n int) Option {
	return func(r *Registry) { r.maxMembers = n }
}

func WithWelcome(fn func(roomID string) string) Option {
	return func(r *Registry) { r.welcome = fn }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		rooms:   make(map[string]*Room),
		welcome: WelcomeContent,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetOrCreate returns the room for roomID, creating it with the welcome
// document if it does not exist yet.
func (r *Registry) GetOrCreate(roomID string) *Room {
	r.mu.RLock()
	rm, ok := r.rooms[roomID]
	r.mu.RUnlock()

	if ok {
		return rm
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if rm, ok := r.rooms[roomID]; ok {
		return rm
	}

	rm = newRoom(roomID, r.welcome(roomID), r.now())
	r.rooms[roomID] = rm
	metrics.RoomsActive.Inc()
	return rm
}

func (r *Registry) lookup(roomID string) *Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[roomID]
}

// withRoom runs fn with the room locked. An evicted room is re-resolved so fn
// never observes a room that has left the map.
func (r *Registry) withRoom(roomID string, create bool, fn func(rm *Room)) bool {
	for {
		var rm *Room
		if create {
			rm = r.GetOrCreate(roomID)
		} else if rm = r.lookup(roomID); rm == nil {
			return false
		}

		rm.mu.Lock()
		if rm.evicted {
			rm.mu.Unlock()
			continue
		}
		fn(rm)
		rm.mu.Unlock()
		return true
	}
}

// addMember must be called with rm.mu held.
func (r *Registry) addMember(rm *Room, connID string) error {
	if _, ok := rm.members[connID]; ok {
		return nil
	}
	if r.maxMembers > 0 && len(rm.members) >= r.maxMembers {
		return ErrRoomFull
	}
	rm.members[connID] = struct{}{}
	rm.updatedAt = r.now()
	return nil
}

// AddMember is idempotent.
func (r *Registry) AddMember(roomID, connID string) error {
	var err error
	r.withRoom(roomID, true, func(rm *Room) {
		err = r.addMember(rm, connID)
	})
	return err
}

// RemoveMember is idempotent. Unknown rooms and absent members are ignored.
func (r *Registry) RemoveMember(roomID, connID string) {
	r.withRoom(roomID, false, func(rm *Room) {
		if _, ok := rm.members[connID]; !ok {
			return
		}
		delete(rm.members, connID)
		rm.updatedAt = r.now()
	})
}

// SetContent replaces the room's document. A room that was never joined is
// created so a later join sees the stored content.
func (r *Registry) SetContent(roomID, content string) {
	r.withRoom(roomID, true, func(rm *Room) {
		r.setContent(rm, content)
	})
}

func (r *Registry) setContent(rm *Room, content string) {
	rm.content = content
	rm.revision++
	rm.updatedAt = r.now()
}

// MembersExcept snapshots the members of roomID without excluded.
func (r *Registry) MembersExcept(roomID, excluded string) []string {
	var out []string
	r.withRoom(roomID, false, func(rm *Room) {
		out = rm.membersExcept(excluded)
	})
	return out
}

// Join records connID as a member and hands the current content to fn while
// the room is still locked, so no update can slip in between the two.
func (r *Registry) Join(roomID, connID string, fn func(content string)) error {
	var err error
	r.withRoom(roomID, true, func(rm *Room) {
		if err = r.addMember(rm, connID); err != nil {
			return
		}
		fn(rm.content)
	})
	return err
}

// Update stores content and hands fn the members other than origin while the
// room is still locked. Frames queued inside fn therefore reach each recipient
// in the order updates were applied.
func (r *Registry) Update(roomID, origin, content string, fn func(recipients []string)) {
	r.withRoom(roomID, true, func(rm *Room) {
		r.setContent(rm, content)
		fn(rm.membersExcept(origin))
	})
}

// Lookup returns a snapshot of roomID if it is live.
func (r *Registry) Lookup(roomID string) (Snapshot, bool) {
	rm := r.lookup(roomID)
	if rm == nil {
		return Snapshot{}, false
	}
	return rm.Snapshot(), true
}

// Rooms returns snapshots of all live rooms ordered by most recent activity
func (r *Registry) Rooms() []Snapshot {
	r.mu.RLock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(rooms))
	for _, rm := range rooms {
		out = append(out, rm.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// ActiveCount returns the number of rooms with at least one member
func (r *Registry) ActiveCount() int {
	n := 0
	for _, s := range r.Rooms() {
		if s.MemberCount > 0 {
			n++
		}
	}
	return n
}

// EvictIdle drops rooms that have no members and no activity within ttl.
func (r *Registry) EvictIdle(ttl time.Duration) []string {
	if ttl <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	var evicted []string
	for id, rm := range r.rooms {
		rm.mu.Lock()
		if len(rm.members) == 0 && now.Sub(rm.updatedAt) > ttl {
			rm.evicted = true
			delete(r.rooms, id)
			evicted = append(evicted, id)
		}
		rm.mu.Unlock()
	}

	if len(evicted) > 0 {
		metrics.RoomsActive.Sub(float64(len(evicted)))
		metrics.RoomsEvicted.Add(float64(len(evicted)))
	}
	sort.Strings(evicted)
	return evicted
}
