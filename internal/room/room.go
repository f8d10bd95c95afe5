package room

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// A shared document and the connections currently editing it
type Room struct {
	ID string

	mu        sync.Mutex
	content   string
	members   map[string]struct{}
	revision  uint64
	createdAt time.Time
	updatedAt time.Time

	// Set under mu when the registry drops this room. Callers holding a stale
	// pointer must re-resolve it through the registry.
	evicted bool
}

// Snapshot is a point-in-time copy of a room's state
type Snapshot struct {
	ID          string
	Content     string
	MemberCount int
	Revision    uint64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// WelcomeContent is the document a room starts with before anyone edits it
func WelcomeContent(roomID string) string {
	return fmt.Sprintf("# Welcome to room: %s\n\nprint(\"Hello from CodeNest!\")", roomID)
}

func newRoom(id, content string, now time.Time) *Room {
	return &Room{
		ID:        id,
		content:   content,
		members:   make(map[string]struct{}),
		createdAt: now,
		updatedAt: now,
	}
}

func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

func (r *Room) snapshot() Snapshot {
	return Snapshot{
		ID:          r.ID,
		Content:     r.content,
		MemberCount: len(r.members),
		Revision:    r.revision,
		CreatedAt:   r.createdAt,
		UpdatedAt:   r.updatedAt,
	}
}

// membersExcept must be called with mu held.
func (r *Room) membersExcept(excluded string) []string {
	out := make([]string, 0, len(r.members))
	for id := range r.members {
		if id == excluded {
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
