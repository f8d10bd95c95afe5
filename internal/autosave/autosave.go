package autosave

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/int-arsh/codenest/internal/db"
	"github.com/int-arsh/codenest/internal/metrics"
	"github.com/int-arsh/codenest/internal/room"
)

type Config struct {
	// Interval between autosave sweeps. Zero disables autosave.
	Interval time.Duration
	// Autosaved versions kept per room
	KeepAuto int
	// Empty rooms idle longer than this are evicted. Zero keeps them forever.
	IdleTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Minute,
		KeepAuto: 20,
	}
}

// Service periodically snapshots changed rooms into version history and
// evicts idle empty rooms.
type Service struct {
	registry *room.Registry
	database *db.Database
	config   Config
	log      *slog.Logger

	mu    sync.Mutex
	saved map[string]uint64 // last saved revision per room

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(registry *room.Registry, database *db.Database, config Config, logger *slog.Logger) *Service {
	if config.KeepAuto <= 0 {
		config.KeepAuto = DefaultConfig().KeepAuto
	}
	return &Service{
		registry: registry,
		database: database,
		config:   config,
		log:      logger,
		saved:    make(map[string]uint64),
		stop:     make(chan struct{}),
	}
}

// KeepAuto is the number of auto versions kept per room
func (s *Service) KeepAuto() int {
	return s.config.KeepAuto
}

// Enabled reports whether the service has any periodic work to do
func (s *Service) Enabled() bool {
	return s.autosaveEnabled() || s.config.IdleTTL > 0
}

func (s *Service) autosaveEnabled() bool {
	return s.config.Interval > 0 && s.database != nil
}

func (s *Service) tick() time.Duration {
	if s.config.Interval > 0 {
		return s.config.Interval
	}
	return s.config.IdleTTL
}

func (s *Service) Start() {
	if !s.Enabled() {
		s.log.Info("autosave.disabled")
		return
	}
	s.wg.Add(1)
	go s.run()
	s.log.Info("autosave.started", "interval", s.config.Interval, "keep", s.config.KeepAuto, "idle_ttl", s.config.IdleTTL)
}

func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tick())
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			// Flush pending edits before exiting
			s.Sweep()
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep saves every changed room, then evicts idle rooms. It returns the
// number of versions written.
func (s *Service) Sweep() int {
	saved := 0
	if s.autosaveEnabled() {
		for _, snap := range s.registry.Rooms() {
			if !s.shouldSave(snap) {
				continue
			}
			ok, err := s.saveRoom(snap)
			if err != nil {
				s.log.Error("autosave.room", "room", snap.ID, "err", err)
				continue
			}
			if ok {
				saved++
			}
		}
		if saved > 0 {
			s.log.Info("autosave.sweep", "saved", saved)
		}
	}

	if evicted := s.registry.EvictIdle(s.config.IdleTTL); len(evicted) > 0 {
		s.mu.Lock()
		for _, id := range evicted {
			delete(s.saved, id)
		}
		s.mu.Unlock()
		s.log.Info("autosave.evicted", "rooms", len(evicted))
	}

	return saved
}

// A room still holding its welcome document has nothing worth saving
func (s *Service) shouldSave(snap room.Snapshot) bool {
	if snap.Revision == 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved[snap.ID] != snap.Revision
}

func (s *Service) markSaved(snap room.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[snap.ID] = snap.Revision
}

func (s *Service) saveRoom(snap room.Snapshot) (bool, error) {
	latest, err := s.database.GetLatestVersion(snap.ID)
	if err != nil {
		return false, err
	}

	// Skip content identical to the newest version
	if latest != nil && latest.ContentHash == db.HashContent(snap.Content) {
		s.markSaved(snap)
		return false, nil
	}

	name := fmt.Sprintf("Auto-save %s", time.Now().Format("Jan 2, 3:04 PM"))
	if _, err := s.database.CreateVersion(snap.ID, name, "", snap.Content, "", true); err != nil {
		return false, err
	}
	if err := s.database.DeleteOldAutoVersions(snap.ID, s.config.KeepAuto); err != nil {
		s.log.Warn("autosave.prune", "room", snap.ID, "err", err)
	}

	s.markSaved(snap)
	metrics.VersionsSaved.WithLabelValues("auto").Inc()
	return true, nil
}

// SaveNow autosaves roomID immediately if it changed since the last save
func (s *Service) SaveNow(roomID string) (bool, error) {
	if s.database == nil {
		return false, nil
	}
	snap, ok := s.registry.Lookup(roomID)
	if !ok || !s.shouldSave(snap) {
		return false, nil
	}
	return s.saveRoom(snap)
}
