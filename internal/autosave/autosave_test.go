package autosave

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/int-arsh/codenest/internal/db"
	"github.com/int-arsh/codenest/internal/room"
)

func setupService(t *testing.T, config Config, opts ...room.Option) (*Service, *room.Registry, *db.Database) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "codenest-autosave-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	database, err := db.New(filepath.Join(tmpDir, "test.db"))
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
		os.RemoveAll(tmpDir)
	})

	reg := room.NewRegistry(opts...)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(reg, database, config, logger), reg, database
}

func TestSweepSavesChangedRooms(t *testing.T) {
	svc, reg, database := setupService(t, Config{Interval: time.Minute, KeepAuto: 20})

	reg.GetOrCreate("untouched")
	reg.SetContent("edited", "print(1)")

	if saved := svc.Sweep(); saved != 1 {
		t.Fatalf("Expected 1 room saved, got %d", saved)
	}

	latest, err := database.GetLatestVersion("edited")
	if err != nil || latest == nil {
		t.Fatalf("Expected a version for edited room: %v", err)
	}
	if !latest.IsAuto || latest.Content != "print(1)" {
		t.Errorf("Unexpected version %+v", latest)
	}
	if count, _ := database.GetVersionCount("untouched"); count != 0 {
		t.Errorf("Welcome-only room should not be saved, got %d", count)
	}

	if saved := svc.Sweep(); saved != 0 {
		t.Errorf("Unchanged room should not be saved again, got %d", saved)
	}

	reg.SetContent("edited", "print(2)")
	if saved := svc.Sweep(); saved != 1 {
		t.Errorf("Expected changed room saved again, got %d", saved)
	}
}

func TestSweepSkipsIdenticalContent(t *testing.T) {
	svc, reg, database := setupService(t, Config{Interval: time.Minute})

	reg.SetContent("r", "same")
	svc.Sweep()

	// A new revision with the same text is not a new version
	reg.SetContent("r", "same")
	if saved := svc.Sweep(); saved != 0 {
		t.Errorf("Expected duplicate content skipped, got %d", saved)
	}
	if count, _ := database.GetVersionCount("r"); count != 1 {
		t.Errorf("Expected 1 version, got %d", count)
	}
}

func TestSweepKeepsRecentAutoVersions(t *testing.T) {
	svc, reg, database := setupService(t, Config{Interval: time.Minute, KeepAuto: 3})

	for i := 0; i < 6; i++ {
		reg.SetContent("r", string(rune('a'+i)))
		svc.Sweep()
	}

	if count, _ := database.GetVersionCount("r"); count != 3 {
		t.Errorf("Expected 3 autosaves kept, got %d", count)
	}
}

func TestSaveNow(t *testing.T) {
	svc, reg, database := setupService(t, Config{Interval: time.Minute})

	if ok, err := svc.SaveNow("missing"); ok || err != nil {
		t.Errorf("Unknown room should be a no-op, got %v %v", ok, err)
	}

	reg.SetContent("r", "x")
	ok, err := svc.SaveNow("r")
	if err != nil || !ok {
		t.Fatalf("Expected save, got %v %v", ok, err)
	}
	if count, _ := database.GetVersionCount("r"); count != 1 {
		t.Errorf("Expected 1 version, got %d", count)
	}
}

func TestSweepEvictsIdleRooms(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	svc, reg, _ := setupService(t,
		Config{IdleTTL: time.Minute},
		room.WithClock(func() time.Time { return now }),
	)

	reg.GetOrCreate("idle")
	reg.AddMember("busy", "a")
	now = now.Add(time.Hour)

	if !svc.Enabled() {
		t.Fatal("Service with an idle TTL should be enabled")
	}
	if saved := svc.Sweep(); saved != 0 {
		t.Errorf("Autosave is disabled, expected 0 saved, got %d", saved)
	}
	if _, ok := reg.Lookup("idle"); ok {
		t.Error("Idle room should be evicted")
	}
	if _, ok := reg.Lookup("busy"); !ok {
		t.Error("Occupied room should be kept")
	}
}

func TestDisabledService(t *testing.T) {
	svc, _, _ := setupService(t, Config{})
	if svc.Enabled() {
		t.Error("Service without interval or TTL should be disabled")
	}
	svc.Start()
	svc.Stop()
}

func TestStartStopFlushes(t *testing.T) {
	svc, reg, database := setupService(t, Config{Interval: time.Hour})

	svc.Start()
	reg.SetContent("r", "pending")
	svc.Stop()

	if count, _ := database.GetVersionCount("r"); count != 1 {
		t.Errorf("Expected pending edit flushed on stop, got %d versions", count)
	}
}
