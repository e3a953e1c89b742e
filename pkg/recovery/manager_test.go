package recovery

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/starfail/locengine/pkg/logx"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	t.Setenv("PATH", "")
	cfg := Config{
		Enable:          true,
		BackupDir:       t.TempDir(),
		MaxVersions:     3,
		CompressBackups: true,
	}
	m, err := NewManager(cfg, "locengine", logx.New("debug"))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestNewManagerRejectsDisabledConfig(t *testing.T) {
	if _, err := NewManager(Config{Enable: false}, "locengine", logx.New("debug")); err == nil {
		t.Fatal("expected an error constructing a disabled recovery manager")
	}
}

func TestBackupConfigCreatesVersionOne(t *testing.T) {
	m := testManager(t)
	result, err := m.BackupConfig(context.Background(), "initial backup")
	if err != nil {
		t.Fatalf("BackupConfig: %v", err)
	}
	if !result.Success || result.Version != 1 {
		t.Fatalf("unexpected backup result: %+v", result)
	}
	if filepath.Ext(result.FilePath) != ".gz" {
		t.Errorf("expected a compressed backup file, got %q", result.FilePath)
	}
}

func TestBackupConfigVersionsIncrement(t *testing.T) {
	m := testManager(t)
	first, err := m.BackupConfig(context.Background(), "one")
	if err != nil {
		t.Fatalf("BackupConfig: %v", err)
	}
	second, err := m.BackupConfig(context.Background(), "two")
	if err != nil {
		t.Fatalf("BackupConfig: %v", err)
	}
	if second.Version != first.Version+1 {
		t.Fatalf("expected version to increment, got %d then %d", first.Version, second.Version)
	}
}

func TestCleanupOldVersionsRespectsMaxVersions(t *testing.T) {
	m := testManager(t)
	for i := 0; i < 5; i++ {
		if _, err := m.BackupConfig(context.Background(), "snapshot"); err != nil {
			t.Fatalf("BackupConfig: %v", err)
		}
	}
	if got := len(m.GetVersions()); got > 3 {
		t.Errorf("expected at most 3 retained versions, got %d", got)
	}
}

func TestRestoreConfigRejectsUnknownVersion(t *testing.T) {
	m := testManager(t)
	if _, err := m.RestoreConfig(context.Background(), 99); err == nil {
		t.Fatal("expected an error restoring a nonexistent version")
	}
}

func TestGetVersionsReturnsDefensiveCopy(t *testing.T) {
	m := testManager(t)
	if _, err := m.BackupConfig(context.Background(), "one"); err != nil {
		t.Fatalf("BackupConfig: %v", err)
	}
	versions := m.GetVersions()
	versions[0].Description = "mutated"
	if m.versions[0].Description == "mutated" {
		t.Error("expected GetVersions to return a copy, not a shared slice")
	}
}
