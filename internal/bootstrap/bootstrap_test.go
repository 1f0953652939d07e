package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"ankicli/internal/config"
	"ankicli/internal/storage"
)

func TestBuildSuccessWithTempDir(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.Default()
	cfg.Storage.BaseDir = filepath.Join(tmp, "data")
	res, err := Build(cfg, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer res.Close()
	if res.Orch == nil || res.Store == nil || res.Anki == nil || res.Progress == nil {
		t.Fatalf("incomplete result: %+v", res)
	}
	if res.Model != config.DefaultProviderModel {
		t.Fatalf("model=%q", res.Model)
	}
	// Every catalog op is wired, compact_conversation included.
	if len(res.ToolNames) != 32 || !slices.Contains(res.ToolNames, "compact_conversation") {
		t.Fatalf("tools=%v", res.ToolNames)
	}
	if res.Progress.Path() != filepath.Join(cfg.Storage.BaseDir, "learning_summary.json") {
		t.Fatalf("progress path=%s", res.Progress.Path())
	}
}

func TestBuildSQLiteBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.BaseDir = t.TempDir()
	cfg.Storage.Backend = "sqlite"
	res, err := Build(cfg, nil)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer res.Close()
	if _, ok := res.Store.(*storage.SQLiteStore); !ok {
		t.Fatalf("store=%T, want *storage.SQLiteStore", res.Store)
	}
	if _, err := os.Stat(filepath.Join(cfg.Storage.BaseDir, storage.SQLiteFile)); err != nil {
		t.Fatalf("database not created: %v", err)
	}
}

func TestBuildUnknownBackendFails(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.BaseDir = t.TempDir()
	cfg.Storage.Backend = "redis"
	if _, err := Build(cfg, nil); err == nil {
		t.Fatal("Build with unknown backend should fail")
	}
}

func TestToolNotesPersistThroughConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("ANKICLI_HOME", "")
	t.Setenv("ANKICLI_CONFIG_PATH", "")
	t.Chdir(t.TempDir())
	cfg := config.Default()
	cfg.Storage.BaseDir = filepath.Join(home, ".ankicli")
	cfg.ToolNotes = map[string]string{"add_card": "always add an example sentence"}
	res, err := Build(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Close()
	if err := res.Notes.SetToolNote("sync_anki", "sync after every bulk add"); err != nil {
		t.Fatal(err)
	}
	stats := res.Orch.CurrentContextStats()
	if stats.EstimatedTokens == 0 {
		t.Fatal("static prompt should count toward context")
	}
	if _, err := res.Orch.CompactNow(context.Background(), "test"); err != nil {
		t.Fatalf("CompactNow on empty history: %v", err)
	}
	reloaded, err := config.Load(cfg.FilePath())
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.ToolNotes["sync_anki"] == "" {
		t.Fatalf("note not persisted: %v", reloaded.ToolNotes)
	}
}
