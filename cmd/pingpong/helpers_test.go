package main

import (
	"os"
	"testing"

	"github.com/abelbrown/pingpong/internal/config"
	"github.com/abelbrown/pingpong/internal/model"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
}

func TestOpenArchiveAndPrune(t *testing.T) {
	t.Setenv("PINGPONG_HOME", t.TempDir())

	cfg := config.DefaultConfig()
	cfg.Storage.Archive = false
	st, err := openArchive(cfg)
	if err != nil || st != nil {
		t.Fatalf("archive off: got %v, %v", st, err)
	}

	cfg.Storage.Archive = true
	st, err = openArchive(cfg)
	if err != nil {
		t.Fatalf("openArchive failed: %v", err)
	}
	defer st.Close()

	var items []model.Item
	for id := model.ID(1); id <= archiveKeep+5; id++ {
		items = append(items, model.Item{ID: id, Author: "a", Body: "x"})
	}
	if _, err := st.SaveItems("home", items); err != nil {
		t.Fatalf("SaveItems failed: %v", err)
	}

	pruneArchive(st)

	left, err := st.RecentItems("home", archiveKeep+10)
	if err != nil {
		t.Fatalf("RecentItems failed: %v", err)
	}
	if len(left) != archiveKeep {
		t.Errorf("expected %d items after prune, got %d", archiveKeep, len(left))
	}
}
