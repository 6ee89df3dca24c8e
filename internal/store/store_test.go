package store

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/abelbrown/pingpong/internal/model"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "pingpong.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func status(id model.ID, body string) model.Item {
	return model.Item{
		ID:        id,
		CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Author:    "alice",
		Body:      body,
		Kind:      model.KindStatus,
	}
}

func TestOpen(t *testing.T) {
	st := openTemp(t)

	for _, table := range []string{"items", "timeline_items", "watermarks"} {
		var name string
		err := st.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Fatalf("%s table not created: %v", table, err)
		}
	}
}

func TestSaveItems(t *testing.T) {
	st := openTemp(t)

	n, err := st.SaveItems("home", []model.Item{status(1, "one"), status(2, "two")})
	if err != nil {
		t.Fatalf("SaveItems failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 new items, got %d", n)
	}

	// Same items again are ignored.
	n, err = st.SaveItems("home", []model.Item{status(2, "two"), status(3, "three")})
	if err != nil {
		t.Fatalf("SaveItems failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 new item, got %d", n)
	}

	// An item can belong to several timelines but is stored once.
	if n, _ := st.SaveItems("mentions", []model.Item{status(2, "two")}); n != 1 {
		t.Errorf("expected item to be new to mentions, got %d", n)
	}
	count, err := st.ItemCount()
	if err != nil {
		t.Fatalf("ItemCount failed: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 stored items, got %d", count)
	}
}

func TestSaveItemsRejectsZeroID(t *testing.T) {
	st := openTemp(t)

	_, err := st.SaveItems("home", []model.Item{status(1, "ok"), {Body: "bad"}})
	if !errors.Is(err, model.ErrZeroID) {
		t.Fatalf("expected ErrZeroID, got %v", err)
	}
	// The batch is rolled back as a whole.
	if count, _ := st.ItemCount(); count != 0 {
		t.Errorf("expected rollback, found %d items", count)
	}
}

func TestRecentItems(t *testing.T) {
	st := openTemp(t)

	reply := status(5, "reply")
	reply.InReplyTo = 4
	dm := status(7, "psst")
	dm.Kind = model.KindDirectMessage

	st.SaveItems("home", []model.Item{status(3, "three"), reply, status(9, "nine")})
	st.SaveItems("messages", []model.Item{dm})

	items, err := st.RecentItems("home", 2)
	if err != nil {
		t.Fatalf("RecentItems failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].ID != 9 || items[1].ID != 5 {
		t.Errorf("expected [9 5], got [%d %d]", items[0].ID, items[1].ID)
	}
	if items[1].InReplyTo != 4 {
		t.Errorf("in_reply_to not round-tripped: %d", items[1].InReplyTo)
	}
	if !items[0].CreatedAt.Equal(status(9, "").CreatedAt) {
		t.Errorf("created_at = %v", items[0].CreatedAt)
	}

	msgs, _ := st.RecentItems("messages", 10)
	if len(msgs) != 1 || msgs[0].Kind != model.KindDirectMessage {
		t.Errorf("messages = %+v", msgs)
	}

	none, err := st.RecentItems("unknown", 10)
	if err != nil || len(none) != 0 {
		t.Errorf("unknown timeline: %v, %v", none, err)
	}
}

func TestWatermarkNeverLowered(t *testing.T) {
	st := openTemp(t)

	id, err := st.Watermark("messages")
	if err != nil {
		t.Fatalf("Watermark failed: %v", err)
	}
	if id != 0 {
		t.Errorf("expected zero watermark, got %d", id)
	}

	steps := []struct {
		set, want model.ID
	}{
		{100, 100},
		{250, 250},
		{120, 250},
		{251, 251},
	}
	for _, s := range steps {
		if err := st.SetWatermark("messages", s.set); err != nil {
			t.Fatalf("SetWatermark(%d) failed: %v", s.set, err)
		}
		got, _ := st.Watermark("messages")
		if got != s.want {
			t.Errorf("after SetWatermark(%d): got %d, want %d", s.set, got, s.want)
		}
	}

	if other, _ := st.Watermark("home"); other != 0 {
		t.Errorf("watermarks leaked across feeds: %d", other)
	}
}

func TestPrune(t *testing.T) {
	st := openTemp(t)

	var items []model.Item
	for id := model.ID(1); id <= 10; id++ {
		items = append(items, status(id, "x"))
	}
	st.SaveItems("home", items)

	n, err := st.Prune("home", 4)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if n != 6 {
		t.Errorf("expected 6 removed, got %d", n)
	}
	left, _ := st.RecentItems("home", 100)
	if len(left) != 4 || left[3].ID != 7 {
		t.Errorf("expected newest 4 kept, got %d items", len(left))
	}
}

func TestConcurrentAccess(t *testing.T) {
	st := openTemp(t)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				id := model.ID(w*100 + i + 1)
				if _, err := st.SaveItems("home", []model.Item{status(id, "c")}); err != nil {
					t.Errorf("SaveItems failed: %v", err)
					return
				}
				if err := st.SetWatermark("home", id); err != nil {
					t.Errorf("SetWatermark failed: %v", err)
					return
				}
				if _, err := st.RecentItems("home", 5); err != nil {
					t.Errorf("RecentItems failed: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	if count, _ := st.ItemCount(); count != 80 {
		t.Errorf("expected 80 items, got %d", count)
	}
	if wm, _ := st.Watermark("home"); wm != 320 {
		t.Errorf("expected watermark 320, got %d", wm)
	}
}
