package client

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"
)

func TestDiskSnapshotStoreRoundTrip(t *testing.T) {
	store, err := NewDiskSnapshotStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDiskSnapshotStore returned error: %v", err)
	}

	snap := Snapshot{
		UploadSession: UploadSession{
			FileID:      "u1",
			FileName:    "report.pdf",
			FileSize:    2048,
			ChunkSize:   1024,
			TotalChunks: 2,
			Status:      StatusPaused,
			StartTime:   time.Now().Truncate(time.Second),
		},
		AckedChunks: []int{1},
	}
	if err := store.Save(snap); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	loaded, err := store.Load("u1")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if loaded.FileID != "u1" || loaded.Status != StatusPaused || len(loaded.AckedChunks) != 1 || loaded.AckedChunks[0] != 1 {
		t.Fatalf("loaded snapshot differs: %+v", loaded)
	}

	// Saving again overwrites in place.
	snap.Status = StatusFailed
	store.Save(snap)
	loaded, _ = store.Load("u1")
	if loaded.Status != StatusFailed {
		t.Fatalf("overwrite not visible, got %s", loaded.Status)
	}

	if err := store.Delete("u1"); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if _, err := store.Load("u1"); err == nil {
		t.Fatalf("expected error loading a deleted snapshot")
	}
	// Deleting a missing snapshot is not an error.
	if err := store.Delete("u1"); err != nil {
		t.Fatalf("delete of missing snapshot returned error: %v", err)
	}
}

func TestDiskSnapshotStoreListSkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskSnapshotStore(dir)
	if err != nil {
		t.Fatalf("NewDiskSnapshotStore returned error: %v", err)
	}

	store.Save(Snapshot{UploadSession: UploadSession{FileID: "good-1", Status: StatusPaused}})
	store.Save(Snapshot{UploadSession: UploadSession{FileID: "good-2", Status: StatusFailed}})
	os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644)
	os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0o644)

	snaps, err := store.List()
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}

	var ids []string
	for _, s := range snaps {
		ids = append(ids, s.FileID)
	}
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "good-1" || ids[1] != "good-2" {
		t.Fatalf("unexpected snapshot list: %v", ids)
	}
}
