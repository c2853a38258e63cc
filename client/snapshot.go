package client

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// Snapshot is the persisted form of a session: everything except the live
// source handle, which cannot survive a process restart. Snapshots are a
// cache for rebuilding the resumable list; the server registry remains the
// source of truth for what has been received.
type Snapshot struct {
	UploadSession
	AckedChunks []int `json:"acked_chunks"`
}

type SnapshotStore interface {
	Save(snap Snapshot) error
	Load(fileID string) (Snapshot, error)
	List() ([]Snapshot, error)
	Delete(fileID string) error
}

// DiskSnapshotStore keeps one JSON file per session under a directory.
type DiskSnapshotStore struct {
	dir string
}

func NewDiskSnapshotStore(dir string) (*DiskSnapshotStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &DiskSnapshotStore{dir: dir}, nil
}

func (s *DiskSnapshotStore) path(fileID string) string {
	return filepath.Join(s.dir, fileID+".json")
}

func (s *DiskSnapshotStore) Save(snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	tmp := s.path(snap.FileID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, s.path(snap.FileID))
}

func (s *DiskSnapshotStore) Load(fileID string) (Snapshot, error) {
	data, err := os.ReadFile(s.path(fileID))
	if err != nil {
		return Snapshot{}, err
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (s *DiskSnapshotStore) List() ([]Snapshot, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var snaps []Snapshot
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		snap, err := s.Load(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			// A corrupt snapshot only costs the resumable-list entry.
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

func (s *DiskSnapshotStore) Delete(fileID string) error {
	err := os.Remove(s.path(fileID))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
