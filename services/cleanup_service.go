package services

import (
	"context"
	"strings"
	"time"

	"skyvault/logger"
	"skyvault/repositories"
	"skyvault/storage"
)

// CleanupService sweeps temp chunk namespaces whose registry entry has
// expired. The registry TTL is the retention window: once an abandoned
// upload's set falls out of Redis, its chunks are orphans and get removed on
// the next sweep.
type CleanupService struct {
	blobs    storage.BlobStore
	registry repositories.ChunkRegistry
	interval time.Duration
}

func NewCleanupService(blobs storage.BlobStore, registry repositories.ChunkRegistry, intervalSeconds int) *CleanupService {
	interval := time.Duration(intervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}
	return &CleanupService{blobs: blobs, registry: registry, interval: interval}
}

// Run blocks until ctx is cancelled, sweeping on a fixed interval.
func (s *CleanupService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

func (s *CleanupService) SweepOnce(ctx context.Context) {
	keys, err := s.blobs.ListKeys(ctx, "temp")
	if err != nil {
		logger.Warnf("cleanup: listing temp chunks failed: %v", err)
		return
	}

	seen := make(map[string]struct{})
	for _, key := range keys {
		parts := strings.Split(key, "/")
		if len(parts) < 3 || parts[0] != "temp" {
			continue
		}
		seen[parts[1]] = struct{}{}
	}

	removed := 0
	for fileID := range seen {
		count, err := s.registry.UploadedCount(ctx, fileID)
		if err != nil {
			logger.Warnf("cleanup: registry lookup for %s failed: %v", fileID, err)
			continue
		}
		if count > 0 {
			// Still tracked; either in flight or within retention.
			continue
		}
		if err := s.blobs.DeletePrefix(ctx, "temp/"+fileID); err != nil {
			logger.Warnf("cleanup: removing temp chunks for %s failed: %v", fileID, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		logger.Debugf("cleanup: removed %d stale upload namespaces", removed)
	}
}
