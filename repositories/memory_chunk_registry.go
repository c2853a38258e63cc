package repositories

import (
	"context"
	"sync"
)

// MemoryChunkRegistry keeps chunk sets in process memory. It does not survive
// restarts and cannot be shared between server instances; it exists for
// single-node deployments without Redis and for tests.
type MemoryChunkRegistry struct {
	mu     sync.RWMutex
	chunks map[string]map[int]struct{}
	owners map[string]uint
}

func NewMemoryChunkRegistry() *MemoryChunkRegistry {
	return &MemoryChunkRegistry{
		chunks: make(map[string]map[int]struct{}),
		owners: make(map[string]uint),
	}
}

func (r *MemoryChunkRegistry) IsChunkUploaded(_ context.Context, fileID string, chunkIndex int) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.chunks[fileID]
	if !ok {
		return false, nil
	}
	_, ok = set[chunkIndex]
	return ok, nil
}

func (r *MemoryChunkRegistry) AddChunk(_ context.Context, fileID string, chunkIndex int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.chunks[fileID]
	if !ok {
		set = make(map[int]struct{})
		r.chunks[fileID] = set
	}
	set[chunkIndex] = struct{}{}
	return nil
}

func (r *MemoryChunkRegistry) UploadedCount(_ context.Context, fileID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.chunks[fileID])), nil
}

func (r *MemoryChunkRegistry) UploadedChunks(_ context.Context, fileID string) ([]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.chunks[fileID]
	result := make([]int, 0, len(set))
	for idx := range set {
		result = append(result, idx)
	}
	return result, nil
}

func (r *MemoryChunkRegistry) ClaimOwner(_ context.Context, fileID string, userID uint) (uint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, ok := r.owners[fileID]; ok {
		return owner, nil
	}
	r.owners[fileID] = userID
	return userID, nil
}

func (r *MemoryChunkRegistry) Owner(_ context.Context, fileID string) (uint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owners[fileID], nil
}

func (r *MemoryChunkRegistry) Clear(_ context.Context, fileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.chunks, fileID)
	delete(r.owners, fileID)
	return nil
}
