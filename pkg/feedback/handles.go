package feedback

import (
	"sync"

	"github.com/google/uuid"
)

const handleScheme = "blob:"

// HandleStore issues and revokes local playback handles, the in-process
// counterpart of object URLs. Resolving a revoked handle fails.
type HandleStore struct {
	mu      sync.RWMutex
	handles map[string]*AudioArtifact
	issued  int
	revoked int
	logger  *FeedbackLogger
}

func NewHandleStore() *HandleStore {
	return &HandleStore{
		handles: make(map[string]*AudioArtifact),
		logger:  GetGlobalLogger().WithComponent("HandleStore"),
	}
}

// Create registers artifact and returns its handle.
func (hs *HandleStore) Create(artifact *AudioArtifact) string {
	handle := handleScheme + uuid.NewString()

	hs.mu.Lock()
	hs.handles[handle] = artifact
	hs.issued++
	hs.mu.Unlock()

	hs.logger.WithField("handle", handle).WithField("bytes", artifact.Size()).Debug("Local handle created")
	return handle
}

// Resolve returns the artifact behind a live handle.
func (hs *HandleStore) Resolve(handle string) (*AudioArtifact, error) {
	hs.mu.RLock()
	defer hs.mu.RUnlock()

	artifact, ok := hs.handles[handle]
	if !ok {
		return nil, NewHandleReleasedError(handle)
	}
	return artifact, nil
}

// Revoke releases a handle. Revoking an unknown handle is a no-op.
func (hs *HandleStore) Revoke(handle string) bool {
	if handle == "" {
		return false
	}
	hs.mu.Lock()
	_, ok := hs.handles[handle]
	if ok {
		delete(hs.handles, handle)
		hs.revoked++
	}
	hs.mu.Unlock()

	if ok {
		hs.logger.WithField("handle", handle).Debug("Local handle revoked")
	}
	return ok
}

// IsLive reports whether handle can still be resolved.
func (hs *HandleStore) IsLive(handle string) bool {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	_, ok := hs.handles[handle]
	return ok
}

// Live returns the number of unrevoked handles.
func (hs *HandleStore) Live() int {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	return len(hs.handles)
}

// HandleStoreStats contains statistics about handle usage
type HandleStoreStats struct {
	Issued  int
	Revoked int
	Live    int
}

func (hs *HandleStore) GetStats() HandleStoreStats {
	hs.mu.RLock()
	defer hs.mu.RUnlock()
	return HandleStoreStats{Issued: hs.issued, Revoked: hs.revoked, Live: len(hs.handles)}
}

// RevokeAll releases every handle, used on shutdown.
func (hs *HandleStore) RevokeAll() int {
	hs.mu.Lock()
	n := len(hs.handles)
	hs.revoked += n
	hs.handles = make(map[string]*AudioArtifact)
	hs.mu.Unlock()
	return n
}
