package feedback

import (
	"time"

	"github.com/google/uuid"
)

// captureSession is the mutable state between start and stop. It is owned by
// exactly one RecorderController and only touched under its mutex.
type captureSession struct {
	id        string
	mimeType  string
	startedAt time.Time
	chunks    [][]byte
	bytes     int
	elapsed   int
	dropped   int
}

func newCaptureSession(mimeType string, now time.Time) *captureSession {
	return &captureSession{
		id:        uuid.NewString(),
		mimeType:  mimeType,
		startedAt: now,
		chunks:    make([][]byte, 0, 16),
	}
}

// append copies data so the device may reuse its buffer.
func (s *captureSession) append(data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	s.chunks = append(s.chunks, buf)
	s.bytes += len(buf)
}

func (s *captureSession) clear() {
	s.chunks = nil
	s.bytes = 0
	s.elapsed = 0
}

func (s *captureSession) snapshot(state CaptureState) CaptureSnapshot {
	return CaptureSnapshot{
		SessionID:      s.id,
		State:          state,
		ElapsedSeconds: s.elapsed,
		ChunkCount:     len(s.chunks),
		TotalBytes:     s.bytes,
		MimeType:       s.mimeType,
		StartedAt:      s.startedAt,
		DroppedChunks:  s.dropped,
	}
}
