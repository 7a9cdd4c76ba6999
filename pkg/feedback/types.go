package feedback

import (
	"math"
	"time"
)

// CaptureState enum
type CaptureState string

const (
	CaptureIdle       CaptureState = "idle"
	CaptureRequesting CaptureState = "requesting"
	CaptureRecording  CaptureState = "recording"
	CaptureStopped    CaptureState = "stopped"
)

// PlaybackState enum
type PlaybackState string

const (
	PlaybackIdle    PlaybackState = "idle"
	PlaybackPlaying PlaybackState = "playing"
	PlaybackPaused  PlaybackState = "paused"
	PlaybackEnded   PlaybackState = "ended"
)

// Source is what a PlaybackController plays. Exactly one of LocalHandle and
// RemoteURL is set.
type Source struct {
	LocalHandle string
	RemoteURL   string
}

// LocalSource builds a source backed by a handle from a HandleStore.
func LocalSource(handle string) Source {
	return Source{LocalHandle: handle}
}

// RemoteSource builds a source backed by a remote URL.
func RemoteSource(url string) Source {
	return Source{RemoteURL: url}
}

// ResolveSource prefers a freshly recorded preview over the remote copy.
func ResolveSource(localHandle, remoteURL string) (Source, error) {
	switch {
	case localHandle != "":
		return LocalSource(localHandle), nil
	case remoteURL != "":
		return RemoteSource(remoteURL), nil
	}
	return Source{}, NewPlaybackError("no playback source available")
}

func (s Source) IsLocal() bool  { return s.LocalHandle != "" }
func (s Source) IsRemote() bool { return s.RemoteURL != "" }
func (s Source) IsZero() bool   { return s.LocalHandle == "" && s.RemoteURL == "" }

// Validate enforces the local/remote exclusivity.
func (s Source) Validate() error {
	if s.IsLocal() && s.IsRemote() {
		return NewPlaybackError("source cannot be both local and remote").
			AddDetail("local_handle", s.LocalHandle).
			AddDetail("remote_url", s.RemoteURL)
	}
	if s.IsZero() {
		return NewPlaybackError("empty playback source")
	}
	return nil
}

func (s Source) String() string {
	if s.IsLocal() {
		return s.LocalHandle
	}
	return s.RemoteURL
}

// CaptureSnapshot is a copy of the recorder's session for display.
type CaptureSnapshot struct {
	SessionID      string
	State          CaptureState
	ElapsedSeconds int
	ChunkCount     int
	TotalBytes     int
	MimeType       string
	StartedAt      time.Time
	PreviewHandle  string
	DroppedChunks  int
}

// PlaybackSnapshot is a copy of the player's session for display.
type PlaybackSnapshot struct {
	Source          Source
	State           PlaybackState
	PositionSeconds float64
	DurationSeconds float64
	Percent         float64
	Position        string
	Duration        string
}

// DurationKnown reports whether the media has reported a usable duration.
func (s PlaybackSnapshot) DurationKnown() bool {
	return durationKnown(s.DurationSeconds)
}

func durationKnown(d float64) bool {
	return !math.IsNaN(d) && !math.IsInf(d, 0) && d > 0
}

// Handler types
type CaptureStateHandler func(CaptureState)
type PlaybackStateHandler func(PlaybackState)
type ProgressHandler func(PlaybackSnapshot)
type ErrorHandler func(*FeedbackError)
type ChunkHandler func([]byte)
