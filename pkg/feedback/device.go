package feedback

import (
	"context"
	"time"
)

// CaptureDevice is a microphone capture backend.
//
// Open requests exclusive access and may block on a permission prompt.
// Start begins emitting encoded fragments to onData in capture order.
// Stop halts capture and delivers any buffered trailing fragment before it
// returns. Release gives the hardware back; it must be safe to call more
// than once and after a failed Open.
type CaptureDevice interface {
	FormatProber
	Open(ctx context.Context) error
	Start(mimeType string, onData ChunkHandler) error
	Stop() error
	Release() error
}

// MediaElement is a playable media backend.
//
// Load binds a source and may fetch it. OnProgress receives the position
// and total duration in seconds; duration is NaN until known. OnEnded fires
// once when playback reaches the end.
type MediaElement interface {
	Load(ctx context.Context, src Source) error
	Play(ctx context.Context) error
	Pause() error
	Seek(seconds float64) error
	OnProgress(func(position, duration float64))
	OnEnded(func())
	Close() error
}

// Ticker is the part of time.Ticker the recorder uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates tickers. Tests substitute a manual one.
type TickerFactory func(d time.Duration) Ticker

type timeTicker struct {
	t *time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTimeTicker is the default TickerFactory.
func NewTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}
