package feedback

import (
	"context"
	"fmt"
	"math"
	"sync"
)

// PlaybackController drives a MediaElement and exposes play/pause, seek and
// progress for a single feedback clip.
type PlaybackController struct {
	element MediaElement
	handles *HandleStore
	logger  *FeedbackLogger

	mu       sync.Mutex
	source   Source
	state    PlaybackState
	position float64
	duration float64
	percent  float64

	stateHandlers    []PlaybackStateHandler
	progressHandlers []ProgressHandler
	errorHandlers    []ErrorHandler
}

// NewPlaybackController binds element. handles is consulted to decide
// whether a local source is still playable; it may be nil when only remote
// sources are used.
func NewPlaybackController(element MediaElement, handles *HandleStore, logger *FeedbackLogger) *PlaybackController {
	if logger == nil {
		logger = GetGlobalLogger().WithComponent("Player")
	}
	p := &PlaybackController{
		element:  element,
		handles:  handles,
		logger:   logger,
		state:    PlaybackIdle,
		duration: math.NaN(),
	}
	element.OnProgress(p.handleProgress)
	element.OnEnded(p.handleEnded)
	return p
}

// SetSource binds src and loads it. Progress is reset. A previous local
// source that differs from src has its handle revoked.
func (p *PlaybackController) SetSource(ctx context.Context, src Source) error {
	if err := src.Validate(); err != nil {
		return p.fail(WrapError(err, ErrCodePlayback))
	}

	p.mu.Lock()
	prev := p.source
	wasPlaying := p.state == PlaybackPlaying
	p.source = Source{}
	p.state = PlaybackIdle
	p.position = 0
	p.duration = math.NaN()
	p.percent = 0
	p.mu.Unlock()

	if wasPlaying {
		if err := p.element.Pause(); err != nil {
			p.logger.WithError(err).Warn("Pause before source change failed")
		}
	}
	if prev.IsLocal() && prev.LocalHandle != src.LocalHandle && p.handles != nil {
		p.handles.Revoke(prev.LocalHandle)
	}

	if src.IsLocal() && p.handles != nil && !p.handles.IsLive(src.LocalHandle) {
		p.notifyState(PlaybackIdle)
		return p.fail(NewHandleReleasedError(src.LocalHandle))
	}

	if err := p.element.Load(ctx, src); err != nil {
		p.notifyState(PlaybackIdle)
		fe, ok := AsFeedbackError(err)
		if !ok {
			fe = NewPlaybackError("failed to load source").withCause(err)
		}
		return p.fail(fe.AddDetail("source", src.String()))
	}

	p.mu.Lock()
	p.source = src
	p.mu.Unlock()

	p.logger.LogPlaybackEvent("source_loaded", PlaybackIdle, map[string]interface{}{
		"source": src.String(),
		"local":  src.IsLocal(),
	})
	p.notifyState(PlaybackIdle)
	return nil
}

// TogglePlay pauses when playing and plays otherwise. Playing from Ended
// restarts from the beginning.
func (p *PlaybackController) TogglePlay(ctx context.Context) error {
	p.mu.Lock()
	prev := p.state
	src := p.source

	if prev == PlaybackPlaying {
		p.state = PlaybackPaused
		p.mu.Unlock()
		if err := p.element.Pause(); err != nil {
			p.mu.Lock()
			if p.state == PlaybackPaused {
				p.state = prev
			}
			p.mu.Unlock()
			return p.fail(NewPlaybackError("pause failed").withCause(err))
		}
		p.logger.LogPlaybackEvent("paused", PlaybackPaused, nil)
		p.notifyState(PlaybackPaused)
		return nil
	}

	if src.IsZero() {
		p.mu.Unlock()
		return p.fail(NewPlaybackError("no playback source available"))
	}
	if src.IsLocal() && p.handles != nil && !p.handles.IsLive(src.LocalHandle) {
		p.mu.Unlock()
		return p.fail(NewHandleReleasedError(src.LocalHandle))
	}
	if prev == PlaybackEnded {
		p.position = 0
		p.percent = 0
	}
	p.state = PlaybackPlaying
	p.mu.Unlock()

	if prev == PlaybackEnded {
		if err := p.element.Seek(0); err != nil {
			p.logger.WithError(err).Warn("Rewind before replay failed")
		}
	}

	if err := p.element.Play(ctx); err != nil {
		p.mu.Lock()
		if p.state == PlaybackPlaying {
			p.state = prev
		}
		p.mu.Unlock()
		fe, ok := AsFeedbackError(err)
		if !ok {
			fe = NewPlaybackError("play failed").withCause(err)
		}
		return p.fail(fe.AddDetail("source", src.String()))
	}

	p.logger.LogPlaybackEvent("playing", PlaybackPlaying, map[string]interface{}{"source": src.String()})
	p.notifyState(PlaybackPlaying)
	return nil
}

// Seek jumps to fraction of the known duration. It is rejected while the
// duration is unknown.
func (p *PlaybackController) Seek(fraction float64) error {
	if math.IsNaN(fraction) {
		return NewPlaybackError("seek fraction is not a number")
	}
	p.mu.Lock()
	if p.source.IsZero() {
		p.mu.Unlock()
		return NewInvalidStateError("seek", p.state)
	}
	if !durationKnown(p.duration) {
		p.mu.Unlock()
		return NewPlaybackError("duration unknown, cannot seek")
	}
	fraction = math.Max(0, math.Min(1, fraction))
	target := fraction * p.duration
	p.position = target
	p.percent = fraction * 100
	changed := false
	if p.state == PlaybackEnded {
		p.state = PlaybackPaused
		changed = true
	}
	p.mu.Unlock()

	if err := p.element.Seek(target); err != nil {
		return p.fail(NewPlaybackError("seek failed").withCause(err).AddDetail("target_seconds", target))
	}
	if changed {
		p.notifyState(PlaybackPaused)
	}
	p.notifyProgress()
	return nil
}

// SeekSeconds seeks to an absolute position.
func (p *PlaybackController) SeekSeconds(seconds float64) error {
	p.mu.Lock()
	d := p.duration
	p.mu.Unlock()
	if !durationKnown(d) {
		return NewPlaybackError("duration unknown, cannot seek")
	}
	return p.Seek(seconds / d)
}

func (p *PlaybackController) handleProgress(position, duration float64) {
	p.mu.Lock()
	if p.source.IsZero() {
		p.mu.Unlock()
		return
	}
	reported := durationKnown(duration)
	if reported {
		p.duration = duration
	}
	if math.IsNaN(position) || position < 0 {
		position = 0
	}
	if durationKnown(p.duration) && position > p.duration {
		position = p.duration
	}
	// An invalid total leaves the percent as it was.
	if reported {
		p.percent = position / p.duration * 100
	}
	p.position = position
	p.mu.Unlock()

	p.notifyProgress()
}

func (p *PlaybackController) handleEnded() {
	p.mu.Lock()
	if p.source.IsZero() {
		p.mu.Unlock()
		return
	}
	p.state = PlaybackEnded
	p.position = 0
	p.percent = 0
	p.mu.Unlock()

	p.logger.LogPlaybackEvent("ended", PlaybackEnded, nil)
	p.notifyState(PlaybackEnded)
	p.notifyProgress()
}

// Close stops playback and releases the element.
func (p *PlaybackController) Close() error {
	p.mu.Lock()
	src := p.source
	p.source = Source{}
	p.state = PlaybackIdle
	p.position = 0
	p.duration = math.NaN()
	p.percent = 0
	p.mu.Unlock()

	if src.IsLocal() && p.handles != nil {
		p.handles.Revoke(src.LocalHandle)
	}
	return p.element.Close()
}

func (p *PlaybackController) State() PlaybackState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *PlaybackController) Source() Source {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.source
}

func (p *PlaybackController) Snapshot() PlaybackSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *PlaybackController) snapshotLocked() PlaybackSnapshot {
	return PlaybackSnapshot{
		Source:          p.source,
		State:           p.state,
		PositionSeconds: p.position,
		DurationSeconds: p.duration,
		Percent:         p.percent,
		Position:        FormatTime(p.position),
		Duration:        FormatTime(p.duration),
	}
}

func (p *PlaybackController) AddStateHandler(handler PlaybackStateHandler) func() {
	p.mu.Lock()
	p.stateHandlers = append(p.stateHandlers, handler)
	idx := len(p.stateHandlers) - 1
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		if idx < len(p.stateHandlers) {
			p.stateHandlers[idx] = func(PlaybackState) {}
		}
		p.mu.Unlock()
	}
}

func (p *PlaybackController) AddProgressHandler(handler ProgressHandler) func() {
	p.mu.Lock()
	p.progressHandlers = append(p.progressHandlers, handler)
	idx := len(p.progressHandlers) - 1
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		if idx < len(p.progressHandlers) {
			p.progressHandlers[idx] = func(PlaybackSnapshot) {}
		}
		p.mu.Unlock()
	}
}

func (p *PlaybackController) AddErrorHandler(handler ErrorHandler) func() {
	p.mu.Lock()
	p.errorHandlers = append(p.errorHandlers, handler)
	idx := len(p.errorHandlers) - 1
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		if idx < len(p.errorHandlers) {
			p.errorHandlers[idx] = func(*FeedbackError) {}
		}
		p.mu.Unlock()
	}
}

func (p *PlaybackController) notifyState(state PlaybackState) {
	p.mu.Lock()
	handlers := append([]PlaybackStateHandler(nil), p.stateHandlers...)
	p.mu.Unlock()
	for _, h := range handlers {
		h(state)
	}
}

func (p *PlaybackController) notifyProgress() {
	p.mu.Lock()
	snap := p.snapshotLocked()
	handlers := append([]ProgressHandler(nil), p.progressHandlers...)
	p.mu.Unlock()
	for _, h := range handlers {
		h(snap)
	}
}

func (p *PlaybackController) fail(err *FeedbackError) *FeedbackError {
	p.logger.LogError(err)
	p.mu.Lock()
	handlers := append([]ErrorHandler(nil), p.errorHandlers...)
	p.mu.Unlock()
	for _, h := range handlers {
		h(err)
	}
	return err
}

// maxFormatSeconds caps FormatTime input so the integer conversion cannot
// overflow.
const maxFormatSeconds = float64(math.MaxInt64 / 2)

// FormatTime renders seconds as zero-padded MM:SS. Unknown or negative
// values render as 00:00.
func FormatTime(seconds float64) string {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return "00:00"
	}
	total := int64(math.Floor(math.Min(seconds, maxFormatSeconds)))
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
