package feedback

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

const progressInterval = 250 * time.Millisecond

// AudioLoader fetches the bytes behind a remote URL.
type AudioLoader interface {
	Fetch(ctx context.Context, url string) (*RemoteAudio, error)
}

// PortAudioElement plays WAV clips through the default output device.
type PortAudioElement struct {
	handles *HandleStore
	loader  AudioLoader
	config  *AudioConfig
	logger  *FeedbackLogger

	mu          sync.Mutex
	format      WAVFormat
	samples     []int16
	run         *playbackRun
	initialized bool
	onProgress  func(position, duration float64)
	onEnded     func()

	// posMu guards cursor, which the output callback advances.
	posMu    sync.Mutex
	cursor   int
	finished bool
}

type playbackRun struct {
	stream *portaudio.Stream
	stop   chan struct{}
	done   chan struct{}
}

func NewPortAudioElement(handles *HandleStore, loader AudioLoader, config *AudioConfig) *PortAudioElement {
	if config == nil {
		config = NewAudioConfig()
	}
	return &PortAudioElement{
		handles:    handles,
		loader:     loader,
		config:     config,
		logger:     GetGlobalLogger().WithComponent("PortAudioElement"),
		onProgress: func(float64, float64) {},
		onEnded:    func() {},
	}
}

func (e *PortAudioElement) OnProgress(fn func(position, duration float64)) {
	e.mu.Lock()
	e.onProgress = fn
	e.mu.Unlock()
}

func (e *PortAudioElement) OnEnded(fn func()) {
	e.mu.Lock()
	e.onEnded = fn
	e.mu.Unlock()
}

// Load resolves src to bytes and decodes it. Remote bytes are fetched once
// here; later uploads do not affect a loaded clip.
func (e *PortAudioElement) Load(ctx context.Context, src Source) error {
	if err := src.Validate(); err != nil {
		return err
	}
	_ = e.Pause()

	var data []byte
	mimeType := ""
	switch {
	case src.IsLocal():
		if e.handles == nil {
			return NewPlaybackError("no handle store for local source")
		}
		artifact, err := e.handles.Resolve(src.LocalHandle)
		if err != nil {
			return err
		}
		data = artifact.Bytes()
		mimeType = artifact.MimeType
	default:
		if e.loader == nil {
			return NewPlaybackError("no loader for remote source")
		}
		remote, err := e.loader.Fetch(ctx, src.RemoteURL)
		if err != nil {
			return err
		}
		data = remote.Data
		mimeType = remote.ContentType
	}

	format, samples, err := DecodeWAV(data)
	if err != nil {
		return NewPlaybackError("content unavailable").
			withCause(err).
			AddDetail("mime_type", mimeType)
	}

	e.mu.Lock()
	e.format = format
	e.samples = samples
	onProgress := e.onProgress
	e.mu.Unlock()

	e.posMu.Lock()
	e.cursor = 0
	e.finished = false
	e.posMu.Unlock()

	e.logger.WithFields(map[string]interface{}{
		"source":   src.String(),
		"bytes":    len(data),
		"duration": format.DurationSeconds(len(samples)),
	}).Debug("Clip loaded")
	onProgress(0, format.DurationSeconds(len(samples)))
	return nil
}

func (e *PortAudioElement) duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.samples) == 0 {
		return math.NaN()
	}
	return e.format.DurationSeconds(len(e.samples))
}

func (e *PortAudioElement) position() float64 {
	e.mu.Lock()
	format := e.format
	e.mu.Unlock()
	e.posMu.Lock()
	defer e.posMu.Unlock()
	return format.DurationSeconds(e.cursor)
}

// Play opens an output stream and starts reporting progress.
func (e *PortAudioElement) Play(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.run != nil {
		return nil
	}
	if len(e.samples) == 0 {
		return NewPlaybackError("nothing loaded")
	}
	if !e.initialized {
		if err := portaudio.Initialize(); err != nil {
			return NewPlaybackError("failed to initialize PortAudio").withCause(err)
		}
		e.initialized = true
	}

	e.posMu.Lock()
	if e.cursor >= len(e.samples) {
		e.cursor = 0
	}
	e.finished = false
	e.posMu.Unlock()

	stream, err := portaudio.OpenDefaultStream(0, e.format.Channels, float64(e.format.SampleRate), e.config.BufferSize, e.fill)
	if err != nil {
		return NewPlaybackError("failed to open output stream").withCause(err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return NewPlaybackError("failed to start output stream").withCause(err)
	}

	run := &playbackRun{stream: stream, stop: make(chan struct{}), done: make(chan struct{})}
	e.run = run
	go e.monitor(run)
	return nil
}

// fill runs on the PortAudio callback thread.
func (e *PortAudioElement) fill(out []int16) {
	e.posMu.Lock()
	defer e.posMu.Unlock()

	n := copy(out, e.samples[min(e.cursor, len(e.samples)):])
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	e.cursor += n
	if e.cursor >= len(e.samples) {
		e.finished = true
	}
}

func (e *PortAudioElement) monitor(run *playbackRun) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-run.stop:
			e.closeStream(run)
			close(run.done)
			return
		case <-ticker.C:
			e.posMu.Lock()
			finished := e.finished
			e.posMu.Unlock()

			e.mu.Lock()
			onProgress := e.onProgress
			onEnded := e.onEnded
			e.mu.Unlock()

			if !finished {
				onProgress(e.position(), e.duration())
				continue
			}

			e.mu.Lock()
			if e.run == run {
				e.run = nil
			}
			e.mu.Unlock()
			e.closeStream(run)

			e.posMu.Lock()
			e.cursor = 0
			e.finished = false
			e.posMu.Unlock()

			close(run.done)
			onEnded()
			return
		}
	}
}

func (e *PortAudioElement) closeStream(run *playbackRun) {
	if err := run.stream.Stop(); err != nil {
		e.logger.WithError(err).Debug("Output stream stop failed")
	}
	if err := run.stream.Close(); err != nil {
		e.logger.WithError(err).Debug("Output stream close failed")
	}
}

// Pause stops output and keeps the position.
func (e *PortAudioElement) Pause() error {
	e.mu.Lock()
	run := e.run
	e.run = nil
	e.mu.Unlock()

	if run == nil {
		return nil
	}
	select {
	case <-run.done:
	default:
		close(run.stop)
		<-run.done
	}
	return nil
}

// Seek moves the cursor to seconds, clamped to the clip.
func (e *PortAudioElement) Seek(seconds float64) error {
	e.mu.Lock()
	format := e.format
	total := len(e.samples)
	e.mu.Unlock()

	if total == 0 {
		return NewPlaybackError("nothing loaded")
	}
	if math.IsNaN(seconds) || seconds < 0 {
		seconds = 0
	}
	frame := int(seconds * float64(format.SampleRate))
	idx := frame * format.Channels
	if idx > total {
		idx = total - total%max(format.Channels, 1)
	}

	e.posMu.Lock()
	e.cursor = idx
	e.finished = false
	e.posMu.Unlock()
	return nil
}

// Close stops playback and terminates PortAudio.
func (e *PortAudioElement) Close() error {
	_ = e.Pause()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.samples = nil
	if e.initialized {
		e.initialized = false
		if err := portaudio.Terminate(); err != nil {
			return NewPlaybackError("failed to terminate PortAudio").withCause(err)
		}
	}
	return nil
}
