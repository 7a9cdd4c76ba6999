package feedback

import (
	"context"
	"sync"
	"time"
)

// RecorderController turns a start/stop gesture into a finished
// AudioArtifact and hands it to an Uploader on confirm.
type RecorderController struct {
	device    CaptureDevice
	uploader  Uploader
	handles   *HandleStore
	config    *FeedbackConfig
	newTicker TickerFactory
	clock     func() time.Time
	logger    *FeedbackLogger

	mu            sync.Mutex
	state         CaptureState
	session       *captureSession
	artifact      *AudioArtifact
	previewHandle string
	ticker        Ticker
	tickDone      chan struct{}
	stopping      bool
	uploading     bool
	// generation invalidates callbacks that belong to an abandoned session.
	generation uint64

	stateHandlers []CaptureStateHandler
	errorHandlers []ErrorHandler
}

type RecorderOption func(*RecorderController)

func WithTickerFactory(f TickerFactory) RecorderOption {
	return func(r *RecorderController) { r.newTicker = f }
}

func WithRecorderHandles(hs *HandleStore) RecorderOption {
	return func(r *RecorderController) { r.handles = hs }
}

func WithRecorderLogger(l *FeedbackLogger) RecorderOption {
	return func(r *RecorderController) { r.logger = l }
}

func WithRecorderClock(clock func() time.Time) RecorderOption {
	return func(r *RecorderController) { r.clock = clock }
}

func NewRecorderController(device CaptureDevice, uploader Uploader, config *FeedbackConfig, opts ...RecorderOption) *RecorderController {
	if config == nil {
		config = NewFeedbackConfig()
	}
	r := &RecorderController{
		device:    device,
		uploader:  uploader,
		config:    config,
		newTicker: NewTimeTicker,
		clock:     time.Now,
		state:     CaptureIdle,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.handles == nil {
		r.handles = NewHandleStore()
	}
	if r.logger == nil {
		r.logger = GetGlobalLogger().WithComponent("Recorder")
	}
	return r
}

// Start requests the device and begins a capture session. Starting from
// Stopped discards the previous recording first.
func (r *RecorderController) Start(ctx context.Context) error {
	if r.device == nil {
		return r.fail(NewConfigError("no capture device configured"))
	}

	r.mu.Lock()
	switch r.state {
	case CaptureRequesting, CaptureRecording:
		r.mu.Unlock()
		return NewAlreadyRecordingError()
	case CaptureStopped:
		if r.uploading {
			r.mu.Unlock()
			return NewInvalidStateError("start", "uploading")
		}
		r.discardLocked()
	}
	r.generation++
	gen := r.generation
	r.state = CaptureRequesting
	r.mu.Unlock()
	r.notifyState(CaptureRequesting)

	if err := r.device.Open(ctx); err != nil {
		_ = r.device.Release()
		r.resetToIdle(gen)
		return r.fail(NewDeviceAccessError("microphone access denied or unavailable", err))
	}

	mimeType := NegotiateMimeType(r.device, r.config.MimePreferences, r.config.FallbackMimeType)
	session := newCaptureSession(mimeType, r.clock())

	r.mu.Lock()
	if r.generation != gen || r.state != CaptureRequesting {
		// Closed while the permission prompt was up.
		r.mu.Unlock()
		_ = r.device.Release()
		return NewInvalidStateError("start", "closed")
	}
	r.session = session
	r.mu.Unlock()

	// The state stays Requesting until the device is running, so Stop
	// cannot release it underneath Start.
	if err := r.device.Start(mimeType, func(data []byte) { r.appendChunk(gen, data) }); err != nil {
		_ = r.device.Release()
		r.resetToIdle(gen)
		return r.fail(NewDeviceAccessError("failed to start capture", err).AddDetail("mime_type", mimeType))
	}

	r.mu.Lock()
	if r.generation != gen || r.state != CaptureRequesting {
		// Closed while the device was starting.
		r.mu.Unlock()
		_ = r.device.Stop()
		_ = r.device.Release()
		return NewInvalidStateError("start", "closed")
	}
	ticker := r.newTicker(time.Second)
	done := make(chan struct{})
	r.ticker = ticker
	r.tickDone = done
	r.state = CaptureRecording
	r.mu.Unlock()

	go r.runTicker(ticker, done, gen)

	r.logger.LogCaptureEvent("recording_started", CaptureRecording, map[string]interface{}{
		"session_id": session.id,
		"mime_type":  mimeType,
	})
	r.notifyState(CaptureRecording)
	return nil
}

func (r *RecorderController) runTicker(ticker Ticker, done <-chan struct{}, gen uint64) {
	for {
		select {
		case <-done:
			return
		case <-ticker.C():
			r.mu.Lock()
			if r.generation != gen || r.state != CaptureRecording || r.stopping || r.session == nil {
				r.mu.Unlock()
				continue
			}
			r.session.elapsed++
			elapsed := r.session.elapsed
			r.mu.Unlock()

			if max := r.config.MaxRecordingSeconds; max > 0 && elapsed >= max {
				r.logger.WithField("elapsed_seconds", elapsed).Info("Maximum recording length reached")
				go func() { _, _ = r.Stop() }()
			}
		}
	}
}

func (r *RecorderController) appendChunk(gen uint64, data []byte) {
	if len(data) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	accepting := r.state == CaptureRecording || r.state == CaptureRequesting
	if r.generation != gen || !accepting || r.session == nil {
		if r.generation == gen && r.session != nil {
			r.session.dropped++
		}
		return
	}
	r.session.append(data)
}

// Stop ends the session: the ticker and the device are stopped before the
// fragments are assembled, so nothing can arrive after assembly.
func (r *RecorderController) Stop() (*AudioArtifact, error) {
	r.mu.Lock()
	if r.state != CaptureRecording || r.stopping {
		state := r.state
		r.mu.Unlock()
		return nil, NewInvalidStateError("stop", state)
	}
	r.stopping = true
	gen := r.generation
	r.stopTickerLocked()
	r.mu.Unlock()

	if err := r.device.Stop(); err != nil {
		r.logger.WithError(err).Warn("Capture device stop failed")
	}
	if err := r.device.Release(); err != nil {
		r.logger.WithError(err).Warn("Capture device release failed")
	}

	r.mu.Lock()
	r.stopping = false
	if r.generation != gen || r.session == nil {
		r.mu.Unlock()
		return nil, NewInvalidStateError("stop", "closed")
	}
	session := r.session
	r.state = CaptureStopped

	artifact, err := AssembleArtifact(session.chunks, session.mimeType)
	if err != nil {
		r.session = nil
		r.state = CaptureIdle
		r.mu.Unlock()
		r.notifyState(CaptureIdle)
		return nil, r.fail(WrapError(err, ErrCodeEmptyArtifact))
	}
	artifact.ElapsedSeconds = session.elapsed
	artifact.SessionID = session.id
	r.artifact = artifact
	r.previewHandle = r.handles.Create(artifact)
	handle := r.previewHandle
	r.mu.Unlock()

	r.logger.LogCaptureEvent("recording_stopped", CaptureStopped, map[string]interface{}{
		"session_id":      session.id,
		"chunks":          len(session.chunks),
		"bytes":           artifact.Size(),
		"elapsed_seconds": artifact.ElapsedSeconds,
		"dropped_chunks":  session.dropped,
		"preview_handle":  handle,
	})
	r.notifyState(CaptureStopped)
	return artifact, nil
}

// Discard throws the recording away and returns to Idle.
func (r *RecorderController) Discard() error {
	r.mu.Lock()
	switch r.state {
	case CaptureIdle:
		r.mu.Unlock()
		return nil
	case CaptureStopped:
		if r.uploading {
			r.mu.Unlock()
			return NewInvalidStateError("discard", "uploading")
		}
	default:
		state := r.state
		r.mu.Unlock()
		return NewInvalidStateError("discard", state)
	}
	r.discardLocked()
	r.mu.Unlock()

	r.logger.LogCaptureEvent("recording_discarded", CaptureIdle, nil)
	r.notifyState(CaptureIdle)
	return nil
}

// Confirm uploads the stopped recording for studentID. On failure the
// recorder stays Stopped with the artifact intact so the user can retry.
func (r *RecorderController) Confirm(ctx context.Context, studentID string) (*FeedbackRecord, error) {
	if r.uploader == nil {
		return nil, r.fail(NewConfigError("no uploader configured"))
	}
	if err := ValidateStudentID(studentID); err != nil {
		return nil, r.fail(WrapError(err, ErrCodeInvalidStudent))
	}

	r.mu.Lock()
	if r.state != CaptureStopped {
		state := r.state
		r.mu.Unlock()
		return nil, NewInvalidStateError("confirm", state)
	}
	if r.uploading {
		r.mu.Unlock()
		return nil, NewInvalidStateError("confirm", "uploading")
	}
	artifact := r.artifact
	if err := artifact.Validate(); err != nil {
		r.mu.Unlock()
		return nil, r.fail(WrapError(err, ErrCodeEmptyArtifact))
	}
	r.uploading = true
	r.mu.Unlock()

	record, err := r.uploader.Upload(ctx, studentID, artifact)

	r.mu.Lock()
	r.uploading = false
	if err != nil {
		r.mu.Unlock()
		fe, ok := AsFeedbackError(err)
		if !ok {
			fe = NewUploadError("failed to upload feedback", err)
		}
		fe.AddDetail("student_id", studentID)
		return nil, r.fail(fe)
	}
	if r.artifact == artifact {
		r.discardLocked()
	}
	r.mu.Unlock()

	r.logger.LogCaptureEvent("recording_uploaded", CaptureIdle, map[string]interface{}{
		"student_id": studentID,
		"key":        record.Key,
		"bytes":      artifact.Size(),
	})
	r.notifyState(CaptureIdle)
	return record, nil
}

// Close releases everything the recorder holds. It is the exit path for
// navigate-away and shutdown.
func (r *RecorderController) Close() {
	r.mu.Lock()
	state := r.state
	r.generation++
	r.stopTickerLocked()
	handle := r.previewHandle
	r.previewHandle = ""
	r.artifact = nil
	r.session = nil
	r.stopping = false
	r.state = CaptureIdle
	r.mu.Unlock()

	if state == CaptureRecording || state == CaptureRequesting {
		if r.device != nil {
			_ = r.device.Stop()
			_ = r.device.Release()
		}
	}
	r.handles.Revoke(handle)
	if state != CaptureIdle {
		r.notifyState(CaptureIdle)
	}
}

// discardLocked drops the current recording. r.mu must be held.
func (r *RecorderController) discardLocked() {
	r.handles.Revoke(r.previewHandle)
	r.previewHandle = ""
	r.artifact = nil
	if r.session != nil {
		r.session.clear()
	}
	r.session = nil
	r.state = CaptureIdle
}

func (r *RecorderController) stopTickerLocked() {
	if r.ticker != nil {
		r.ticker.Stop()
		close(r.tickDone)
	}
	r.ticker = nil
	r.tickDone = nil
}

func (r *RecorderController) resetToIdle(gen uint64) {
	r.mu.Lock()
	if r.generation != gen {
		r.mu.Unlock()
		return
	}
	r.session = nil
	r.state = CaptureIdle
	r.mu.Unlock()
	r.notifyState(CaptureIdle)
}

func (r *RecorderController) fail(err *FeedbackError) *FeedbackError {
	r.logger.LogError(err)
	r.mu.Lock()
	handlers := append([]ErrorHandler(nil), r.errorHandlers...)
	r.mu.Unlock()
	for _, h := range handlers {
		h(err)
	}
	return err
}

func (r *RecorderController) notifyState(state CaptureState) {
	r.mu.Lock()
	handlers := append([]CaptureStateHandler(nil), r.stateHandlers...)
	r.mu.Unlock()
	for _, h := range handlers {
		h(state)
	}
}

func (r *RecorderController) AddStateHandler(handler CaptureStateHandler) func() {
	r.mu.Lock()
	r.stateHandlers = append(r.stateHandlers, handler)
	idx := len(r.stateHandlers) - 1
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		if idx < len(r.stateHandlers) {
			r.stateHandlers[idx] = func(CaptureState) {}
		}
		r.mu.Unlock()
	}
}

func (r *RecorderController) AddErrorHandler(handler ErrorHandler) func() {
	r.mu.Lock()
	r.errorHandlers = append(r.errorHandlers, handler)
	idx := len(r.errorHandlers) - 1
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		if idx < len(r.errorHandlers) {
			r.errorHandlers[idx] = func(*FeedbackError) {}
		}
		r.mu.Unlock()
	}
}

func (r *RecorderController) State() CaptureState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *RecorderController) ElapsedSeconds() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		return r.session.elapsed
	}
	if r.artifact != nil {
		return r.artifact.ElapsedSeconds
	}
	return 0
}

// Artifact returns the stopped recording, or nil.
func (r *RecorderController) Artifact() *AudioArtifact {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.artifact
}

// PreviewHandle returns the local handle of the stopped recording, or "".
func (r *RecorderController) PreviewHandle() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.previewHandle
}

func (r *RecorderController) Handles() *HandleStore {
	return r.handles
}

func (r *RecorderController) Snapshot() CaptureSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return CaptureSnapshot{State: r.state}
	}
	snap := r.session.snapshot(r.state)
	snap.PreviewHandle = r.previewHandle
	return snap
}
