package feedback

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientOptions selects the backends of a FeedbackClient. Nil fields are
// left unset; the corresponding operations then fail with a config error.
type ClientOptions struct {
	Capture       CaptureDevice
	Element       MediaElement
	Uploader      Uploader
	Fetcher       Fetcher
	Handles       *HandleStore
	Logger        *FeedbackLogger
	TickerFactory TickerFactory
}

// FeedbackClient ties a recorder, a player and the object store together
// for the record, review, upload and listen flow.
type FeedbackClient struct {
	config   *FeedbackConfig
	recorder *RecorderController
	player   *PlaybackController
	fetcher  Fetcher
	handles  *HandleStore
	logger   *FeedbackLogger

	mu      sync.Mutex
	cleaned bool
}

func NewFeedbackClient(config *FeedbackConfig, opts *ClientOptions) *FeedbackClient {
	if config == nil {
		config = NewFeedbackConfig()
	}
	if opts == nil {
		opts = &ClientOptions{}
	}
	handles := opts.Handles
	if handles == nil {
		handles = NewHandleStore()
	}
	logger := opts.Logger
	if logger == nil {
		logger = GetGlobalLogger()
	}

	recOpts := []RecorderOption{
		WithRecorderHandles(handles),
		WithRecorderLogger(logger.WithComponent("Recorder")),
	}
	if opts.TickerFactory != nil {
		recOpts = append(recOpts, WithTickerFactory(opts.TickerFactory))
	}

	c := &FeedbackClient{
		config:   config,
		recorder: NewRecorderController(opts.Capture, opts.Uploader, config, recOpts...),
		fetcher:  opts.Fetcher,
		handles:  handles,
		logger:   logger.WithComponent("FeedbackClient"),
	}
	if opts.Element != nil {
		c.player = NewPlaybackController(opts.Element, handles, logger.WithComponent("Player"))
	}
	return c
}

// NewDefaultFeedbackClient wires PortAudio for capture and output and S3
// for storage.
func NewDefaultFeedbackClient(ctx context.Context, config *FeedbackConfig, audioConfig *AudioConfig) (*FeedbackClient, error) {
	if config == nil {
		config = NewFeedbackConfig()
	}
	if err := config.Err(); err != nil {
		return nil, err
	}
	if audioConfig == nil {
		audioConfig = NewAudioConfig()
		audioConfig.DeviceID = config.AudioDeviceID
	}

	s3Client, err := NewS3Client(ctx, config)
	if err != nil {
		return nil, err
	}
	handles := NewHandleStore()

	return NewFeedbackClient(config, &ClientOptions{
		Capture:  NewPortAudioCapture(audioConfig),
		Element:  NewPortAudioElement(handles, NewRemoteFetcher(30*time.Second), audioConfig),
		Uploader: NewS3Uploader(s3Client, config),
		Fetcher:  NewS3Fetcher(s3Client, s3.NewPresignClient(s3Client), config),
		Handles:  handles,
	}), nil
}

func (c *FeedbackClient) StartRecording(ctx context.Context) error {
	return c.recorder.Start(ctx)
}

func (c *FeedbackClient) StopRecording() (*AudioArtifact, error) {
	return c.recorder.Stop()
}

// RecordFor records for d, or until ctx is done, and stops.
func (c *FeedbackClient) RecordFor(ctx context.Context, d time.Duration) (*AudioArtifact, error) {
	if err := c.recorder.Start(ctx); err != nil {
		return nil, err
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	stopped := make(chan struct{}, 1)
	unsubscribe := c.recorder.AddStateHandler(func(s CaptureState) {
		if s == CaptureStopped || s == CaptureIdle {
			select {
			case stopped <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	select {
	case <-timer.C:
	case <-ctx.Done():
	case <-stopped:
		// Auto-stopped at the maximum length.
		if a := c.recorder.Artifact(); a != nil {
			return a, nil
		}
		return nil, NewEmptyArtifactError("no audio chunks to assemble")
	}
	return c.recorder.Stop()
}

// PreviewRecording binds the stopped recording's handle to the player.
func (c *FeedbackClient) PreviewRecording(ctx context.Context) error {
	if c.player == nil {
		return NewConfigError("no media element configured")
	}
	src, err := ResolveSource(c.recorder.PreviewHandle(), "")
	if err != nil {
		return err
	}
	return c.player.SetSource(ctx, src)
}

func (c *FeedbackClient) DiscardRecording() error {
	return c.recorder.Discard()
}

func (c *FeedbackClient) ConfirmUpload(ctx context.Context, studentID string) (*FeedbackRecord, error) {
	return c.recorder.Confirm(ctx, studentID)
}

// FeedbackLink returns the public link for studentID.
func (c *FeedbackClient) FeedbackLink(studentID, name string) (string, error) {
	return BuildFeedbackURL(c.config.BaseURL, studentID, name)
}

// OpenFeedback looks up the student's clip and binds it to the player. A
// presigned URL is streamed; without one the clip is downloaded and played
// from a local handle.
func (c *FeedbackClient) OpenFeedback(ctx context.Context, studentID string) (*FeedbackRecord, error) {
	if c.player == nil {
		return nil, NewConfigError("no media element configured")
	}
	if c.fetcher == nil {
		return nil, NewConfigError("no fetcher configured")
	}

	rec, err := c.fetcher.Lookup(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if rec.URL != "" {
		if err := c.player.SetSource(ctx, RemoteSource(rec.URL)); err != nil {
			return nil, err
		}
		return rec, nil
	}

	artifact, rec, err := c.fetcher.Download(ctx, studentID)
	if err != nil {
		return nil, err
	}
	handle := c.handles.Create(artifact)
	if err := c.player.SetSource(ctx, LocalSource(handle)); err != nil {
		c.handles.Revoke(handle)
		return nil, err
	}
	return rec, nil
}

// PlayToEnd starts playback and blocks until the clip ends or ctx is done.
func (c *FeedbackClient) PlayToEnd(ctx context.Context) error {
	if c.player == nil {
		return NewConfigError("no media element configured")
	}

	ended := make(chan struct{}, 1)
	unsubscribe := c.player.AddStateHandler(func(s PlaybackState) {
		if s == PlaybackEnded {
			select {
			case ended <- struct{}{}:
			default:
			}
		}
	})
	defer unsubscribe()

	if c.player.State() != PlaybackPlaying {
		if err := c.player.TogglePlay(ctx); err != nil {
			return err
		}
	}

	select {
	case <-ended:
		return nil
	case <-ctx.Done():
		if c.player.State() == PlaybackPlaying {
			_ = c.player.TogglePlay(context.Background())
		}
		return ctx.Err()
	}
}

func (c *FeedbackClient) Recorder() *RecorderController { return c.recorder }

func (c *FeedbackClient) Player() *PlaybackController { return c.player }

func (c *FeedbackClient) Handles() *HandleStore { return c.handles }

func (c *FeedbackClient) Config() *FeedbackConfig { return c.config }

// AddErrorHandler subscribes to errors from both controllers.
func (c *FeedbackClient) AddErrorHandler(handler ErrorHandler) func() {
	unsubs := []func(){c.recorder.AddErrorHandler(handler)}
	if c.player != nil {
		unsubs = append(unsubs, c.player.AddErrorHandler(handler))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Cleanup releases the device, the element and every local handle.
func (c *FeedbackClient) Cleanup() {
	c.mu.Lock()
	if c.cleaned {
		c.mu.Unlock()
		return
	}
	c.cleaned = true
	c.mu.Unlock()

	c.recorder.Close()
	if c.player != nil {
		if err := c.player.Close(); err != nil {
			c.logger.WithError(err).Warn("Player close failed")
		}
	}
	n := c.handles.RevokeAll()
	c.logger.WithField("revoked_handles", n).Info("Feedback client cleaned up")
}
