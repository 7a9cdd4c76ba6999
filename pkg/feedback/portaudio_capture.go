package feedback

import (
	"context"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioCapture captures the microphone through PortAudio. PortAudio
// delivers raw PCM, so the only format it encodes is WAV: the first
// fragment carries a streaming header and every later fragment is PCM16.
type PortAudioCapture struct {
	config *AudioConfig
	logger *FeedbackLogger

	mu          sync.Mutex
	stream      *portaudio.Stream
	initialized bool
	started     bool
	onData      ChunkHandler
	format      WAVFormat
	pending     []int16
	sliceFrames int
	headerSent  bool
}

func NewPortAudioCapture(config *AudioConfig) *PortAudioCapture {
	if config == nil {
		config = NewAudioConfig()
	}
	return &PortAudioCapture{
		config: config,
		logger: GetGlobalLogger().WithComponent("PortAudioCapture"),
	}
}

// IsTypeSupported reports WAV only.
func (c *PortAudioCapture) IsTypeSupported(mimeType string) bool {
	return ExtensionForMimeType(mimeType) == "wav"
}

// Open initializes PortAudio and opens, but does not start, an input stream.
func (c *PortAudioCapture) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateAudioConfig(c.config); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return NewDeviceAccessError("failed to initialize PortAudio", err)
	}
	c.initialized = true

	device, err := c.inputDevice()
	if err != nil {
		return err
	}

	params := portaudio.LowLatencyParameters(device, nil)
	params.Input.Channels = c.config.Channels
	params.SampleRate = float64(c.config.SampleRate)
	params.FramesPerBuffer = c.config.BufferSize

	stream, err := portaudio.OpenStream(params, c.process)
	if err != nil {
		return NewDeviceAccessError("failed to open input stream", err).AddDetail("device", device.Name)
	}
	c.stream = stream
	c.format = WAVFormat{SampleRate: c.config.SampleRate, Channels: c.config.Channels}
	c.sliceFrames = int(float64(c.config.SampleRate) * c.config.Timeslice.Seconds())

	c.logger.WithFields(map[string]interface{}{
		"device":      device.Name,
		"sample_rate": c.config.SampleRate,
		"channels":    c.config.Channels,
	}).Info("Input stream opened")
	return nil
}

func (c *PortAudioCapture) inputDevice() (*portaudio.DeviceInfo, error) {
	if c.config.DeviceID == nil {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, NewDeviceAccessError("no default input device", err)
		}
		return device, nil
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, NewDeviceAccessError("failed to list devices", err)
	}
	id := *c.config.DeviceID
	if id < 0 || id >= len(devices) || devices[id].MaxInputChannels < c.config.Channels {
		return nil, NewDeviceAccessError("input device unavailable", nil).AddDetail("device_id", id)
	}
	return devices[id], nil
}

// Start begins capture. Fragments are emitted once per timeslice.
func (c *PortAudioCapture) Start(mimeType string, onData ChunkHandler) error {
	if !c.IsTypeSupported(mimeType) {
		return NewUnsupportedFormatError(mimeType)
	}
	c.mu.Lock()
	if c.stream == nil {
		c.mu.Unlock()
		return NewInvalidStateError("start", "closed")
	}
	c.onData = onData
	c.pending = c.pending[:0]
	c.headerSent = false
	c.started = true
	stream := c.stream
	c.mu.Unlock()

	if err := stream.Start(); err != nil {
		c.mu.Lock()
		c.started = false
		c.mu.Unlock()
		return NewDeviceAccessError("failed to start input stream", err)
	}
	return nil
}

// process runs on the PortAudio callback thread.
func (c *PortAudioCapture) process(in []int16) {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.pending = append(c.pending, in...)
	var chunk []byte
	if c.sliceFrames > 0 && len(c.pending) >= c.sliceFrames*c.format.Channels {
		chunk = c.takeLocked()
	}
	onData := c.onData
	c.mu.Unlock()

	if chunk != nil && onData != nil {
		onData(chunk)
	}
}

// takeLocked drains pending samples into a fragment.
func (c *PortAudioCapture) takeLocked() []byte {
	if len(c.pending) == 0 && c.headerSent {
		return nil
	}
	var chunk []byte
	if !c.headerSent {
		chunk = StreamingWAVHeader(c.format)
		c.headerSent = true
	}
	chunk = append(chunk, EncodePCM16(c.pending)...)
	c.pending = c.pending[:0]
	return chunk
}

// Stop halts the stream and delivers the trailing fragment.
func (c *PortAudioCapture) Stop() error {
	c.mu.Lock()
	stream := c.stream
	wasStarted := c.started
	c.mu.Unlock()

	if stream == nil || !wasStarted {
		return nil
	}
	// The callback takes c.mu, so the stream is stopped unlocked.
	err := stream.Stop()

	c.mu.Lock()
	c.started = false
	chunk := c.takeLocked()
	onData := c.onData
	c.onData = nil
	c.mu.Unlock()

	if chunk != nil && onData != nil {
		onData(chunk)
	}
	if err != nil {
		return NewDeviceAccessError("failed to stop input stream", err)
	}
	return nil
}

// Release closes the stream and terminates PortAudio. Safe to repeat.
func (c *PortAudioCapture) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	if c.stream != nil {
		if err := c.stream.Close(); err != nil {
			firstErr = NewDeviceAccessError("failed to close input stream", err)
		}
		c.stream = nil
	}
	if c.initialized {
		if err := portaudio.Terminate(); err != nil && firstErr == nil {
			firstErr = NewDeviceAccessError("failed to terminate PortAudio", err)
		}
		c.initialized = false
	}
	c.started = false
	c.pending = nil
	return firstErr
}
