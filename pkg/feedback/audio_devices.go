package feedback

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// AudioDevice represents an audio device
type AudioDevice struct {
	ID                int
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
	IsDefaultInput    bool
	IsDefaultOutput   bool
	HostAPI           string
}

func (d AudioDevice) IsInput() bool  { return d.MaxInputChannels > 0 }
func (d AudioDevice) IsOutput() bool { return d.MaxOutputChannels > 0 }

// AudioDeviceManager lists PortAudio devices for selection and testing.
type AudioDeviceManager struct {
	mu      sync.RWMutex
	devices []AudioDevice
	logger  *FeedbackLogger
}

func NewAudioDeviceManager() *AudioDeviceManager {
	return &AudioDeviceManager{
		logger: GetGlobalLogger().WithComponent("AudioDeviceManager"),
	}
}

// Initialize initializes PortAudio and loads the device list. Pair with
// Cleanup.
func (adm *AudioDeviceManager) Initialize() error {
	adm.mu.Lock()
	defer adm.mu.Unlock()

	if err := portaudio.Initialize(); err != nil {
		return NewDeviceAccessError("failed to initialize PortAudio", err)
	}
	if err := adm.refreshDevices(); err != nil {
		return err
	}

	adm.logger.WithField("device_count", len(adm.devices)).Debug("Audio device manager initialized")
	return nil
}

func (adm *AudioDeviceManager) Cleanup() {
	if err := portaudio.Terminate(); err != nil {
		adm.logger.WithError(err).Warn("Failed to terminate PortAudio")
	}
}

func (adm *AudioDeviceManager) refreshDevices() error {
	defaultInput, err := portaudio.DefaultInputDevice()
	if err != nil {
		adm.logger.WithError(err).Debug("No default input device")
	}
	defaultOutput, err := portaudio.DefaultOutputDevice()
	if err != nil {
		adm.logger.WithError(err).Debug("No default output device")
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return NewDeviceAccessError("failed to list devices", err)
	}

	adm.devices = make([]AudioDevice, 0, len(devices))
	for i, dev := range devices {
		hostAPIName := "Unknown"
		if dev.HostApi != nil {
			hostAPIName = dev.HostApi.Name
		}
		adm.devices = append(adm.devices, AudioDevice{
			ID:                i,
			Name:              dev.Name,
			MaxInputChannels:  dev.MaxInputChannels,
			MaxOutputChannels: dev.MaxOutputChannels,
			DefaultSampleRate: dev.DefaultSampleRate,
			IsDefaultInput:    defaultInput != nil && dev == defaultInput,
			IsDefaultOutput:   defaultOutput != nil && dev == defaultOutput,
			HostAPI:           hostAPIName,
		})
	}
	return nil
}

// SetDevices replaces the device list without touching PortAudio.
func (adm *AudioDeviceManager) SetDevices(devices []AudioDevice) {
	adm.mu.Lock()
	adm.devices = append([]AudioDevice(nil), devices...)
	adm.mu.Unlock()
}

func (adm *AudioDeviceManager) GetDevices() []AudioDevice {
	adm.mu.RLock()
	defer adm.mu.RUnlock()

	devices := make([]AudioDevice, len(adm.devices))
	copy(devices, adm.devices)
	return devices
}

func (adm *AudioDeviceManager) GetInputDevices() []AudioDevice {
	adm.mu.RLock()
	defer adm.mu.RUnlock()

	var out []AudioDevice
	for _, d := range adm.devices {
		if d.IsInput() {
			out = append(out, d)
		}
	}
	return out
}

func (adm *AudioDeviceManager) GetDefaultInputDevice() (*AudioDevice, error) {
	adm.mu.RLock()
	defer adm.mu.RUnlock()

	for _, d := range adm.devices {
		if d.IsDefaultInput {
			return &d, nil
		}
	}
	return nil, NewDeviceAccessError("no default input device found", nil)
}

func (adm *AudioDeviceManager) GetDeviceByID(id int) (*AudioDevice, error) {
	adm.mu.RLock()
	defer adm.mu.RUnlock()

	for _, d := range adm.devices {
		if d.ID == id {
			return &d, nil
		}
	}
	return nil, NewDeviceAccessError(fmt.Sprintf("device with ID %d not found", id), nil).AddDetail("device_id", id)
}

// ValidateInputDevice checks that deviceID can record with config.
func (adm *AudioDeviceManager) ValidateInputDevice(deviceID int, config *AudioConfig) error {
	device, err := adm.GetDeviceByID(deviceID)
	if err != nil {
		return err
	}
	if !device.IsInput() {
		return NewDeviceAccessError(fmt.Sprintf("device '%s' is not an input device", device.Name), nil)
	}
	if device.MaxInputChannels < config.Channels {
		return NewDeviceAccessError(fmt.Sprintf("device '%s' supports max %d input channels, requested %d",
			device.Name, device.MaxInputChannels, config.Channels), nil)
	}

	if device.DefaultSampleRate > 0 {
		ratio := float64(config.SampleRate) / device.DefaultSampleRate
		if ratio < 0.5 || ratio > 2.0 {
			adm.logger.WithFields(map[string]interface{}{
				"device_name":           device.Name,
				"device_sample_rate":    device.DefaultSampleRate,
				"requested_sample_rate": config.SampleRate,
			}).Warn("Sample rate significantly different from device default")
		}
	}
	return nil
}

// DeviceInfo returns a printable description of a device.
func (adm *AudioDeviceManager) DeviceInfo(deviceID int) (string, error) {
	device, err := adm.GetDeviceByID(deviceID)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Device: %s\n", device.Name)
	fmt.Fprintf(&sb, "  ID: %d\n", device.ID)
	fmt.Fprintf(&sb, "  Host API: %s\n", device.HostAPI)
	fmt.Fprintf(&sb, "  Input Channels: %d\n", device.MaxInputChannels)
	fmt.Fprintf(&sb, "  Output Channels: %d\n", device.MaxOutputChannels)
	fmt.Fprintf(&sb, "  Default Sample Rate: %.1f Hz\n", device.DefaultSampleRate)
	fmt.Fprintf(&sb, "  Default Input: %v\n", device.IsDefaultInput)
	return sb.String(), nil
}

// TestInputDevice records from deviceID for duration and returns the peak
// RMS level seen, in [0,1]. A silent device returns 0.
func (adm *AudioDeviceManager) TestInputDevice(deviceID int, duration time.Duration) (float64, error) {
	config := NewAudioConfig()
	config.DeviceID = &deviceID
	if err := adm.ValidateInputDevice(deviceID, config); err != nil {
		return 0, err
	}

	var mu sync.Mutex
	peak := 0.0
	monitor := CreateChunkLevelMonitor(func(level float64) {
		mu.Lock()
		peak = math.Max(peak, level)
		mu.Unlock()
	})

	config.Timeslice = 100 * time.Millisecond
	capture := NewPortAudioCapture(config)
	if err := capture.Open(context.Background()); err != nil {
		return 0, err
	}
	defer capture.Release()

	if err := capture.Start("audio/wav", monitor); err != nil {
		return 0, err
	}
	time.Sleep(duration)
	if err := capture.Stop(); err != nil {
		return 0, err
	}

	mu.Lock()
	defer mu.Unlock()
	adm.logger.WithFields(map[string]interface{}{
		"device_id":  deviceID,
		"peak_level": peak,
	}).Info("Device test completed")
	return peak, nil
}

// ListInputDevices initializes PortAudio, lists input devices and cleans up.
func ListInputDevices() ([]AudioDevice, error) {
	dm := NewAudioDeviceManager()
	if err := dm.Initialize(); err != nil {
		return nil, err
	}
	defer dm.Cleanup()
	return dm.GetInputDevices(), nil
}
