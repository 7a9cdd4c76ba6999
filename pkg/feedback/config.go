package feedback

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultKeyPrefix    = "feedback"
	DefaultCacheControl = "public, max-age=0, must-revalidate"
	DefaultFallbackMime = "audio/webm"
	DefaultRegion       = "us-east-1"
	DefaultDisplayName  = "Student"
)

// DefaultMimePreferences is the capture format preference order: opus in a
// webm container, then mp4, then webm without codec hint, then wav. The
// PortAudio capture device only encodes wav.
var DefaultMimePreferences = []string{
	"audio/webm;codecs=opus",
	"audio/mp4",
	"audio/webm",
	"audio/wav",
}

type FeedbackConfig struct {
	Bucket              string        `json:"bucket"`
	Region              string        `json:"region"`
	Endpoint            *string       `json:"endpoint,omitempty"`
	AccessKeyID         string        `json:"-"`
	SecretAccessKey     string        `json:"-"`
	KeyPrefix           string        `json:"key_prefix"`
	CacheControl        string        `json:"cache_control"`
	BaseURL             string        `json:"base_url"`
	MimePreferences     []string      `json:"mime_preferences"`
	FallbackMimeType    string        `json:"fallback_mime_type"`
	PresignTTL          time.Duration `json:"presign_ttl"`
	MaxRecordingSeconds int           `json:"max_recording_seconds"`
	DefaultDisplayName  string        `json:"default_display_name"`
	DebugLevel          string        `json:"debug_level"`
	LogFile             string        `json:"log_file,omitempty"`
	AudioDeviceID       *int          `json:"audio_device_id,omitempty"`
}

func NewFeedbackConfig() *FeedbackConfig {
	c := defaultFeedbackConfig()
	c.loadFromEnv()
	return c
}

func defaultFeedbackConfig() *FeedbackConfig {
	prefs := make([]string, len(DefaultMimePreferences))
	copy(prefs, DefaultMimePreferences)
	return &FeedbackConfig{
		Region:              DefaultRegion,
		KeyPrefix:           DefaultKeyPrefix,
		CacheControl:        DefaultCacheControl,
		BaseURL:             "http://localhost:3000",
		MimePreferences:     prefs,
		FallbackMimeType:    DefaultFallbackMime,
		PresignTTL:          15 * time.Minute,
		MaxRecordingSeconds: 300,
		DefaultDisplayName:  DefaultDisplayName,
		DebugLevel:          "INFO",
	}
}

func (c *FeedbackConfig) loadFromEnv() {
	// Load .env if exists
	_ = godotenv.Load()

	c.Bucket = os.Getenv("FEEDBACK_BUCKET")
	if region := os.Getenv("FEEDBACK_REGION"); region != "" {
		c.Region = region
	}
	if endpoint := os.Getenv("FEEDBACK_S3_ENDPOINT"); endpoint != "" {
		c.Endpoint = &endpoint
	}
	c.AccessKeyID = os.Getenv("FEEDBACK_ACCESS_KEY_ID")
	c.SecretAccessKey = os.Getenv("FEEDBACK_SECRET_ACCESS_KEY")

	if prefix := os.Getenv("FEEDBACK_KEY_PREFIX"); prefix != "" {
		c.KeyPrefix = strings.Trim(prefix, "/")
	}
	if cc := os.Getenv("FEEDBACK_CACHE_CONTROL"); cc != "" {
		c.CacheControl = cc
	}
	if base := os.Getenv("FEEDBACK_BASE_URL"); base != "" {
		c.BaseURL = strings.TrimRight(base, "/")
	}
	if prefs := os.Getenv("FEEDBACK_MIME_PREFERENCES"); prefs != "" {
		c.MimePreferences = splitList(prefs)
	}
	if fallback := os.Getenv("FEEDBACK_FALLBACK_MIME"); fallback != "" {
		c.FallbackMimeType = fallback
	}
	if ttl := os.Getenv("FEEDBACK_PRESIGN_TTL"); ttl != "" {
		if val, err := time.ParseDuration(ttl); err == nil {
			c.PresignTTL = val
		}
	}
	if maxSecs := os.Getenv("FEEDBACK_MAX_RECORDING_SECONDS"); maxSecs != "" {
		if val, err := strconv.Atoi(maxSecs); err == nil {
			c.MaxRecordingSeconds = val
		}
	}
	if name := os.Getenv("FEEDBACK_DEFAULT_NAME"); name != "" {
		c.DefaultDisplayName = name
	}
	if level := os.Getenv("FEEDBACK_LOG_LEVEL"); level != "" {
		c.DebugLevel = strings.ToUpper(level)
	}
	c.LogFile = os.Getenv("FEEDBACK_LOG_FILE")
	if deviceIDStr := os.Getenv("FEEDBACK_AUDIO_DEVICE_ID"); deviceIDStr != "" {
		if deviceID, err := strconv.Atoi(deviceIDStr); err == nil {
			c.AudioDeviceID = &deviceID
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate returns list of issues
func (c *FeedbackConfig) Validate() []string {
	issues := []string{}

	if c.Bucket == "" {
		issues = append(issues, "FEEDBACK_BUCKET environment variable not set")
	}
	if c.Region == "" {
		issues = append(issues, "region must not be empty")
	}
	if c.Endpoint != nil && !strings.HasPrefix(*c.Endpoint, "http") {
		issues = append(issues, "Invalid S3 endpoint format")
	}
	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		issues = append(issues, "access key id and secret access key must be set together")
	}
	if c.KeyPrefix == "" || strings.Contains(c.KeyPrefix, "..") {
		issues = append(issues, fmt.Sprintf("Invalid key prefix: %q", c.KeyPrefix))
	}
	if c.CacheControl == "" {
		issues = append(issues, "cache control must not be empty")
	}
	if !strings.HasPrefix(c.BaseURL, "http") {
		issues = append(issues, fmt.Sprintf("Invalid base URL: %s", c.BaseURL))
	}
	if c.PresignTTL <= 0 {
		issues = append(issues, "presign TTL must be positive")
	}
	if c.MaxRecordingSeconds < 0 {
		issues = append(issues, "max recording seconds must not be negative")
	}
	if _, ok := ParseLogLevel(c.DebugLevel); !ok {
		issues = append(issues, fmt.Sprintf("Invalid debug level: %s", c.DebugLevel))
	}

	return issues
}

// Err folds Validate into a single error.
func (c *FeedbackConfig) Err() error {
	issues := c.Validate()
	if len(issues) == 0 {
		return nil
	}
	return NewConfigError(strings.Join(issues, "; ")).AddDetail("issues", len(issues))
}

func (c *FeedbackConfig) PrintConfig(w io.Writer) {
	fmt.Fprintln(w, "Feedback SDK Configuration")
	fmt.Fprintln(w, "==================================================")

	if c.Bucket != "" {
		fmt.Fprintf(w, "Bucket: %s\n", c.Bucket)
	} else {
		fmt.Fprintln(w, "Bucket: NOT SET")
	}
	fmt.Fprintf(w, "Region: %s\n", c.Region)
	if c.Endpoint != nil {
		fmt.Fprintf(w, "S3 Endpoint: %s\n", *c.Endpoint)
	}
	if c.AccessKeyID != "" {
		fmt.Fprintf(w, "Credentials: static (%s)\n", maskString(c.AccessKeyID))
	} else {
		fmt.Fprintln(w, "Credentials: default chain")
	}
	fmt.Fprintf(w, "Key Prefix: %s\n", c.KeyPrefix)
	fmt.Fprintf(w, "Cache Control: %s\n", c.CacheControl)
	fmt.Fprintf(w, "Base URL: %s\n", c.BaseURL)
	fmt.Fprintf(w, "Mime Preferences: %s\n", strings.Join(c.MimePreferences, ", "))
	fmt.Fprintf(w, "Fallback Mime: %s\n", c.FallbackMimeType)
	fmt.Fprintf(w, "Presign TTL: %s\n", c.PresignTTL)
	fmt.Fprintf(w, "Max Recording: %ds\n", c.MaxRecordingSeconds)
	fmt.Fprintf(w, "Debug Level: %s\n", c.DebugLevel)
	if c.LogFile != "" {
		fmt.Fprintf(w, "Log File: %s\n", c.LogFile)
	}

	if c.AudioDeviceID != nil {
		fmt.Fprintf(w, "Audio Device ID: %d\n", *c.AudioDeviceID)
	} else {
		fmt.Fprintln(w, "Audio Device: Default")
	}
}

func maskString(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

type AudioConfig struct {
	SampleRate int
	Channels   int
	BufferSize int
	// Timeslice is how often the capture device emits a fragment.
	Timeslice time.Duration
	DeviceID  *int
}

func NewAudioConfig() *AudioConfig {
	return &AudioConfig{
		SampleRate: 48000,
		Channels:   1,
		BufferSize: 1024,
		Timeslice:  time.Second,
	}
}

func ValidateAudioConfig(config *AudioConfig) error {
	if config == nil {
		return NewConfigError("audio config is nil")
	}
	if config.SampleRate <= 0 {
		return NewConfigError("sample rate must be positive").AddDetail("sample_rate", config.SampleRate)
	}
	if config.Channels < 1 || config.Channels > 2 {
		return NewConfigError("channels must be 1 or 2").AddDetail("channels", config.Channels)
	}
	if config.BufferSize <= 0 {
		return NewConfigError("buffer size must be positive").AddDetail("buffer_size", config.BufferSize)
	}
	if config.Timeslice <= 0 {
		return NewConfigError("timeslice must be positive").AddDetail("timeslice", config.Timeslice.String())
	}
	return nil
}
