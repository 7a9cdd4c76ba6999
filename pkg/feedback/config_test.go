package feedback

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedbackConfigFromEnv(t *testing.T) {
	t.Setenv("FEEDBACK_BUCKET", "class-feedback")
	t.Setenv("FEEDBACK_REGION", "eu-west-1")
	t.Setenv("FEEDBACK_S3_ENDPOINT", "http://localhost:9000")
	t.Setenv("FEEDBACK_ACCESS_KEY_ID", "AKIAEXAMPLEKEY1234")
	t.Setenv("FEEDBACK_SECRET_ACCESS_KEY", "secret")
	t.Setenv("FEEDBACK_KEY_PREFIX", "/voice/")
	t.Setenv("FEEDBACK_BASE_URL", "https://school.example/")
	t.Setenv("FEEDBACK_MIME_PREFERENCES", "audio/ogg, audio/wav")
	t.Setenv("FEEDBACK_PRESIGN_TTL", "5m")
	t.Setenv("FEEDBACK_MAX_RECORDING_SECONDS", "90")
	t.Setenv("FEEDBACK_LOG_LEVEL", "debug")
	t.Setenv("FEEDBACK_AUDIO_DEVICE_ID", "3")

	c := NewFeedbackConfig()

	assert.Equal(t, "class-feedback", c.Bucket)
	assert.Equal(t, "eu-west-1", c.Region)
	require.NotNil(t, c.Endpoint)
	assert.Equal(t, "http://localhost:9000", *c.Endpoint)
	assert.Equal(t, "voice", c.KeyPrefix)
	assert.Equal(t, "https://school.example", c.BaseURL)
	assert.Equal(t, []string{"audio/ogg", "audio/wav"}, c.MimePreferences)
	assert.Equal(t, 5*time.Minute, c.PresignTTL)
	assert.Equal(t, 90, c.MaxRecordingSeconds)
	assert.Equal(t, "DEBUG", c.DebugLevel)
	require.NotNil(t, c.AudioDeviceID)
	assert.Equal(t, 3, *c.AudioDeviceID)
	assert.Empty(t, c.Validate())
	assert.NoError(t, c.Err())
}

func TestFeedbackConfigDefaults(t *testing.T) {
	c := defaultFeedbackConfig()

	assert.Equal(t, DefaultKeyPrefix, c.KeyPrefix)
	assert.Equal(t, "public, max-age=0, must-revalidate", c.CacheControl)
	assert.Equal(t, DefaultMimePreferences, c.MimePreferences)
	assert.Equal(t, DefaultFallbackMime, c.FallbackMimeType)

	// Defaults must not alias the package slice.
	c.MimePreferences[0] = "audio/flac"
	assert.Equal(t, "audio/webm;codecs=opus", DefaultMimePreferences[0])
}

func TestFeedbackConfigValidate(t *testing.T) {
	c := defaultFeedbackConfig()
	c.AccessKeyID = "only-half"
	c.BaseURL = "school.example"
	c.DebugLevel = "LOUD"
	c.PresignTTL = 0

	issues := c.Validate()
	assert.Contains(t, issues, "FEEDBACK_BUCKET environment variable not set")
	assert.Contains(t, issues, "access key id and secret access key must be set together")
	assert.Contains(t, issues, "presign TTL must be positive")
	assert.Len(t, issues, 5)

	err := c.Err()
	assert.True(t, IsErrorCode(err, ErrCodeConfigInvalid))
}

func TestPrintConfigMasksSecrets(t *testing.T) {
	c := testConfig()
	c.AccessKeyID = "AKIAEXAMPLEKEY1234"
	c.SecretAccessKey = "very-secret-value"

	var buf bytes.Buffer
	c.PrintConfig(&buf)

	out := buf.String()
	assert.Contains(t, out, "Bucket: feedback-test")
	assert.Contains(t, out, "AKIA****1234")
	assert.NotContains(t, out, "very-secret-value")
	assert.NotContains(t, out, "AKIAEXAMPLEKEY1234")
}

func TestValidateAudioConfig(t *testing.T) {
	assert.NoError(t, ValidateAudioConfig(NewAudioConfig()))
	assert.Error(t, ValidateAudioConfig(nil))

	c := NewAudioConfig()
	c.Channels = 3
	assert.True(t, IsErrorCode(ValidateAudioConfig(c), ErrCodeConfigInvalid))

	c = NewAudioConfig()
	c.Timeslice = 0
	assert.Error(t, ValidateAudioConfig(c))
}

func TestConfigLogLevelNames(t *testing.T) {
	c := testConfig()
	c.DebugLevel = "WARNING"
	assert.Empty(t, c.Validate())

	c.DebugLevel = "CHATTY"
	assert.Len(t, c.Validate(), 1)
}
