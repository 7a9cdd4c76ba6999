package feedback

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Error codes as constants
const (
	ErrCodeDeviceAccess     = "DEVICE_ACCESS_ERROR"
	ErrCodePlayback         = "PLAYBACK_ERROR"
	ErrCodeUpload           = "UPLOAD_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeEmptyArtifact    = "EMPTY_ARTIFACT"
	ErrCodeHandleReleased   = "HANDLE_RELEASED"
	ErrCodeInvalidState     = "INVALID_STATE"
	ErrCodeAlreadyRecording = "ALREADY_RECORDING"
	ErrCodeInvalidStudent   = "INVALID_STUDENT"
	ErrCodeConfigInvalid    = "CONFIG_INVALID"
	ErrCodeUnsupported      = "UNSUPPORTED_FORMAT"
	ErrCodeUnknown          = "UNKNOWN_ERROR"
)

// Sentinels for errors.Is. A *FeedbackError matches the sentinel with the
// same code.
var (
	ErrDeviceAccess     = &FeedbackError{Code: ErrCodeDeviceAccess, Message: "device access failed"}
	ErrPlayback         = &FeedbackError{Code: ErrCodePlayback, Message: "playback failed"}
	ErrUpload           = &FeedbackError{Code: ErrCodeUpload, Message: "upload failed"}
	ErrNotFound         = &FeedbackError{Code: ErrCodeNotFound, Message: "no feedback available"}
	ErrEmptyArtifact    = &FeedbackError{Code: ErrCodeEmptyArtifact, Message: "empty audio artifact"}
	ErrHandleReleased   = &FeedbackError{Code: ErrCodeHandleReleased, Message: "local handle already released"}
	ErrInvalidState     = &FeedbackError{Code: ErrCodeInvalidState, Message: "invalid state"}
	ErrAlreadyRecording = &FeedbackError{Code: ErrCodeAlreadyRecording, Message: "capture session already active"}
)

// FeedbackError carries a code, a message and structured details.
type FeedbackError struct {
	Message   string
	Code      string
	Timestamp time.Time
	Details   map[string]interface{}
	err       error
}

func NewFeedbackError(message, code string) *FeedbackError {
	return &FeedbackError{
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

func (e *FeedbackError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	sb.WriteString(" (")
	sb.WriteString(e.Code)
	sb.WriteString(")")
	if e.err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.err.Error())
	}
	return sb.String()
}

// Unwrap exposes the underlying cause.
func (e *FeedbackError) Unwrap() error {
	return e.err
}

// Is matches any *FeedbackError with the same code.
func (e *FeedbackError) Is(target error) bool {
	var t *FeedbackError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// AddDetail attaches a key/value to the error and returns it for chaining.
func (e *FeedbackError) AddDetail(key string, value interface{}) *FeedbackError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func (e *FeedbackError) GetDetail(key string) (interface{}, bool) {
	if e.Details == nil {
		return nil, false
	}
	value, exists := e.Details[key]
	return value, exists
}

// DetailString renders details in a stable order.
func (e *FeedbackError) DetailString() string {
	if len(e.Details) == 0 {
		return ""
	}
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, e.Details[k]))
	}
	return strings.Join(parts, " ")
}

func (e *FeedbackError) withCause(err error) *FeedbackError {
	e.err = err
	return e
}

// Specific error creators with common codes
func NewDeviceAccessError(message string, cause error) *FeedbackError {
	return NewFeedbackError(message, ErrCodeDeviceAccess).withCause(cause)
}

func NewPlaybackError(message string) *FeedbackError {
	return NewFeedbackError(message, ErrCodePlayback)
}

func NewUploadError(message string, cause error) *FeedbackError {
	return NewFeedbackError(message, ErrCodeUpload).withCause(cause)
}

func NewNotFoundError(studentID string) *FeedbackError {
	return NewFeedbackError("no feedback available", ErrCodeNotFound).AddDetail("student_id", studentID)
}

func NewEmptyArtifactError(message string) *FeedbackError {
	return NewFeedbackError(message, ErrCodeEmptyArtifact)
}

func NewHandleReleasedError(handle string) *FeedbackError {
	return NewFeedbackError("local handle already released", ErrCodeHandleReleased).AddDetail("handle", handle)
}

func NewInvalidStateError(op string, state interface{}) *FeedbackError {
	return NewFeedbackError(fmt.Sprintf("%s not allowed in state %v", op, state), ErrCodeInvalidState).
		AddDetail("operation", op).
		AddDetail("state", fmt.Sprint(state))
}

func NewAlreadyRecordingError() *FeedbackError {
	return NewFeedbackError("capture session already active", ErrCodeAlreadyRecording)
}

func NewInvalidStudentError(studentID string) *FeedbackError {
	return NewFeedbackError("invalid student id", ErrCodeInvalidStudent).AddDetail("student_id", studentID)
}

func NewConfigError(message string) *FeedbackError {
	return NewFeedbackError(message, ErrCodeConfigInvalid)
}

func NewUnsupportedFormatError(mimeType string) *FeedbackError {
	return NewFeedbackError("unsupported audio format", ErrCodeUnsupported).AddDetail("mime_type", mimeType)
}

// WrapError wraps any error as a FeedbackError. Errors that already are
// FeedbackErrors are returned unchanged.
func WrapError(err error, code string) *FeedbackError {
	if err == nil {
		return nil
	}
	if fe, ok := AsFeedbackError(err); ok {
		return fe
	}
	return NewFeedbackError(err.Error(), code).withCause(err)
}

// AsFeedbackError finds the first FeedbackError in err's chain.
func AsFeedbackError(err error) (*FeedbackError, bool) {
	var fe *FeedbackError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code string) bool {
	fe, ok := AsFeedbackError(err)
	return ok && fe.Code == code
}

// IsRetryableError reports whether the user can simply try again.
func IsRetryableError(err error) bool {
	fe, ok := AsFeedbackError(err)
	if !ok {
		return false
	}
	switch fe.Code {
	case ErrCodeDeviceAccess, ErrCodePlayback, ErrCodeUpload:
		return true
	}
	return false
}

// UserMessage is the text a UI shows for an error.
func UserMessage(err error) string {
	fe, ok := AsFeedbackError(err)
	if !ok {
		return "something went wrong"
	}
	switch fe.Code {
	case ErrCodeDeviceAccess:
		return "cannot access the microphone, check permissions and try again"
	case ErrCodePlayback, ErrCodeHandleReleased:
		return "content unavailable"
	case ErrCodeUpload:
		return "upload failed, check the network and try again"
	case ErrCodeNotFound:
		return "no feedback available"
	case ErrCodeEmptyArtifact:
		return "nothing was recorded"
	}
	return fe.Message
}
