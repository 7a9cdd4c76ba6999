package feedback

import (
	"bytes"
	"io"
	"time"
)

// AudioArtifact is a finished recording, ready to persist.
type AudioArtifact struct {
	data           []byte
	MimeType       string
	ElapsedSeconds int
	SessionID      string
	CreatedAt      time.Time
}

// NewAudioArtifact copies data so later mutation by the caller cannot
// change the artifact.
func NewAudioArtifact(data []byte, mimeType string) *AudioArtifact {
	buf := make([]byte, len(data))
	copy(buf, data)
	return &AudioArtifact{
		data:      buf,
		MimeType:  mimeType,
		CreatedAt: time.Now(),
	}
}

// AssembleArtifact concatenates fragments in the given order.
func AssembleArtifact(chunks [][]byte, mimeType string) (*AudioArtifact, error) {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	if total == 0 {
		return nil, NewEmptyArtifactError("no audio chunks to assemble").AddDetail("chunks", len(chunks))
	}
	buf := make([]byte, 0, total)
	for _, c := range chunks {
		buf = append(buf, c...)
	}
	return &AudioArtifact{
		data:      buf,
		MimeType:  mimeType,
		CreatedAt: time.Now(),
	}, nil
}

// Bytes returns a copy of the artifact data.
func (a *AudioArtifact) Bytes() []byte {
	buf := make([]byte, len(a.data))
	copy(buf, a.data)
	return buf
}

// Reader streams the artifact without copying.
func (a *AudioArtifact) Reader() *bytes.Reader {
	return bytes.NewReader(a.data)
}

func (a *AudioArtifact) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(a.data)
	return int64(n), err
}

func (a *AudioArtifact) Size() int {
	if a == nil {
		return 0
	}
	return len(a.data)
}

func (a *AudioArtifact) Extension() string {
	return ExtensionForMimeType(a.MimeType)
}

// Validate rejects artifacts that must never reach the uploader.
func (a *AudioArtifact) Validate() error {
	if a == nil || len(a.data) == 0 {
		return NewEmptyArtifactError("audio artifact is empty")
	}
	if a.MimeType == "" {
		return NewEmptyArtifactError("audio artifact has no mime type")
	}
	return nil
}
