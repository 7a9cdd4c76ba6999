package feedback

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
)

// Factory functions for common handlers

func CreateErrorLoggingHandler(prefix string) ErrorHandler {
	logger := GetGlobalLogger().WithComponent(prefix)
	return func(err *FeedbackError) {
		if err != nil {
			logger.LogError(err)
		}
	}
}

func CreateCaptureStateLogger(callback func(CaptureState)) CaptureStateHandler {
	logger := GetGlobalLogger().WithComponent("Recorder")
	return func(state CaptureState) {
		logger.WithField("state", string(state)).Debug("Capture state changed")
		if callback != nil {
			callback(state)
		}
	}
}

func CreatePlaybackStateLogger(callback func(PlaybackState)) PlaybackStateHandler {
	logger := GetGlobalLogger().WithComponent("Player")
	return func(state PlaybackState) {
		logger.WithField("state", string(state)).Debug("Playback state changed")
		if callback != nil {
			callback(state)
		}
	}
}

// CreateCaptureStateFilter calls handler only on entering state.
func CreateCaptureStateFilter(state CaptureState, handler func()) CaptureStateHandler {
	return func(s CaptureState) {
		if s == state {
			handler()
		}
	}
}

func CreatePlaybackStateFilter(state PlaybackState, handler func()) PlaybackStateHandler {
	return func(s PlaybackState) {
		if s == state {
			handler()
		}
	}
}

// ProgressBar renders percent as a fixed width bar.
func ProgressBar(percent float64, width int) string {
	if width <= 0 {
		return ""
	}
	if math.IsNaN(percent) || percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	filled := int(math.Round(percent / 100 * float64(width)))
	return strings.Repeat("#", filled) + strings.Repeat("-", width-filled)
}

// CreateProgressPrinter redraws a single progress line on w.
func CreateProgressPrinter(w io.Writer, width int) ProgressHandler {
	var mu sync.Mutex
	return func(s PlaybackSnapshot) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, "\r[%s] %s / %s", ProgressBar(s.Percent, width), s.Position, s.Duration)
	}
}

// CreateChunkLevelMonitor reports the RMS level of PCM16 fragments, in
// [0,1]. A leading WAV header is skipped.
func CreateChunkLevelMonitor(callback func(float64)) ChunkHandler {
	return func(data []byte) {
		if len(data) >= wavHeaderSize && string(data[0:4]) == "RIFF" {
			data = data[wavHeaderSize:]
		}
		n := len(data) / 2
		if n == 0 {
			return
		}
		var sum float64
		for i := 0; i < n; i++ {
			v := float64(int16(binary.LittleEndian.Uint16(data[i*2:]))) / math.MaxInt16
			sum += v * v
		}
		if callback != nil {
			callback(math.Sqrt(sum / float64(n)))
		}
	}
}

// Composability functions

func SequentialErrorHandlers(handlers ...ErrorHandler) ErrorHandler {
	return func(err *FeedbackError) {
		for _, h := range handlers {
			if h != nil {
				h(err)
			}
		}
	}
}

func SequentialCaptureStateHandlers(handlers ...CaptureStateHandler) CaptureStateHandler {
	return func(state CaptureState) {
		for _, h := range handlers {
			if h != nil {
				h(state)
			}
		}
	}
}

func SequentialProgressHandlers(handlers ...ProgressHandler) ProgressHandler {
	return func(s PlaybackSnapshot) {
		for _, h := range handlers {
			if h != nil {
				h(s)
			}
		}
	}
}

// ChainChunkHandlers fans a fragment out to every handler in order.
func ChainChunkHandlers(handlers ...ChunkHandler) ChunkHandler {
	return func(data []byte) {
		for _, h := range handlers {
			if h != nil {
				h(data)
			}
		}
	}
}
