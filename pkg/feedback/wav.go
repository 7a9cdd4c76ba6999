package feedback

import (
	"bytes"
	"encoding/binary"
	"math"
)

const (
	wavHeaderSize = 44
	// wavStreamingSize marks RIFF and data sizes as unknown while capturing.
	wavStreamingSize = 0xFFFFFFFF
)

// WAVFormat describes a PCM16 stream.
type WAVFormat struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond is the data rate of PCM16 audio in this format.
func (f WAVFormat) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// StreamingWAVHeader is written before the first PCM fragment. Sizes are
// unknown while recording so they carry the streaming marker; DecodeWAV
// treats that as "until end of data".
func StreamingWAVHeader(format WAVFormat) []byte {
	return wavHeader(format, wavStreamingSize)
}

// EncodeWAV returns a complete WAV file.
func EncodeWAV(format WAVFormat, samples []int16) []byte {
	pcm := EncodePCM16(samples)
	out := wavHeader(format, uint32(len(pcm)))
	return append(out, pcm...)
}

func wavHeader(format WAVFormat, dataSize uint32) []byte {
	riffSize := uint32(wavStreamingSize)
	if dataSize != wavStreamingSize {
		riffSize = 36 + dataSize
	}
	blockAlign := uint16(format.Channels * 2)

	buf := new(bytes.Buffer)
	buf.Grow(wavHeaderSize)
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, riffSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(buf, binary.LittleEndian, uint16(format.Channels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(format.SampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(format.BytesPerSecond()))
	_ = binary.Write(buf, binary.LittleEndian, blockAlign)
	_ = binary.Write(buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, dataSize)
	return buf.Bytes()
}

// EncodePCM16 serializes samples little-endian.
func EncodePCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// DecodeWAV parses a PCM16 WAV file, including streaming files whose data
// size is unknown.
func DecodeWAV(data []byte) (WAVFormat, []int16, error) {
	var format WAVFormat
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return format, nil, NewUnsupportedFormatError("audio/unknown").AddDetail("reason", "not a RIFF/WAVE file")
	}

	haveFmt := false
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		body := offset + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return format, nil, NewUnsupportedFormatError("audio/wav").AddDetail("reason", "truncated fmt chunk")
			}
			audioFormat := binary.LittleEndian.Uint16(data[body:])
			bits := binary.LittleEndian.Uint16(data[body+14:])
			if audioFormat != 1 || bits != 16 {
				return format, nil, NewUnsupportedFormatError("audio/wav").
					AddDetail("audio_format", audioFormat).
					AddDetail("bits_per_sample", bits)
			}
			format.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			format.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return format, nil, NewUnsupportedFormatError("audio/wav").AddDetail("reason", "data before fmt")
			}
			end := len(data)
			if size != wavStreamingSize && body+int(size) <= len(data) {
				end = body + int(size)
			}
			pcm := data[body:end]
			samples := make([]int16, len(pcm)/2)
			for i := range samples {
				samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
			}
			return format, samples, nil
		}

		if size == wavStreamingSize {
			break
		}
		offset = body + int(size) + int(size&1)
	}
	return format, nil, NewUnsupportedFormatError("audio/wav").AddDetail("reason", "no data chunk")
}

// DurationSeconds returns the length of n interleaved samples.
func (f WAVFormat) DurationSeconds(n int) float64 {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return math.NaN()
	}
	return float64(n) / float64(f.Channels) / float64(f.SampleRate)
}
