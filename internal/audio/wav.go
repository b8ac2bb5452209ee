package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

const wavHeaderSize = 44

// WAV format codes from the fmt chunk
const (
	WAVFormatPCM        = 1
	WAVFormatFloat      = 3
	WAVFormatExtensible = 0xFFFE
)

var ErrNotWAV = errors.New("not a RIFF/WAVE file")

// WAVInfo describes the PCM layout of a WAV file
type WAVInfo struct {
	// Format is the sample encoding; EXTENSIBLE files report their sub-format
	Format        int
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataOffset    int
	DataBytes     int
}

// IsCanonical reports whether the file is already 16-bit mono PCM
func (i WAVInfo) IsCanonical() bool {
	return i.Format == WAVFormatPCM && i.BitsPerSample == 16 && i.Channels == 1
}

// Duration returns the play length in seconds
func (i WAVInfo) Duration() float64 {
	if i.SampleRate == 0 || i.Channels == 0 || i.BitsPerSample == 0 {
		return 0
	}
	return float64(i.DataBytes) / float64(i.SampleRate*i.Channels*i.BitsPerSample/8)
}

// EncodeWAV wraps 16-bit little-endian samples in a canonical 44-byte WAV header
func EncodeWAV(samples []int16, sampleRate, channels int) ([]byte, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid PCM layout: %d Hz, %d channels", sampleRate, channels)
	}

	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(samples)*2)

	if err := writeWAVHeader(&buf, len(samples), sampleRate, channels); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	if err := binary.Write(&buf, binary.LittleEndian, samples); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// PCM16FromBytes reinterprets little-endian byte pairs as samples; a trailing odd byte is dropped
func PCM16FromBytes(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

func writeWAVHeader(w io.Writer, samples, sampleRate, channels int) error {
	dataSize := samples * 2
	fileSize := 36 + dataSize

	header := make([]byte, wavHeaderSize)

	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(fileSize))
	copy(header[8:12], "WAVE")

	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)                            // fmt chunk size
	binary.LittleEndian.PutUint16(header[20:22], 1)                             // PCM format
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))              // channels
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))            // sample rate
	binary.LittleEndian.PutUint32(header[28:32], uint32(sampleRate*channels*2)) // byte rate
	binary.LittleEndian.PutUint16(header[32:34], uint16(channels*2))            // block align
	binary.LittleEndian.PutUint16(header[34:36], 16)                            // bits per sample

	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataSize))

	_, err := w.Write(header)
	return err
}

// IsWAV reports whether data starts with a RIFF/WAVE header
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// IsOgg reports whether data starts with an Ogg page
func IsOgg(data []byte) bool {
	return len(data) >= 4 && string(data[0:4]) == "OggS"
}

// ParseWAVInfo walks the RIFF chunks and returns the fmt and data layout
func ParseWAVInfo(data []byte) (WAVInfo, error) {
	if !IsWAV(data) {
		return WAVInfo{}, ErrNotWAV
	}

	var info WAVInfo
	var haveFmt bool
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return WAVInfo{}, fmt.Errorf("truncated fmt chunk")
			}
			info.Format = int(binary.LittleEndian.Uint16(data[body : body+2]))
			if info.Format == WAVFormatExtensible {
				// the sub-format GUID starts with the real format code
				if size < 40 || body+26 > len(data) {
					return WAVInfo{}, fmt.Errorf("truncated WAVE_FORMAT_EXTENSIBLE chunk")
				}
				info.Format = int(binary.LittleEndian.Uint16(data[body+24 : body+26]))
			}
			info.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return WAVInfo{}, fmt.Errorf("data chunk before fmt chunk")
			}
			info.DataOffset = body
			info.DataBytes = size
			if body+size > len(data) {
				info.DataBytes = len(data) - body
			}
			return info, nil
		}

		offset = body + size + size%2
	}

	return WAVInfo{}, fmt.Errorf("missing data chunk")
}

// ReadWAVInfo parses the header of a WAV file on disk
func ReadWAVInfo(path string) (WAVInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return WAVInfo{}, err
	}
	return ParseWAVInfo(data)
}

// DecodeWAV converts integer PCM (8 to 32 bits) or float WAV samples to
// interleaved 16-bit samples
func DecodeWAV(data []byte) ([]int16, WAVInfo, error) {
	info, err := ParseWAVInfo(data)
	if err != nil {
		return nil, WAVInfo{}, err
	}
	if info.Channels <= 0 || info.SampleRate <= 0 {
		return nil, WAVInfo{}, fmt.Errorf("invalid WAV layout: %d Hz, %d channels", info.SampleRate, info.Channels)
	}

	width := info.BitsPerSample / 8
	var convert func(b []byte) int16
	switch {
	case info.Format == WAVFormatPCM && info.BitsPerSample == 8:
		convert = func(b []byte) int16 { return int16(int(b[0])-128) << 8 }
	case info.Format == WAVFormatPCM && info.BitsPerSample == 16:
		convert = func(b []byte) int16 { return int16(binary.LittleEndian.Uint16(b)) }
	case info.Format == WAVFormatPCM && info.BitsPerSample == 24:
		convert = func(b []byte) int16 { return int16(uint16(b[1]) | uint16(b[2])<<8) }
	case info.Format == WAVFormatPCM && info.BitsPerSample == 32:
		convert = func(b []byte) int16 { return int16(binary.LittleEndian.Uint32(b) >> 16) }
	case info.Format == WAVFormatFloat && info.BitsPerSample == 32:
		convert = func(b []byte) int16 {
			return floatToPCM16(float64(math.Float32frombits(binary.LittleEndian.Uint32(b))))
		}
	case info.Format == WAVFormatFloat && info.BitsPerSample == 64:
		convert = func(b []byte) int16 {
			return floatToPCM16(math.Float64frombits(binary.LittleEndian.Uint64(b)))
		}
	default:
		return nil, WAVInfo{}, fmt.Errorf("unsupported WAV encoding: format %d, %d bits", info.Format, info.BitsPerSample)
	}

	body := data[info.DataOffset : info.DataOffset+info.DataBytes]
	samples := make([]int16, len(body)/width)
	for i := range samples {
		samples[i] = convert(body[i*width:])
	}
	return samples, info, nil
}

func floatToPCM16(v float64) int16 {
	switch {
	case v >= 1:
		return math.MaxInt16
	case v <= -1:
		return math.MinInt16
	default:
		return int16(v * math.MaxInt16)
	}
}

// Downmix averages interleaved frames into one channel; a trailing partial frame is dropped
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	mono := make([]int16, len(samples)/channels)
	for i := range mono {
		var sum int
		for c := 0; c < channels; c++ {
			sum += int(samples[i*channels+c])
		}
		mono[i] = int16(sum / channels)
	}
	return mono
}
