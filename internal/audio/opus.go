package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/hraban/opus.v2"
)

// OpusSampleRate is the rate libopusfile always decodes at
const OpusSampleRate = 48000

// maxOpusSamples bounds a decoded voice note to ten minutes of 48 kHz mono
const maxOpusSamples = OpusSampleRate * 60 * 10

// 120 ms at 48 kHz is the largest opus frame per channel
const maxOpusFrame = 5760

var ErrNoOpusHead = errors.New("ogg stream has no OpusHead packet")

// OpusChannels reads the output channel count from the OpusHead packet.
// The packet is "OpusHead", a version byte, then the channel count.
func OpusChannels(data []byte) (int, error) {
	i := bytes.Index(data, []byte("OpusHead"))
	if i < 0 || i+10 > len(data) {
		return 0, ErrNoOpusHead
	}
	channels := int(data[i+9])
	if channels == 0 {
		return 0, fmt.Errorf("invalid OpusHead channel count 0")
	}
	return channels, nil
}

// DecodeOggOpus decodes an Ogg/Opus stream into 48 kHz mono samples.
// Multi-channel streams are averaged down to one channel.
func DecodeOggOpus(data []byte) ([]int16, error) {
	channels, err := OpusChannels(data)
	if err != nil {
		return nil, err
	}

	stream, err := opus.NewStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to open opus stream: %w", err)
	}
	defer stream.Close()

	// Read reports samples per channel; the buffer holds them interleaved
	frame := make([]int16, maxOpusFrame*channels)
	var pcm []int16
	for {
		n, err := stream.Read(frame)
		if n > 0 {
			pcm = append(pcm, Downmix(frame[:n*channels], channels)...)
			if len(pcm) > maxOpusSamples {
				return nil, fmt.Errorf("opus stream longer than %d samples", maxOpusSamples)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode opus stream: %w", err)
		}
	}

	return pcm, nil
}
