package audioconv

import (
	"bytes"
	"fmt"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"gopkg.in/hraban/opus.v2"
)

const (
	wavFormatPCM = 1

	opusSampleRate = 48000
	opusFrameSize  = opusSampleRate / 50 // 20ms
	opusMaxPacket  = 4000
	opusPreSkip    = 312 // libopus encoder lookahead at 48 kHz
)

func encodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	ints := make([]int, len(samples))
	for i, v := range samples {
		ints[i] = int(float32ToInt16(v))
	}

	var out seekBuffer
	enc := wav.NewEncoder(&out, sampleRate, 16, 1, wavFormatPCM)
	buf := &audio.IntBuffer{
		Data:           ints,
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav: %w", err)
	}
	return out.Bytes(), nil
}

// encodeOggOpus encodes 48 kHz mono samples as 20ms Opus packets in an Ogg stream.
// The final granule position trims the encoder delay and frame padding, so a
// decoder yields exactly len(samples) samples.
func encodeOggOpus(samples []float32, bitrate int) ([]byte, error) {
	enc, err := opus.NewEncoder(opusSampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	if bitrate > 0 {
		if err := enc.SetBitrate(bitrate); err != nil {
			return nil, fmt.Errorf("opus bitrate: %w", err)
		}
	}

	var out bytes.Buffer
	ogg, err := newOggOpusWriter(&out, 1, opusPreSkip, opusSampleRate)
	if err != nil {
		return nil, fmt.Errorf("ogg header: %w", err)
	}

	total := len(samples) + opusPreSkip
	frames := (total + opusFrameSize - 1) / opusFrameSize

	var (
		frame  = make([]int16, opusFrameSize)
		packet = make([]byte, opusMaxPacket)
	)
	for k := 0; k < frames; k++ {
		clear(frame)
		if off := k * opusFrameSize; off < len(samples) {
			end := min(off+opusFrameSize, len(samples))
			for i, v := range samples[off:end] {
				frame[i] = float32ToInt16(v)
			}
		}

		n, err := enc.Encode(frame, packet)
		if err != nil {
			return nil, fmt.Errorf("opus encode: %w", err)
		}

		last := k == frames-1
		granule := uint64((k + 1) * opusFrameSize)
		if last {
			granule = uint64(total)
		}
		if err := ogg.WritePacket(packet[:n], granule, last); err != nil {
			return nil, fmt.Errorf("ogg page: %w", err)
		}
	}
	return out.Bytes(), nil
}

// EncodeWAV16 wraps mono 16-bit PCM in a WAV container.
func EncodeWAV16(samples []int16, sampleRate int) ([]byte, error) {
	return encodeWAV(int16SliceToFloat32(samples), sampleRate)
}
