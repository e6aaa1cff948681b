package audioconv

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	popus "github.com/pekim/opus"
)

// pcm is mono float32 audio in [-1, 1].
type pcm struct {
	samples []float32
	rate    int
}

func decode(data []byte, f Format) (pcm, error) {
	switch f {
	case FormatOgg:
		return decodeOgg(data)
	case FormatMP3:
		return decodeMP3(bytes.NewReader(data))
	case FormatWAV:
		return decodeWAV(bytes.NewReader(data))
	default:
		return pcm{}, fmt.Errorf("no decoder for %q", f)
	}
}

func decodeOgg(data []byte) (pcm, error) {
	if p, err := decodeOggVorbis(bytes.NewReader(data)); err == nil {
		return p, nil
	}
	p, err := decodeOggOpus(bytes.NewReader(data))
	if err != nil {
		return pcm{}, fmt.Errorf("cannot decode ogg as vorbis or opus: %w", err)
	}
	return p, nil
}

func decodeWAV(r io.ReadSeeker) (pcm, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return pcm{}, errors.New("invalid wav")
	}
	pb, err := dec.FullPCMBuffer()
	if err != nil || pb == nil || pb.Data == nil {
		if err == nil {
			err = errors.New("empty wav")
		}
		return pcm{}, err
	}

	bd := int(dec.BitDepth)
	if bd == 0 {
		bd = 16
	}
	x := intSliceToFloat32(pb.Data, bd)

	ch := 1
	sr := 44100
	if pb.Format != nil {
		if pb.Format.NumChannels > 0 {
			ch = pb.Format.NumChannels
		}
		if pb.Format.SampleRate > 0 {
			sr = pb.Format.SampleRate
		}
	}
	return pcm{samples: downmixInterleaved(x, ch), rate: sr}, nil
}

func decodeMP3(r io.Reader) (pcm, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return pcm{}, err
	}
	var raw bytes.Buffer
	if _, err := io.Copy(&raw, dec); err != nil {
		return pcm{}, err
	}
	ints := make([]int16, raw.Len()/2)
	if err := binary.Read(bytes.NewReader(raw.Bytes()), binary.LittleEndian, &ints); err != nil {
		return pcm{}, err
	}
	// go-mp3 always emits interleaved stereo
	x := downmixInterleaved(int16SliceToFloat32(ints), 2)

	sr := dec.SampleRate()
	if sr <= 0 {
		sr = 44100
	}
	return pcm{samples: x, rate: sr}, nil
}

func decodeOggVorbis(r io.Reader) (pcm, error) {
	samples, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return pcm{}, err
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return pcm{}, errors.New("invalid ogg/vorbis stream")
	}
	return pcm{samples: downmixInterleaved(samples, format.Channels), rate: format.SampleRate}, nil
}

func decodeOggOpus(rs io.ReadSeeker) (pcm, error) {
	dec, err := popus.NewDecoder(rs)
	if err != nil {
		return pcm{}, err
	}
	defer dec.Destroy()

	ch := dec.ChannelCount()
	if ch <= 0 {
		ch = 1
	}

	// opusfile always decodes at 48 kHz
	var (
		pcm48 []float32
		buf   = make([]int16, 48_000*ch/2)
	)
	for {
		n, err := dec.Read(buf) // n = samples per channel
		if n > 0 {
			pcm48 = append(pcm48, int16SliceToFloat32(buf[:n*ch])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return pcm{}, err
		}
	}

	return pcm{samples: downmixInterleaved(pcm48, ch), rate: 48000}, nil
}

// DecodePCM decodes any supported container into mono float32 samples at sampleRate.
func DecodePCM(data []byte, f Format, sampleRate int) (samples []float32, err error) {
	defer func() {
		if r := recover(); r != nil {
			samples = nil
			err = &Error{Op: "decode", From: f, Kind: ErrCorrupt, Err: fmt.Errorf("decoder panic: %v", r)}
		}
	}()

	p, err := decode(data, f)
	if err != nil {
		return nil, &Error{Op: "decode", From: f, Kind: ErrCorrupt, Err: err}
	}
	return resample(p.samples, p.rate, sampleRate), nil
}
