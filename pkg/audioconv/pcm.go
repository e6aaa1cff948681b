package audioconv

import (
	"math"

	"github.com/faiface/beep"
)

// beep quality 1..64; 4 is its own recommended default for speech
const resampleQuality = 4

// monoStreamer feeds a mono sample slice into beep as a two channel stream.
type monoStreamer struct {
	samples []float32
	pos     int
}

func (s *monoStreamer) Stream(buf [][2]float64) (int, bool) {
	if s.pos >= len(s.samples) {
		return 0, false
	}
	n := 0
	for n < len(buf) && s.pos < len(s.samples) {
		v := float64(s.samples[s.pos])
		buf[n][0], buf[n][1] = v, v
		n++
		s.pos++
	}
	return n, true
}

func (s *monoStreamer) Err() error { return nil }

func resample(in []float32, inSR, outSR int) []float32 {
	if inSR == outSR || len(in) == 0 || inSR <= 0 || outSR <= 0 {
		return in
	}

	r := beep.Resample(resampleQuality, beep.SampleRate(inSR), beep.SampleRate(outSR), &monoStreamer{samples: in})

	ratio := float64(outSR) / float64(inSR)
	out := make([]float32, 0, int(math.Ceil(float64(len(in))*ratio)))
	buf := make([][2]float64, 1024)
	for {
		n, ok := r.Stream(buf)
		for i := 0; i < n; i++ {
			out = append(out, float32(clamp(buf[i][0], -1.0, 1.0)))
		}
		if !ok || n == 0 {
			break
		}
	}
	return out
}

// padTo extends in with silence up to n samples.
func padTo(in []float32, n int) []float32 {
	if len(in) >= n {
		return in
	}
	out := make([]float32, n)
	copy(out, in)
	return out
}

func intSliceToFloat32(data []int, bitDepth int) []float32 {
	out := make([]float32, len(data))
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	for i, v := range data {
		out[i] = float32(clamp(float64(v)*scale, -1.0, 1.0))
	}
	return out
}

func int16SliceToFloat32(data []int16) []float32 {
	out := make([]float32, len(data))
	const scale = 1.0 / 32768.0
	for i, v := range data {
		out[i] = float32(float64(v) * scale)
	}
	return out
}

func float32ToInt16(v float32) int16 {
	return int16(math.Round(clamp(float64(v), -1.0, 1.0) * 32767))
}

func downmixInterleaved(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	nFrames := len(in) / channels
	out := make([]float32, nFrames)
	for i := 0; i < nFrames; i++ {
		sum := 0.0
		base := i * channels
		for c := 0; c < channels; c++ {
			sum += float64(in[base+c])
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
