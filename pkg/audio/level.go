package audio

import "math"

// LevelAnalyzer turns captured frames into a loudness reading for a level
// meter. One analyzer is acquired per recording and closed with it.
type LevelAnalyzer interface {
	// Level returns the frame's loudness in [0, 1].
	Level(f Frame) float64

	// Close releases any resources held by the analyzer.
	Close() error
}

// RMSAnalyzer reports the root mean square of a frame's samples, scaled to
// full-scale int16. It holds no resources.
type RMSAnalyzer struct{}

// Level implements [LevelAnalyzer].
func (RMSAnalyzer) Level(f Frame) float64 {
	return RMS(f.Data)
}

// Close implements [LevelAnalyzer].
func (RMSAnalyzer) Close() error { return nil }

// RMS computes the normalised root mean square of 16-bit PCM. Empty input
// has level 0.
func RMS(pcm []byte) float64 {
	samples := Samples(pcm)
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / math.MaxInt16
		sum += v * v
	}
	return math.Min(math.Sqrt(sum/float64(len(samples))), 1)
}
