// Package audio holds the call-independent audio helpers: the speaking
// level computation and the named sound cue registry.
package audio

import "math"

// SpeakingThreshold is the RMS level above which a party counts as
// speaking. Picked empirically; quiet room noise stays well below it.
const SpeakingThreshold = 0.01

// ComputeLevel returns the root-mean-square level in [0,1] of a buffer of
// unsigned 8-bit time-domain samples centered at 128. An empty buffer is
// silence.
func ComputeLevel(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var sum float64
	for _, b := range data {
		v := (float64(b) - 128) / 128
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(data)))
}
