package audio

import (
	"math"

	"github.com/avrek/voxcall/internal/core"
)

// Ringtone synthesizes the classic dual-tone ring cadence as S16LE PCM:
// 440Hz plus 480Hz, two seconds on, four seconds silent. Loop the clip
// for a continuous ring.
func Ringtone(sampleRate, channels int) core.CueSource {
	const (
		ringSeconds    = 2
		silenceSeconds = 4
		amplitude      = 0.3
	)
	total := (ringSeconds + silenceSeconds) * sampleRate
	pcm := make([]byte, 0, total*channels*2)

	for i := 0; i < total; i++ {
		var s int16
		if i < ringSeconds*sampleRate {
			t := float64(i) / float64(sampleRate)
			v := amplitude * (math.Sin(2*math.Pi*440*t) + math.Sin(2*math.Pi*480*t)) / 2
			s = int16(v * math.MaxInt16)
		}
		for c := 0; c < channels; c++ {
			pcm = append(pcm, byte(uint16(s)), byte(uint16(s)>>8))
		}
	}

	return core.CueSource{
		Name:       "ringtone",
		PCM:        pcm,
		SampleRate: uint32(sampleRate),
		Channels:   uint32(channels),
	}
}
