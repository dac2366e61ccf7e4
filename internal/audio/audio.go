// Package audio provides microphone capture and speaker playback over
// portaudio. Initialize must be called once before opening devices.
package audio

import (
	"encoding/binary"

	"github.com/gordonklaus/portaudio"
)

// Initialize prepares the portaudio host API. A failure here means no audio
// device is usable and the process cannot run.
func Initialize() error { return portaudio.Initialize() }

// Terminate releases the portaudio host API.
func Terminate() { _ = portaudio.Terminate() }

// pcmToBytes converts int16 samples to little-endian PCM bytes.
func pcmToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// bytesToPCM converts little-endian PCM bytes to int16 samples.
func bytesToPCM(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2 : i*2+2]))
	}
	return out
}
