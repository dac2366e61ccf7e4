package audio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// playerStream abstracts the portaudio output stream for tests.
type playerStream interface {
	Start() error
	Write() error
	Stop() error
	Close() error
}

// Player buffers PCM16LE mono audio and plays it on the default output
// device in 20ms frames. The device's blocking writes pace emission; Reset
// drops queued frames immediately so barge-in feels instant.
type Player struct {
	stream       playerStream
	outBuf       []int16
	frameSamples int
	frames       chan []int16
	stopCh       chan struct{}
	stopped      bool
	pcmBuf       []int16
	mu           sync.Mutex
}

// NewPlayer opens the default output device at the given sample rate. An
// unavailable device is a startup failure.
func NewPlayer(sampleRate int) (*Player, error) {
	frameSamples := sampleRate / 50 // 20ms
	outBuf := make([]int16, frameSamples)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), frameSamples, outBuf)
	if err != nil {
		return nil, fmt.Errorf("open output device: %w", err)
	}
	p := newPlayer(stream, outBuf, frameSamples)
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("start output stream: %w", err)
	}
	go p.playLoop()
	return p, nil
}

func newPlayer(stream playerStream, outBuf []int16, frameSamples int) *Player {
	return &Player{
		stream:       stream,
		outBuf:       outBuf,
		frameSamples: frameSamples,
		frames:       make(chan []int16, 256),
		stopCh:       make(chan struct{}),
	}
}

// WritePCM buffers PCM16LE mono bytes and enqueues full frames for playback.
func (p *Player) WritePCM(pcmBytes []byte) {
	if len(pcmBytes) < 2 {
		return
	}
	p.mu.Lock()
	p.pcmBuf = append(p.pcmBuf, bytesToPCM(pcmBytes)...)
	var full [][]int16
	for len(p.pcmBuf) >= p.frameSamples {
		frame := make([]int16, p.frameSamples)
		copy(frame, p.pcmBuf[:p.frameSamples])
		copy(p.pcmBuf, p.pcmBuf[p.frameSamples:])
		p.pcmBuf = p.pcmBuf[:len(p.pcmBuf)-p.frameSamples]
		full = append(full, frame)
	}
	p.mu.Unlock()
	for _, frame := range full {
		p.pushFrame(frame)
	}
}

// FlushTail pads any remaining samples to a full frame and appends a short
// silence tail so the last syllable is not clipped.
func (p *Player) FlushTail() {
	p.mu.Lock()
	if len(p.pcmBuf) > 0 {
		pad := make([]int16, p.frameSamples)
		copy(pad, p.pcmBuf)
		p.pcmBuf = p.pcmBuf[:0]
		p.mu.Unlock()
		p.pushFrame(pad)
	} else {
		p.mu.Unlock()
	}
	// ~100ms of silence (5 frames)
	for i := 0; i < 5; i++ {
		p.pushFrame(make([]int16, p.frameSamples))
	}
}

// Reset drops all queued frames and buffered samples immediately.
func (p *Player) Reset() {
	p.mu.Lock()
	p.pcmBuf = p.pcmBuf[:0]
	p.mu.Unlock()
	for {
		select {
		case <-p.frames:
		default:
			return
		}
	}
}

// Close stops the playback loop and releases the device.
func (p *Player) Close() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.stopCh)
	}
	p.mu.Unlock()
	_ = p.stream.Stop()
	_ = p.stream.Close()
}

func (p *Player) playLoop() {
	for {
		select {
		case <-p.stopCh:
			return
		case frame := <-p.frames:
			copy(p.outBuf, frame)
			// blocking write; the device paces us
			_ = p.stream.Write()
		}
	}
}

// pushFrame enqueues a frame, blocking until space is available or stopped.
func (p *Player) pushFrame(frame []int16) {
	select {
	case <-p.stopCh:
	case p.frames <- frame:
	}
}
