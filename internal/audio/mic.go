package audio

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// FramesPerBuffer is the capture buffer size in samples (64ms at 16kHz).
const FramesPerBuffer = 1024

// micStream abstracts the portaudio input stream for tests.
type micStream interface {
	Start() error
	Read() error
	Stop() error
	Close() error
}

// Mic continuously captures mono PCM16 audio from the default input device
// and hands each buffer to a single handler on a dedicated goroutine.
type Mic struct {
	mu      sync.Mutex
	stream  micStream
	buffer  []int16
	running bool
	done    chan struct{}
}

// NewMic opens the default input device at the given sample rate. An
// unavailable device is a startup failure.
func NewMic(sampleRate int) (*Mic, error) {
	buffer := make([]int16, FramesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), FramesPerBuffer, buffer)
	if err != nil {
		return nil, fmt.Errorf("open input device: %w", err)
	}
	return &Mic{stream: stream, buffer: buffer}, nil
}

func newMic(stream micStream, buffer []int16) *Mic {
	return &Mic{stream: stream, buffer: buffer}
}

// Start begins capture. handler receives each buffer as PCM16LE bytes; it
// must not block for long or capture will fall behind.
func (m *Mic) Start(handler func(pcm []byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}
	if err := m.stream.Start(); err != nil {
		return fmt.Errorf("start input stream: %w", err)
	}
	m.running = true
	m.done = make(chan struct{})
	go m.captureLoop(handler)
	return nil
}

func (m *Mic) captureLoop(handler func(pcm []byte)) {
	defer close(m.done)
	for {
		m.mu.Lock()
		running := m.running
		m.mu.Unlock()
		if !running {
			return
		}
		if err := m.stream.Read(); err != nil {
			m.mu.Lock()
			running = m.running
			m.mu.Unlock()
			if !running {
				return
			}
			log.Printf("mic read error: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		m.mu.Lock()
		pcm := pcmToBytes(m.buffer)
		m.mu.Unlock()
		handler(pcm)
	}
}

// Close stops capture and releases the device.
func (m *Mic) Close() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return m.stream.Close()
	}
	m.running = false
	done := m.done
	m.mu.Unlock()
	<-done
	_ = m.stream.Stop()
	return m.stream.Close()
}
