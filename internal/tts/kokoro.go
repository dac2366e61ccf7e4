package tts

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"
)

// synthesizer abstracts the offline synthesis runtime for tests.
type synthesizer interface {
	// Generate renders text to mono float32 samples in [-1, 1].
	Generate(text string, speaker int, speed float32) ([]float32, int, error)
	SampleRate() int
	Close()
}

// sherpaSynth wraps the sherpa-onnx Kokoro runtime.
type sherpaSynth struct {
	tts *sherpa.OfflineTts
}

func newSherpaSynth(modelPath, voicesPath, tokensPath, dataDir string) (*sherpaSynth, error) {
	for _, p := range []string{modelPath, voicesPath, tokensPath} {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("tts asset missing at %s: %w", p, err)
		}
	}
	cfg := sherpa.OfflineTtsConfig{MaxNumSentences: 1}
	cfg.Model.Kokoro.Model = modelPath
	cfg.Model.Kokoro.Voices = voicesPath
	cfg.Model.Kokoro.Tokens = tokensPath
	cfg.Model.Kokoro.DataDir = dataDir
	cfg.Model.NumThreads = 2
	cfg.Model.Provider = "cpu"
	t := sherpa.NewOfflineTts(&cfg)
	if t == nil {
		return nil, fmt.Errorf("create kokoro synthesizer from %s", modelPath)
	}
	return &sherpaSynth{tts: t}, nil
}

func (s *sherpaSynth) Generate(text string, speaker int, speed float32) ([]float32, int, error) {
	audio := s.tts.Generate(text, speaker, speed)
	if audio == nil || len(audio.Samples) == 0 {
		return nil, 0, fmt.Errorf("kokoro produced no audio for %q", text)
	}
	return audio.Samples, audio.SampleRate, nil
}

func (s *sherpaSynth) SampleRate() int { return s.tts.SampleRate() }

func (s *sherpaSynth) Close() {
	if s.tts != nil {
		sherpa.DeleteOfflineTts(s.tts)
		s.tts = nil
	}
}

// Config holds the Kokoro model assets and voice parameters.
type Config struct {
	ModelPath  string
	VoicesPath string
	TokensPath string
	DataDir    string
	SpeakerID  int
	Speed      float64
}

// KokoroClient synthesizes speech offline and streams it as PCM16LE frames.
type KokoroClient struct {
	mu      sync.Mutex // sherpa sessions are not reentrant
	synth   synthesizer
	speaker int
	speed   float32
}

// NewKokoroClient loads the Kokoro model, voices, and tokens files.
func NewKokoroClient(cfg Config) (*KokoroClient, error) {
	synth, err := newSherpaSynth(cfg.ModelPath, cfg.VoicesPath, cfg.TokensPath, cfg.DataDir)
	if err != nil {
		return nil, err
	}
	speed := float32(cfg.Speed)
	if speed <= 0 {
		speed = 1.0
	}
	log.Printf("Loaded Kokoro TTS model from %s (rate=%dHz)", cfg.ModelPath, synth.SampleRate())
	return &KokoroClient{synth: synth, speaker: cfg.SpeakerID, speed: speed}, nil
}

func newClient(synth synthesizer, speaker int, speed float32) *KokoroClient {
	return &KokoroClient{synth: synth, speaker: speaker, speed: speed}
}

// SampleRate returns the output sample rate of the loaded model.
func (k *KokoroClient) SampleRate() int { return k.synth.SampleRate() }

// StreamPCM synthesizes text and emits PCM16LE mono frames of ~20ms on the
// returned channel. Synthesis is blocking; streaming in frames lets the
// caller stop playback between frames on barge-in.
func (k *KokoroClient) StreamPCM(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(pcmCh)
		defer close(errCh)
		if text == "" {
			return
		}

		k.mu.Lock()
		samples, sr, err := k.synth.Generate(text, k.speaker, k.speed)
		k.mu.Unlock()
		if err != nil {
			errCh <- fmt.Errorf("kokoro: %w", err)
			return
		}

		pcm := floatToPCM16(samples)
		frameBytes := sr / 50 * 2 // 20ms of PCM16 mono
		for off := 0; off < len(pcm); off += frameBytes {
			end := off + frameBytes
			if end > len(pcm) {
				end = len(pcm)
			}
			select {
			case <-ctx.Done():
				return
			case pcmCh <- pcm[off:end]:
			}
		}
	}()

	return pcmCh, errCh
}

// Close releases the synthesis runtime.
func (k *KokoroClient) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.synth.Close()
}

// floatToPCM16 converts float32 samples in [-1, 1] to little-endian int16.
func floatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s*32767)))
	}
	return out
}
