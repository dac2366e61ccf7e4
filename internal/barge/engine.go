// Package barge detects the user speaking while assistant playback is active
// and raises the interrupt that stops it.
package barge

import (
	"encoding/binary"
	"math"
	"strings"
	"sync"
)

// Config holds the thresholds for the barge-in detector.
type Config struct {
	SampleRate      int     // engine expects 10ms frames at this rate
	VADThreshold    float64 // RMS energy above which a frame counts as voice
	ASRTokens       int     // new non-echo tokens in a partial that count as speech
	FuseWinMs       int     // voting window before triggering
	HysteresisOffMs int     // sustained-silence window that clears pending votes
}

// DefaultConfig returns thresholds tuned for a near-field microphone at 16kHz.
func DefaultConfig() Config {
	return Config{
		SampleRate:      16000,
		VADThreshold:    300.0,
		ASRTokens:       2,
		FuseWinMs:       160,
		HysteresisOffMs: 200,
	}
}

// Events allows the host to react to barge-in.
type Events struct {
	// OnTrigger fires once when speech is detected during playback.
	OnTrigger func()
	// OnTTSStop should stop audio output immediately.
	OnTTSStop func()
}

// Engine fuses a frame-level energy detector with ASR partial-transcript
// growth. Words recently spoken by the assistant are discounted so playback
// echo does not interrupt itself. Detection runs only while speaking is set.
type Engine struct {
	cfg Config
	ev  Events

	mu          sync.Mutex
	speaking    bool
	vadWin      []bool
	votesOn     *voteWindow
	votesOff    *voteWindow
	ttsWords    *bloom
	lastPartial string
	lastTokens  []string
	asrHot      int // frames remaining for which transcript growth keeps voting
}

// NewEngine constructs an Engine with the given thresholds and callbacks.
func NewEngine(cfg Config, ev Events) *Engine {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.VADThreshold == 0 {
		cfg.VADThreshold = 300.0
	}
	return &Engine{
		cfg:      cfg,
		ev:       ev,
		votesOn:  newVoteWindow(cfg.FuseWinMs),
		votesOff: newVoteWindow(cfg.HysteresisOffMs),
		ttsWords: newBloom(4096),
	}
}

// SetSpeaking toggles detection. Call with true when playback starts and
// false when it ends.
func (e *Engine) SetSpeaking(on bool) {
	e.mu.Lock()
	e.speaking = on
	e.mu.Unlock()
	if !on {
		e.Reset()
	}
}

// Reset clears voting state between turns.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.votesOn.Reset()
	e.votesOff.Reset()
	e.vadWin = e.vadWin[:0]
	e.lastPartial = ""
	e.lastTokens = nil
	e.asrHot = 0
	e.mu.Unlock()
}

// FeedMic consumes PCM16LE mono mic audio of arbitrary length, splitting it
// into 10ms frames at the configured sample rate.
func (e *Engine) FeedMic(pcm []byte) {
	samplesPer10ms := e.cfg.SampleRate / 100
	for off := 0; off+samplesPer10ms*2 <= len(pcm); off += samplesPer10ms * 2 {
		e.onMicFrame(pcm[off : off+samplesPer10ms*2])
	}
}

// NotifyPartial supplies the latest running transcript so token growth can
// vote alongside the energy detector.
func (e *Engine) NotifyPartial(text string) {
	e.mu.Lock()
	e.lastPartial = text
	e.mu.Unlock()
}

// NotifyTTSText records words the assistant is about to speak so their echo
// in the transcript is discounted.
func (e *Engine) NotifyTTSText(text string) {
	for _, w := range strings.Fields(strings.ToLower(text)) {
		e.ttsWords.Add(strings.Trim(w, ".,!?;:\"'"))
	}
}

func (e *Engine) onMicFrame(frame []byte) {
	e.mu.Lock()
	speaking := e.speaking
	e.mu.Unlock()

	vadYes := e.isSpeech(frame)
	asrYes := e.asrGrowth()

	if !speaking {
		return
	}
	e.votesOn.Push(vadYes || asrYes)
	e.votesOff.Push(!vadYes && !asrYes)
	if e.votesOn.Ratio() >= 2.0/3.0 {
		e.trigger()
		return
	}
	if e.votesOff.Ratio() >= 2.0/3.0 {
		e.votesOn.Reset()
	}
}

// isSpeech smooths a per-frame RMS decision over the last few frames.
func (e *Engine) isSpeech(frame []byte) bool {
	var sum float64
	n := len(frame) / 2
	if n == 0 {
		return false
	}
	for i := 0; i+1 < len(frame); i += 2 {
		v := float64(int16(binary.LittleEndian.Uint16(frame[i : i+2])))
		sum += v * v
	}
	loud := math.Sqrt(sum/float64(n)) >= e.cfg.VADThreshold

	e.mu.Lock()
	defer e.mu.Unlock()
	e.vadWin = append(e.vadWin, loud)
	const smoothN = 4
	if len(e.vadWin) > smoothN {
		e.vadWin = e.vadWin[len(e.vadWin)-smoothN:]
	}
	trueCount := 0
	for _, x := range e.vadWin {
		if x {
			trueCount++
		}
	}
	return trueCount*2 >= len(e.vadWin)
}

// asrGrowth reports whether the partial transcript recently grew by enough
// tokens that are not echoes of the assistant's own speech. A growth event
// keeps voting for the length of the fuse window so a single partial update
// can carry a trigger.
func (e *Engine) asrGrowth() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.asrHot > 0 {
		e.asrHot--
		return true
	}
	text := strings.TrimSpace(e.lastPartial)
	if text == "" {
		return false
	}
	tokens := strings.Fields(strings.ToLower(text))
	newCount := 0
	for i := len(e.lastTokens); i < len(tokens); i++ {
		w := strings.Trim(tokens[i], ".,!?;:\"'")
		if isStopword(w) || e.ttsWords.Contains(w) {
			continue
		}
		newCount++
		if newCount >= e.cfg.ASRTokens {
			e.lastTokens = tokens
			e.asrHot = e.votesOn.max
			return true
		}
	}
	e.lastTokens = tokens
	return false
}

func (e *Engine) trigger() {
	if e.ev.OnTTSStop != nil {
		e.ev.OnTTSStop()
	}
	if e.ev.OnTrigger != nil {
		e.ev.OnTrigger()
	}
	e.mu.Lock()
	e.votesOn.Reset()
	e.votesOff.Reset()
	e.mu.Unlock()
}

func isStopword(s string) bool {
	switch s {
	case "the", "a", "an", "and", "or", "to", "of", "in", "on", "for", "is", "it", "uh", "um":
		return true
	}
	return false
}

// voteWindow keeps a sliding window of boolean votes sized in 10ms frames.
type voteWindow struct {
	mu   sync.Mutex
	hist []bool
	max  int
}

func newVoteWindow(ms int) *voteWindow {
	max := ms/10 + 1
	if max < 2 {
		max = 2
	}
	return &voteWindow{max: max}
}

func (v *voteWindow) Push(b bool) {
	v.mu.Lock()
	v.hist = append(v.hist, b)
	if len(v.hist) > v.max {
		v.hist = v.hist[len(v.hist)-v.max:]
	}
	v.mu.Unlock()
}

func (v *voteWindow) Ratio() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.hist) < v.max {
		// not enough history to decide
		return 0
	}
	var t int
	for _, b := range v.hist {
		if b {
			t++
		}
	}
	return float64(t) / float64(len(v.hist))
}

func (v *voteWindow) Reset() {
	v.mu.Lock()
	v.hist = v.hist[:0]
	v.mu.Unlock()
}

// bloom is a small set membership filter for spoken words.
type bloom struct{ bits []byte }

func newBloom(n int) *bloom { return &bloom{bits: make([]byte, n)} }

func (b *bloom) hash(s string) int {
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return int(h) % len(b.bits)
}

func (b *bloom) Add(s string) {
	if len(b.bits) > 0 && s != "" {
		b.bits[b.hash(s)] = 1
	}
}

func (b *bloom) Contains(s string) bool {
	return len(b.bits) > 0 && s != "" && b.bits[b.hash(s)] == 1
}
