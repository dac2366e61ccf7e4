package transcript

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	vosk "github.com/alphacep/vosk-api/go"
)

// SILENCE_THRESHOLD is the inactivity window required after the last recognized
// speech before we consider an utterance complete. Keep conservative to avoid
// cutting the user mid-sentence.
const SILENCE_THRESHOLD = 1200 * time.Millisecond

// voiceRMS is the minimum RMS energy of a PCM16 buffer considered voice.
const voiceRMS = 250.0

// recognizer abstracts the offline speech engine so the service can be tested
// without a Vosk model on disk.
type recognizer interface {
	// AcceptWaveform consumes PCM16LE mono audio and returns finalized text
	// when the engine decided an utterance segment ended, or "" otherwise.
	AcceptWaveform(pcm []byte) string
	// Partial returns the running hypothesis for the current segment.
	Partial() string
	// Flush returns any remaining finalized text and resets the engine.
	Flush() string
	Close()
}

// voskRecognizer wraps the Vosk model and recognizer behind the recognizer
// interface.
type voskRecognizer struct {
	model *vosk.VoskModel
	rec   *vosk.VoskRecognizer
}

type voskResult struct {
	Text    string `json:"text"`
	Partial string `json:"partial"`
}

func newVoskRecognizer(modelPath string, sampleRate int) (*voskRecognizer, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("vosk model not found at %s: %w", modelPath, err)
	}
	model, err := vosk.NewModel(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load vosk model: %w", err)
	}
	rec, err := vosk.NewRecognizer(model, float64(sampleRate))
	if err != nil {
		model.Free()
		return nil, fmt.Errorf("create vosk recognizer: %w", err)
	}
	return &voskRecognizer{model: model, rec: rec}, nil
}

func parseVosk(raw string) voskResult {
	var r voskResult
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		log.Printf("vosk: unparseable result %q: %v", raw, err)
	}
	return r
}

func (v *voskRecognizer) AcceptWaveform(pcm []byte) string {
	if v.rec.AcceptWaveform(pcm) != 0 {
		return parseVosk(v.rec.Result()).Text
	}
	return ""
}

func (v *voskRecognizer) Partial() string {
	return parseVosk(v.rec.PartialResult()).Partial
}

func (v *voskRecognizer) Flush() string {
	text := parseVosk(v.rec.FinalResult()).Text
	v.rec.Reset()
	return text
}

func (v *voskRecognizer) Close() {
	if v.rec != nil {
		v.rec.Free()
		v.rec = nil
	}
	if v.model != nil {
		v.model.Free()
		v.model = nil
	}
}

// VoskService performs offline streaming transcription. It accepts PCM 16kHz
// little-endian mono buffers and emits live partials and finalized utterances
// on channels, finalizing after a silence window.
type VoskService struct {
	recMu       sync.Mutex // serializes engine access between decodeLoop and the silence timer
	rec         recognizer
	transcripts chan string
	finalizeCh  chan string
	audioData   chan []byte
	stopCh      chan struct{}
	done        chan struct{} // closed when decodeLoop exits
	mu          sync.RWMutex
	connected   bool

	// utterance accumulation
	accMu         sync.Mutex
	segments      []string
	silenceTimer  *time.Timer
	lastVoiceTime time.Time
}

// NewVoskService loads the Vosk model from modelPath. The model directory must
// exist; a missing model is a startup failure.
func NewVoskService(modelPath string, sampleRate int) (*VoskService, error) {
	rec, err := newVoskRecognizer(modelPath, sampleRate)
	if err != nil {
		return nil, err
	}
	log.Printf("Loaded Vosk model from %s", modelPath)
	return newService(rec), nil
}

func newService(rec recognizer) *VoskService {
	return &VoskService{
		rec:         rec,
		transcripts: make(chan string, 100),
		finalizeCh:  make(chan string, 10),
		audioData:   make(chan []byte, 1000),
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Connect starts the decoding goroutine.
func (s *VoskService) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		return nil
	}
	select {
	case <-s.stopCh:
		return fmt.Errorf("transcript service closed")
	default:
	}
	s.connected = true
	s.accMu.Lock()
	s.lastVoiceTime = time.Now()
	s.accMu.Unlock()
	go s.decodeLoop()
	return nil
}

// GetTranscripts returns the channel of live partial transcripts.
func (s *VoskService) GetTranscripts() <-chan string { return s.transcripts }

// Finalize returns the channel of finalized utterances.
func (s *VoskService) Finalize() <-chan string { return s.finalizeCh }

// SendPCM16KLE queues audio for decoding. The buffer is scanned for voice
// energy first so barge-in can react before transcription completes.
func (s *VoskService) SendPCM16KLE(pcm []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return fmt.Errorf("transcript service not connected")
	}
	s.detectVoiceActivity(pcm)
	select {
	case s.audioData <- pcm:
	default:
		log.Println("Audio buffer full, dropping packet")
	}
	return nil
}

// detectVoiceActivity updates lastVoiceTime if the PCM buffer contains voice
// energy above a threshold. Expects 16-bit little-endian PCM mono.
func (s *VoskService) detectVoiceActivity(pcm []byte) {
	const minSamples = 160 // 10ms at 16kHz
	if len(pcm) < minSamples*2 {
		return
	}
	step := 2
	if len(pcm) > 3200 {
		step = 4
	}
	var sumSquares float64
	count := 0
	for i := 0; i+1 < len(pcm); i += 2 * step {
		v := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		sumSquares += float64(v) * float64(v)
		count++
	}
	if count == 0 {
		return
	}
	if math.Sqrt(sumSquares/float64(count)) >= voiceRMS {
		s.accMu.Lock()
		s.lastVoiceTime = time.Now()
		s.accMu.Unlock()
	}
}

// RecentlyDetectedVoice reports whether non-silent voice energy was observed
// within the given window.
func (s *VoskService) RecentlyDetectedVoice(window time.Duration) bool {
	s.accMu.Lock()
	last := s.lastVoiceTime
	s.accMu.Unlock()
	return time.Since(last) <= window
}

func (s *VoskService) decodeLoop() {
	defer close(s.done)
	for {
		// Stop takes priority over buffered audio, so Close never races
		// the engine or the output channels.
		select {
		case <-s.stopCh:
			return
		default:
		}
		select {
		case <-s.stopCh:
			return
		case pcm, ok := <-s.audioData:
			if !ok {
				return
			}
			s.recMu.Lock()
			text := s.rec.AcceptWaveform(pcm)
			partial := ""
			if text == "" {
				partial = s.rec.Partial()
			}
			s.recMu.Unlock()
			if text != "" {
				s.accMu.Lock()
				s.segments = append(s.segments, text)
				s.accMu.Unlock()
				s.emitPartial(text)
				s.resetSilenceTimer()
			} else if partial != "" {
				s.emitPartial(partial)
				s.resetSilenceTimer()
			}
		}
	}
}

func (s *VoskService) emitPartial(text string) {
	select {
	case s.transcripts <- text:
	default:
	}
}

// resetSilenceTimer arms or re-arms the end-of-utterance timer. Finalization
// fires only after SILENCE_THRESHOLD without recognized speech.
func (s *VoskService) resetSilenceTimer() {
	s.accMu.Lock()
	defer s.accMu.Unlock()
	if s.silenceTimer == nil {
		s.silenceTimer = time.AfterFunc(SILENCE_THRESHOLD, s.finalizeDueToSilence)
	} else {
		_ = s.silenceTimer.Stop()
		s.silenceTimer.Reset(SILENCE_THRESHOLD)
	}
}

// finalizeDueToSilence flushes the accumulated utterance after the silence
// window elapses.
func (s *VoskService) finalizeDueToSilence() {
	// recMu is held for the whole flush-and-send so a concurrent Close
	// cannot free the engine or close finalizeCh mid-finalization.
	s.recMu.Lock()
	defer s.recMu.Unlock()
	select {
	case <-s.stopCh:
		return
	default:
	}
	tail := s.rec.Flush()
	s.accMu.Lock()
	parts := s.segments
	s.segments = nil
	s.accMu.Unlock()
	if tail != "" {
		parts = append(parts, tail)
	}
	utterance := strings.TrimSpace(strings.Join(parts, " "))
	if utterance == "" {
		return
	}
	select {
	case s.finalizeCh <- utterance:
	default:
		log.Println("Finalize buffer full, dropping utterance")
	}
}

// Close stops decoding and releases the model.
func (s *VoskService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	close(s.stopCh)
	<-s.done // decodeLoop has stopped touching the engine and channels
	s.accMu.Lock()
	if s.silenceTimer != nil {
		_ = s.silenceTimer.Stop()
		s.silenceTimer = nil
	}
	s.accMu.Unlock()
	s.connected = false
	// An already-fired silence timer serializes here: it either completed
	// its flush before we take recMu, or it sees stopCh closed and bails.
	s.recMu.Lock()
	s.rec.Close()
	close(s.transcripts)
	close(s.finalizeCh)
	s.recMu.Unlock()
	log.Println("Transcript service closed")
	return nil
}
