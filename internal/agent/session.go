package agent

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/chadiek/voiceassist/internal/fifo"
)

const (
	llmTimeout      = 20 * time.Second
	maxHistoryMsgs  = 16 // 8 user/assistant exchanges
	quietWindow     = 500 * time.Millisecond
	maxQuietWait    = 3 * time.Second
	interruptedMark = " [INTERRUPTED]"
)

// State is the session's coarse activity state.
type State int32

const (
	StateIdle State = iota
	StateProcessing
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	default:
		return "idle"
	}
}

type convMsg struct {
	role string // "user" | "assistant"
	text string
}

// Session wires STT, retrieval, LLM and TTS into a single conversational
// loop. Finalized utterances are queued and handled one turn at a time;
// speaking again while the assistant talks interrupts playback.
type Session struct {
	transcriber Transcriber
	retriever   Retriever
	llm         LLM
	tts         TTS
	sink        PCMSink
	hooks       Hooks

	queue *fifo.Queue[string]

	mu               sync.Mutex
	state            State
	ttsCancel        context.CancelFunc
	bargeInRequested bool
	history          []convMsg

	wg sync.WaitGroup
}

// NewSession builds a session over the given components. Any hook may be nil.
func NewSession(t Transcriber, r Retriever, l LLM, tts TTS, sink PCMSink, hooks Hooks) *Session {
	if sink == nil {
		sink = nopSink{}
	}
	return &Session{
		transcriber: t,
		retriever:   r,
		llm:         l,
		tts:         tts,
		sink:        sink,
		hooks:       hooks,
		queue:       fifo.New[string](16),
	}
}

// Start connects the transcriber and runs the conversation loop until ctx is
// cancelled. It blocks; callers usually run it in a goroutine.
func (s *Session) Start(ctx context.Context) error {
	if err := s.transcriber.Connect(); err != nil {
		return err
	}
	defer s.transcriber.Close()

	s.wg.Add(2)
	go s.pumpPartials(ctx)
	go s.pumpFinals(ctx)

	for {
		utterance, err := s.queue.Pop(ctx)
		if err != nil {
			s.wg.Wait()
			return nil
		}
		s.runTurn(ctx, utterance)
	}
}

func (s *Session) pumpPartials(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case text, ok := <-s.transcriber.GetTranscripts():
			if !ok {
				return
			}
			if s.hooks.OnTranscript != nil {
				s.hooks.OnTranscript(text)
			}
		}
	}
}

func (s *Session) pumpFinals(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case text, ok := <-s.transcriber.Finalize():
			if !ok {
				return
			}
			text = strings.TrimSpace(text)
			if text == "" {
				continue
			}
			if s.queue.Push(text) {
				log.Printf("[agent] transcript queue full, dropped oldest utterance")
			}
		}
	}
}

// SendPCM16KLE forwards microphone audio to the transcriber.
func (s *Session) SendPCM16KLE(pcm []byte) error {
	return s.transcriber.SendPCM16KLE(pcm)
}

// State reports the current activity state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsSpeaking reports whether TTS playback is in progress.
func (s *Session) IsSpeaking() bool {
	return s.State() == StateSpeaking
}

// BargeIn interrupts the current turn. During playback it stops audio
// immediately; during LLM generation it marks the pending reply to be
// discarded. It is a no-op while idle.
func (s *Session) BargeIn() {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	s.bargeInRequested = true
	cancel := s.ttsCancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.sink.Reset()
	log.Printf("[agent] barge-in requested")
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) bargedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bargeInRequested
}

func isStopCommand(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.Trim(t, ".!?,")
	switch t {
	case "stop", "shut up", "be quiet", "okay stop", "ok stop":
		return true
	}
	return false
}

func (s *Session) runTurn(ctx context.Context, utterance string) {
	if isStopCommand(utterance) {
		// The VAD path normally wins the race; this catches a stop spoken
		// just as playback ends.
		s.BargeIn()
		return
	}

	s.mu.Lock()
	s.state = StateProcessing
	s.bargeInRequested = false
	s.mu.Unlock()
	defer s.setState(StateIdle)

	s.waitForQuiet(ctx)

	log.Printf("[agent] user: %q", utterance)

	ragContext := ""
	if s.retriever != nil {
		c, err := s.retriever.Retrieve(utterance)
		if err != nil {
			log.Printf("[agent] retrieval failed: %v", err)
		} else {
			ragContext = c
		}
	}

	prompt := s.buildConversationPrompt(ragContext, utterance)

	llmCtx, cancel := context.WithTimeout(ctx, llmTimeout)
	reply, err := s.llm.Generate(llmCtx, prompt)
	cancel()
	if err != nil {
		log.Printf("[agent] llm generation failed: %v", err)
		return
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return
	}

	if s.bargedIn() {
		log.Printf("[agent] interrupted during generation, discarding reply")
		return
	}

	s.appendHistory(utterance, reply)

	spoken, interrupted, failed := s.speak(ctx, reply)
	if interrupted {
		spoken += interruptedMark
	}
	if failed && spoken == "" {
		return
	}
	if s.hooks.OnTurn != nil {
		s.hooks.OnTurn(utterance, spoken)
	}
}

// waitForQuiet holds off responding while the user is still talking, so a
// quick follow-up utterance lands in the queue instead of being spoken over.
func (s *Session) waitForQuiet(ctx context.Context) {
	deadline := time.Now().Add(maxQuietWait)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return
		}
		if !s.transcriber.RecentlyDetectedVoice(quietWindow) {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func (s *Session) appendHistory(user, assistant string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history,
		convMsg{role: "user", text: user},
		convMsg{role: "assistant", text: assistant},
	)
	if len(s.history) > maxHistoryMsgs {
		s.history = s.history[len(s.history)-maxHistoryMsgs:]
	}
}

func (s *Session) buildConversationPrompt(ragContext, utterance string) string {
	s.mu.Lock()
	history := make([]convMsg, len(s.history))
	copy(history, s.history)
	s.mu.Unlock()

	var b strings.Builder
	if ragContext != "" {
		b.WriteString("Use the following context to answer when relevant:\n")
		b.WriteString(ragContext)
		b.WriteString("\n\n")
	}
	for _, m := range history {
		if m.role == "user" {
			b.WriteString("[USER] ")
		} else {
			b.WriteString("[ASSISTANT] ")
		}
		b.WriteString(m.text)
		b.WriteString("\n")
	}
	b.WriteString("[USER] ")
	b.WriteString(utterance)
	b.WriteString("\n[ASSISTANT] ")
	return b.String()
}

// speak synthesizes and plays the reply chunk by chunk, committing each
// chunk to the spoken transcript only once its audio has been fully handed
// to the sink. Returns the spoken text, whether playback was interrupted by
// the user, and whether synthesis failed.
func (s *Session) speak(ctx context.Context, reply string) (string, bool, bool) {
	ttsCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.state = StateSpeaking
	s.ttsCancel = cancel
	s.mu.Unlock()
	if s.hooks.OnSpeaking != nil {
		s.hooks.OnSpeaking(true)
	}
	defer func() {
		s.mu.Lock()
		s.ttsCancel = nil
		s.mu.Unlock()
		if s.hooks.OnSpeaking != nil {
			s.hooks.OnSpeaking(false)
		}
	}()

	var spoken strings.Builder
	interrupted := false
	failed := false

chunkLoop:
	for _, chunk := range chunkReply(reply) {
		// A barge-in raised before ttsCancel was installed leaves the
		// context intact, so the flag is checked between chunks too.
		if ttsCtx.Err() != nil || s.bargedIn() {
			interrupted = true
			break
		}
		if s.hooks.OnReplyText != nil {
			s.hooks.OnReplyText(chunk)
		}

		pcmCh, errCh := s.tts.StreamPCM(ttsCtx, chunk)
		for pcmCh != nil || errCh != nil {
			select {
			case pcm, ok := <-pcmCh:
				if !ok {
					pcmCh = nil
					continue
				}
				s.sink.WritePCM(pcm)
			case err, ok := <-errCh:
				if !ok {
					errCh = nil
					continue
				}
				if err != nil {
					log.Printf("[agent] tts failed: %v", err)
					failed = true
					break chunkLoop
				}
			case <-ttsCtx.Done():
				interrupted = true
				break chunkLoop
			}
		}

		// Cancellation can close the stream before the Done case is
		// observed; a chunk cut mid-play is never committed as spoken.
		if ttsCtx.Err() != nil {
			interrupted = true
			break
		}
		if spoken.Len() > 0 {
			spoken.WriteString(" ")
		}
		spoken.WriteString(chunk)
	}

	if !interrupted && !failed {
		s.sink.FlushTail()
	}
	return spoken.String(), interrupted, failed
}

// chunkReply splits a reply into sentence-sized pieces so playback can start
// before the whole reply is synthesized and interruption loses at most one
// sentence of committed transcript.
func chunkReply(reply string) []string {
	var chunks []string
	var cur strings.Builder
	for _, r := range reply {
		cur.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if c := strings.TrimSpace(cur.String()); c != "" {
				chunks = append(chunks, c)
			}
			cur.Reset()
		}
	}
	if c := strings.TrimSpace(cur.String()); c != "" {
		chunks = append(chunks, c)
	}
	return chunks
}

type nopSink struct{}

func (nopSink) WritePCM([]byte) {}
func (nopSink) FlushTail()      {}
func (nopSink) Reset()          {}
