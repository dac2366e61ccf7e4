package agent

import (
	"context"
	"time"
)

// Transcriber is the minimal interface for streaming offline STT.
// It must accept PCM 16kHz little-endian mono buffers and emit live and
// finalized text.
type Transcriber interface {
	Connect() error
	SendPCM16KLE(pcm []byte) error
	GetTranscripts() <-chan string
	Finalize() <-chan string
	// RecentlyDetectedVoice returns true if voice energy was seen within the given window.
	RecentlyDetectedVoice(window time.Duration) bool
	Close() error
}

// Retriever returns corpus context relevant to a query, or "" when the
// corpus is empty.
type Retriever interface {
	Retrieve(query string) (string, error)
}

// LLM is a minimal interface to generate a single response for a prompt.
type LLM interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// TTS streams PCM16LE mono audio for the given text.
type TTS interface {
	StreamPCM(ctx context.Context, text string) (<-chan []byte, <-chan error)
}

// PCMSink consumes PCM16LE bytes and performs playback. Implementations
// should buffer internally and pace delivery.
type PCMSink interface {
	WritePCM(pcm []byte)
	FlushTail()
	// Reset drops any queued frames immediately (used for barge-in).
	Reset()
}

// Hooks are optional callbacks into the host application.
type Hooks struct {
	// OnTranscript receives live partial transcripts.
	OnTranscript func(text string)
	// OnTurn is invoked after each completed turn with exactly the assistant
	// text that was actually spoken (possibly truncated if interrupted).
	OnTurn func(user, assistantSpoken string)
	// OnSpeaking signals playback starting and stopping.
	OnSpeaking func(on bool)
	// OnReplyText receives each reply chunk just before it is synthesized.
	OnReplyText func(text string)
}
