package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chadiek/voiceassist/internal/agent"
	"github.com/chadiek/voiceassist/internal/audio"
	"github.com/chadiek/voiceassist/internal/barge"
	"github.com/chadiek/voiceassist/internal/config"
	"github.com/chadiek/voiceassist/internal/history"
	"github.com/chadiek/voiceassist/internal/llm"
	"github.com/chadiek/voiceassist/internal/retrieval"
	"github.com/chadiek/voiceassist/internal/transcript"
	"github.com/chadiek/voiceassist/internal/tts"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	cfg := config.Load()

	if err := audio.Initialize(); err != nil {
		log.Fatalf("audio init failed: %v", err)
	}
	defer audio.Terminate()

	stt, err := transcript.NewVoskService(cfg.VoskModelPath, cfg.SampleRate)
	if err != nil {
		log.Fatalf("speech recognition init failed: %v", err)
	}

	retriever := buildRetriever(cfg)

	var llmClient agent.LLM
	switch cfg.LLMBackend {
	case "openai":
		llmClient = llm.NewOpenAIClient(cfg.OpenAIKey, cfg.OllamaURL, cfg.OllamaModel)
	default:
		c := llm.NewOllamaClient(cfg.OllamaURL, cfg.OllamaModel)
		c.Temperature = cfg.Temperature
		c.NumCtx = cfg.LLMCtxSize
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if !c.IsAvailable(ctx) {
			log.Printf("Warning: Ollama not reachable at %s, responses will fail until it is up", cfg.OllamaURL)
		}
		cancel()
		llmClient = c
	}

	speech, err := tts.NewKokoroClient(tts.Config{
		ModelPath:  cfg.TTSModelPath,
		VoicesPath: cfg.TTSVoicesPath,
		TokensPath: cfg.TTSTokensPath,
		DataDir:    cfg.TTSDataDir,
		SpeakerID:  cfg.TTSSpeakerID,
		Speed:      cfg.TTSSpeed,
	})
	if err != nil {
		log.Fatalf("speech synthesis init failed: %v", err)
	}
	defer speech.Close()

	player, err := audio.NewPlayer(speech.SampleRate())
	if err != nil {
		log.Fatalf("audio output init failed: %v", err)
	}
	defer player.Close()

	hist, err := history.Open(cfg.HistoryPath)
	if err != nil {
		log.Fatalf("history log init failed: %v", err)
	}
	defer hist.Close()

	var session *agent.Session
	engine := barge.NewEngine(barge.DefaultConfig(), barge.Events{
		OnTTSStop: player.Reset,
		OnTrigger: func() { session.BargeIn() },
	})

	session = agent.NewSession(stt, retriever, llmClient, speech, player, agent.Hooks{
		OnTranscript: engine.NotifyPartial,
		OnReplyText:  engine.NotifyTTSText,
		OnSpeaking:   engine.SetSpeaking,
		OnTurn: func(user, assistant string) {
			if err := hist.Append(user, assistant); err != nil {
				log.Printf("history append failed: %v", err)
			}
		},
	})

	mic, err := audio.NewMic(cfg.SampleRate)
	if err != nil {
		log.Fatalf("microphone init failed: %v", err)
	}
	defer mic.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := session.Start(ctx); err != nil {
			log.Printf("session error: %v", err)
		}
	}()

	err = mic.Start(func(pcm []byte) {
		if err := session.SendPCM16KLE(pcm); err != nil {
			log.Printf("transcriber write failed: %v", err)
		}
		engine.FeedMic(pcm)
	})
	if err != nil {
		log.Fatalf("microphone start failed: %v", err)
	}

	log.Println("Assistant ready. Speak into the microphone; speak over a reply to interrupt it.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutting down")

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		log.Println("session did not shut down cleanly")
	}
}

// buildRetriever loads the embedding model and indexes the knowledge file.
// Both are optional: without them the assistant still answers, just without
// corpus context.
func buildRetriever(cfg config.Config) agent.Retriever {
	embedder, err := retrieval.NewMiniLMEmbedder(cfg.EmbeddingModelPath, cfg.TokenizerPath)
	if err != nil {
		log.Printf("Warning: embedding model unavailable, retrieval disabled: %v", err)
		return nil
	}
	index, err := retrieval.BuildIndex(embedder, cfg.KnowledgePath, cfg.RetrievalTopK)
	if err != nil {
		log.Printf("Warning: indexing failed, retrieval disabled: %v", err)
		embedder.Close()
		return nil
	}
	if index.Len() == 0 {
		log.Println("Knowledge corpus is empty, answering without retrieved context")
	}
	return index
}
