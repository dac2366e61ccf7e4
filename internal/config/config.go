package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	// Speech recognition
	VoskModelPath string
	SampleRate    int

	// Retrieval
	KnowledgePath      string
	EmbeddingModelPath string
	TokenizerPath      string
	RetrievalTopK      int

	// LLM backend
	LLMBackend  string // "ollama" or "openai"
	OllamaURL   string
	OllamaModel string
	OpenAIKey   string
	LLMCtxSize  int
	Temperature float64

	// Speech synthesis
	TTSModelPath  string
	TTSVoicesPath string
	TTSTokensPath string
	TTSDataDir    string
	TTSSpeakerID  int
	TTSSpeed      float64

	// Conversation log
	HistoryPath string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("Warning: %s=%q is not an integer, using %d", key, v, def)
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Printf("Warning: %s=%q is not a number, using %g", key, v, def)
	}
	return def
}

// Load reads environment variables and returns Config with sane defaults.
// Model and data paths default to fixed relative locations (models/, data/).
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment and defaults")
	}

	cfg := Config{
		VoskModelPath: getenv("VOSK_MODEL_PATH", "models/vosk-model-en-in-0.5"),
		SampleRate:    getenvInt("AUDIO_SAMPLE_RATE", 16000),

		KnowledgePath:      getenv("KNOWLEDGE_PATH", "data/syllabus.txt"),
		EmbeddingModelPath: getenv("EMBEDDING_MODEL_PATH", "models/all-MiniLM-L6-v2.onnx"),
		TokenizerPath:      getenv("TOKENIZER_PATH", "models/tokenizer.json"),
		RetrievalTopK:      getenvInt("RETRIEVAL_TOP_K", 2),

		LLMBackend:  getenv("LLM_BACKEND", "ollama"),
		OllamaURL:   getenv("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel: getenv("OLLAMA_MODEL", "qwen2.5:0.5b"),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		LLMCtxSize:  getenvInt("LLM_CTX_SIZE", 1024),
		Temperature: getenvFloat("LLM_TEMPERATURE", 0.7),

		TTSModelPath:  getenv("TTS_MODEL_PATH", "models/kokoro-v0_19.onnx"),
		TTSVoicesPath: getenv("TTS_VOICES_PATH", "models/voices.bin"),
		TTSTokensPath: getenv("TTS_TOKENS_PATH", "models/tokens.txt"),
		TTSDataDir:    getenv("TTS_DATA_DIR", "models/espeak-ng-data"),
		TTSSpeakerID:  getenvInt("TTS_SPEAKER_ID", 0),
		TTSSpeed:      getenvFloat("TTS_SPEED", 1.1),

		HistoryPath: getenv("HISTORY_PATH", "data/history.log"),
	}

	if cfg.LLMBackend != "ollama" && cfg.LLMBackend != "openai" {
		log.Printf("Warning: unknown LLM_BACKEND %q, falling back to ollama", cfg.LLMBackend)
		cfg.LLMBackend = "ollama"
	}

	log.Printf("config: vosk=%s knowledge=%s llm=%s/%s tts=%s",
		cfg.VoskModelPath, cfg.KnowledgePath, cfg.LLMBackend, cfg.OllamaModel, cfg.TTSModelPath)
	return cfg
}
