package config

import (
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string

	DeepgramAPIKey   string
	DeepgramSTTModel string
	DeepgramTTSModel string

	ElevenLabsKey     string
	ElevenLabsVoiceID string

	// TTSProvider selects the synthesis backend: "deepgram" or "elevenlabs".
	TTSProvider string

	InterventionEndpoint string
	SemanticHelpEndpoint string
}

// Load reads environment variables and returns Config with sane defaults.
// Missing provider keys disable the affected modality gracefully, so they
// warn rather than fail.
func Load(log *zap.Logger) Config {
	if log == nil {
		log = zap.NewNop()
	}
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file loaded", zap.Error(err))
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	if deepgramKey == "" {
		log.Warn("DEEPGRAM_API_KEY not set, speech recognition will be disabled")
	}
	sttModel := os.Getenv("DEEPGRAM_STT_MODEL")
	if sttModel == "" {
		sttModel = "nova-2"
	}
	ttsModel := os.Getenv("DEEPGRAM_TTS_MODEL")
	if ttsModel == "" {
		ttsModel = "aura-2-thalia-en"
	}

	elevenKey := os.Getenv("ELEVENLABS_API_KEY")
	voiceID := os.Getenv("ELEVENLABS_VOICE_ID")

	ttsProvider := os.Getenv("TTS_PROVIDER")
	if ttsProvider == "" {
		ttsProvider = "deepgram"
	}
	if ttsProvider == "elevenlabs" && elevenKey == "" {
		log.Warn("TTS_PROVIDER=elevenlabs but ELEVENLABS_API_KEY not set, speech synthesis will be disabled")
	}

	interventionEndpoint := os.Getenv("INTERVENTION_ENDPOINT")
	if interventionEndpoint == "" {
		log.Warn("INTERVENTION_ENDPOINT not set, AI coaching interventions will be disabled")
	}
	semanticEndpoint := os.Getenv("SEMANTIC_HELP_ENDPOINT")
	if semanticEndpoint == "" {
		log.Info("SEMANTIC_HELP_ENDPOINT not set, help detection uses keywords only")
	}

	log.Info("config loaded",
		zap.String("httpAddress", addr),
		zap.String("ttsProvider", ttsProvider))

	return Config{
		HTTPAddress:          addr,
		DeepgramAPIKey:       deepgramKey,
		DeepgramSTTModel:     sttModel,
		DeepgramTTSModel:     ttsModel,
		ElevenLabsKey:        elevenKey,
		ElevenLabsVoiceID:    voiceID,
		TTSProvider:          ttsProvider,
		InterventionEndpoint: interventionEndpoint,
		SemanticHelpEndpoint: semanticEndpoint,
	}
}
