package httpserver

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/beeler-devs/Mimir-sub001/internal/config"
	"github.com/beeler-devs/Mimir-sub001/internal/gateway"
	"github.com/beeler-devs/Mimir-sub001/internal/intent"
	"github.com/beeler-devs/Mimir-sub001/internal/intervention"
	"github.com/beeler-devs/Mimir-sub001/internal/listen"
	"github.com/beeler-devs/Mimir-sub001/internal/speak"
)

// Server bundles the HTTP router and the session manager behind it.
type Server struct {
	Echo    *echo.Echo
	Manager *gateway.Manager
}

// New constructs the HTTP server with the coaching gateway mounted.
func New(cfg config.Config, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	manager := gateway.NewManager(buildDeps(cfg, log))
	gateway.NewHandler(manager, log).Register(e)

	return &Server{Echo: e, Manager: manager}
}

// buildDeps maps configuration onto provider wiring. Unconfigured providers
// stay nil so the affected modality disables itself per session.
func buildDeps(cfg config.Config, log *zap.Logger) gateway.Deps {
	deps := gateway.Deps{Log: log}

	if cfg.DeepgramAPIKey != "" {
		deps.NewRecognizer = func() listen.Recognizer {
			return listen.NewDeepgramRecognizer(cfg.DeepgramAPIKey, cfg.DeepgramSTTModel, log)
		}
	}

	switch cfg.TTSProvider {
	case "elevenlabs":
		if cfg.ElevenLabsKey != "" {
			deps.NewSynthesizer = func(sink speak.Sink) speak.Synthesizer {
				return speak.NewElevenLabsSynthesizer(cfg.ElevenLabsKey, cfg.ElevenLabsVoiceID, sink, log)
			}
		}
	default:
		if cfg.DeepgramAPIKey != "" {
			deps.NewSynthesizer = func(sink speak.Sink) speak.Synthesizer {
				return speak.NewDeepgramSynthesizer(cfg.DeepgramAPIKey, cfg.DeepgramTTSModel, sink, log)
			}
		}
	}

	if cfg.InterventionEndpoint != "" {
		deps.Provider = intervention.NewHTTPProvider(cfg.InterventionEndpoint, log)
	}
	if cfg.SemanticHelpEndpoint != "" {
		deps.Scorer = intent.NewHTTPScorer(cfg.SemanticHelpEndpoint, log)
	}
	return deps
}
