package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"percepto-server-go/internal/app/services"
	"percepto-server-go/internal/domain/describe"
	domainimage "percepto-server-go/internal/domain/image"
	"percepto-server-go/internal/domain/speech"
	platformconfig "percepto-server-go/internal/platform/config"
	platformerrors "percepto-server-go/internal/platform/errors"
	httptransport "percepto-server-go/internal/transport/http"
	httpvision "percepto-server-go/internal/transport/http/vision"
	"percepto-server-go/internal/utils"
)

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	config      *platformconfig.Config
	configPath  string
	logger      *utils.Logger
	describer   *describe.Chain
	speech      *speech.Chain
	narrator    *services.Narrator
	uploadCheck *domainimage.Validator
}

// Options controls where bootstrap looks for configuration.
type Options struct {
	ConfigPath string
}

// Run starts the whole service lifecycle: configuration, logging, the
// narration pipeline, and the HTTP server with graceful shutdown.
func Run(ctx context.Context, opts Options) error {
	state := &appState{configPath: opts.ConfigPath}

	if err := executeInitSteps(ctx, InitGraph(), state); err != nil {
		return err
	}

	config := state.config
	logger := state.logger
	if config == nil || logger == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"bootstrap state validation",
			"config/logger not initialised",
		)
	}

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)

	if _, err := startHTTPServer(state, group, groupCtx); err != nil {
		cancel()
		return err
	}

	if err := waitForShutdown(signalCtx, cancel, logger, group); err != nil {
		return err
	}

	logger.InfoTag("Boot", "service stopped cleanly")
	logger.Close()
	return nil
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil bootstrap state",
		)
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(
				platformerrors.KindBootstrap,
				step.ID,
				"missing execute function",
			)
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}

			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

// InitGraph describes the ordered initialisation steps and their
// dependencies.
func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init",
			Title:     "Initialise logger",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initLoggingStep,
		},
		{
			ID:        "vision:init-models",
			Title:     "Initialise description models",
			DependsOn: []string{"logging:init"},
			Kind:      platformerrors.KindVision,
			Execute:   initDescribeStep,
		},
		{
			ID:        "speech:init-backends",
			Title:     "Initialise speech backends",
			DependsOn: []string{"logging:init"},
			Kind:      platformerrors.KindSpeech,
			Execute:   initSpeechStep,
		},
		{
			ID:        "pipeline:init-narrator",
			Title:     "Initialise narration pipeline",
			DependsOn: []string{"vision:init-models", "speech:init-backends"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initNarratorStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	loader := platformconfig.NewLoader(state.configPath)
	result, err := loader.Load()
	if err != nil {
		return err
	}

	state.config = result.Config
	state.configPath = result.Path
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	if state.config == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"logging:init",
			"config not loaded",
		)
	}

	logger, err := utils.NewLogger(&utils.LogCfg{
		LogLevel: state.config.Log.Level,
		LogDir:   state.config.Log.Dir,
		LogFile:  state.config.Log.File,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "logging:init", "failed to initialise logger", err)
	}

	state.logger = logger
	utils.DefaultLogger = logger

	source := state.configPath
	if source == "" {
		source = "defaults"
	}
	logger.InfoTag("Boot", "logging ready [%s] config=%s", state.config.Log.Level, source)
	return nil
}

func initDescribeStep(_ context.Context, state *appState) error {
	if state.config == nil || state.logger == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"vision:init-models",
			"missing config/logger",
		)
	}

	models, err := describe.NewOpenAIModels(state.config.Vision, state.logger)
	if err != nil {
		return err
	}

	state.describer = describe.NewChain(models, state.config.Vision.Timeout.Std(), state.logger)
	state.logger.InfoTag("Boot", "%d description models configured", len(models))
	return nil
}

func initSpeechStep(_ context.Context, state *appState) error {
	if state.config == nil || state.logger == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"speech:init-backends",
			"missing config/logger",
		)
	}

	cfg := state.config.Speech
	backends := []speech.Synthesizer{
		speech.NewEdgeSynthesizer(cfg.Voice, state.logger),
		speech.NewEspeakSynthesizer(cfg.EspeakBinary, cfg.EspeakRate, cfg.EspeakVolume, cfg.TempDir, state.logger),
	}

	state.speech = speech.NewChain(backends, state.logger)
	state.logger.InfoTag("Boot", "speech backends: %v", state.speech.Backends())
	return nil
}

func initNarratorStep(_ context.Context, state *appState) error {
	if state.config == nil || state.logger == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"pipeline:init-narrator",
			"missing config/logger",
		)
	}

	state.uploadCheck = domainimage.NewValidator(&state.config.Upload, state.logger)
	reducer := domainimage.NewReducer(state.logger)

	state.narrator = services.NewNarrator(
		state.uploadCheck,
		reducer,
		state.describer,
		state.speech,
		state.logger,
	)
	return nil
}

func startHTTPServer(
	state *appState,
	g *errgroup.Group,
	groupCtx context.Context,
) (*http.Server, error) {
	config := state.config
	logger := state.logger

	httpRouter, err := httptransport.Build(httptransport.Options{
		Config: config,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	visionService, err := httpvision.NewService(
		config,
		logger,
		state.uploadCheck,
		state.narrator,
		state.describer.Models(),
		state.speech.Backends(),
	)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindVision, "vision:new-service", "failed to create vision service", err)
	}

	if err := visionService.Register(groupCtx, httpRouter.API); err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindTransport, "vision:register", "failed to register vision routes", err)
	}

	httpServer := &http.Server{
		Addr:    config.Server.IP + ":" + strconv.Itoa(config.Server.Port),
		Handler: httpRouter.Engine,
	}

	g.Go(func() error {
		logger.InfoTag("HTTP", "server listening on http://%s", httpServer.Addr)

		go func() {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.ErrorTag("HTTP", "server shutdown failed: %v", err)
			} else {
				logger.InfoTag("HTTP", "server shut down gracefully")
			}
		}()

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorTag("HTTP", "server failed: %v", err)
			return err
		}
		return nil
	})

	return httpServer, nil
}

func waitForShutdown(
	ctx context.Context,
	cancel context.CancelFunc,
	logger *utils.Logger,
	g *errgroup.Group,
) error {
	<-ctx.Done()
	logger.InfoTag("Boot", "shutdown signal received, cleaning up")

	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag("Boot", "error during shutdown: %v", err)
			return err
		}
		logger.InfoTag("Boot", "all services stopped")
	case <-time.After(15 * time.Second):
		timeoutErr := errors.New("shutdown timed out")
		logger.ErrorTag("Boot", "shutdown timed out, forcing exit")
		return timeoutErr
	}
	return nil
}
