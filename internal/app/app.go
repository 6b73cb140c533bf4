// Package app wires configuration, AWS clients and the request handler together.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/book-expert/logger"
	"github.com/book-expert/tts-lambda/internal/config"
	"github.com/book-expert/tts-lambda/internal/core"
	"github.com/book-expert/tts-lambda/internal/handler"
	"github.com/book-expert/tts-lambda/internal/notify"
	"github.com/book-expert/tts-lambda/internal/speech"
	"github.com/book-expert/tts-lambda/internal/storage"
)

const bootstrapLogFile = "tts-lambda-bootstrap.log"

// App owns the process-wide state shared by every invocation.
type App struct {
	Config  *config.Config
	Handler *handler.Handler
	Log     *logger.Logger
	closers []func() error
}

// SetupLogger creates a logger writing to logPath.
func SetupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

// New loads the configuration and builds the handler with real AWS clients.
func New(ctx context.Context, logFileName string) (*App, error) {
	bootstrapLog, err := SetupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		return nil, err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)
		_ = bootstrapLog.Close()

		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := SetupLogger(cfg.Paths.BaseLogsDir, logFileName)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)
		_ = bootstrapLog.Close()

		return nil, err
	}

	_ = bootstrapLog.Close()

	awsCfg, err := loadAWSConfig(ctx, cfg.Storage.Region)
	if err != nil {
		_ = log.Close()

		return nil, err
	}

	app := &App{Config: cfg, Log: log}

	notifier, err := app.notifier()
	if err != nil {
		_ = log.Close()

		return nil, err
	}

	store, err := storage.New(s3.NewFromConfig(awsCfg), cfg.Storage.Bucket)
	if err != nil {
		_ = app.Close()

		return nil, fmt.Errorf("failed to create artifact store: %w", err)
	}

	app.Handler, err = handler.New(handler.Dependencies{
		Synthesizer: speech.NewPollySynthesizer(polly.NewFromConfig(awsCfg)),
		Store:       store,
		Notifier:    notifier,
		Log:         log,
	}, Options(cfg))
	if err != nil {
		_ = app.Close()

		return nil, fmt.Errorf("failed to create handler: %w", err)
	}

	log.System("TTS handler initialized. Bucket: %s, voice: %s", cfg.Storage.Bucket, cfg.TTS.Voice)

	return app, nil
}

// Options translates the configuration into handler options.
func Options(cfg *config.Config) handler.Options {
	return handler.Options{
		Bucket:        cfg.Storage.Bucket,
		Voice:         cfg.TTS.Voice,
		URLExpiry:     cfg.URLExpiry(),
		StagingDir:    cfg.Paths.StagingDir,
		MaxTextLength: cfg.TTS.MaxTextLength,
	}
}

// Close releases the notifier connection and the logger.
func (a *App) Close() error {
	var firstErr error

	for i := len(a.closers) - 1; i >= 0; i-- {
		err := a.closers[i]()
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	err := a.Log.Close()
	if err != nil && firstErr == nil {
		firstErr = err
	}

	return firstErr
}

func (a *App) notifier() (core.Notifier, error) {
	if a.Config.NATS.URL == "" {
		return notify.Nop{}, nil
	}

	natsNotifier, err := notify.Connect(a.Config.NATS.URL, a.Config.NATS.AudioCreatedSubject)
	if err != nil {
		return nil, fmt.Errorf("failed to create notifier: %w", err)
	}

	a.closers = append(a.closers, natsNotifier.Close)
	a.Log.Info("Publishing audio created events on subject: %s", a.Config.NATS.AudioCreatedSubject)

	return natsNotifier, nil
}

func loadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	return awsCfg, nil
}
