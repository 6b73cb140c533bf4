// Package handler implements the text-to-speech request handler: it normalizes
// a trigger event, synthesizes the text, stages and uploads the audio, and
// answers with a presigned download URL.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/book-expert/logger"
	"github.com/book-expert/tts-lambda/internal/config"
	"github.com/book-expert/tts-lambda/internal/core"
	"github.com/book-expert/tts-lambda/internal/notify"
	"github.com/google/uuid"
)

const (
	audioExtension      = ".mp3"
	stagedFilePerms     = 0o600
	unknownRequestID    = "-"
	logFmtReceived      = "Received event (request %s): %s"
	logFmtNoText        = "No text provided (request %s)"
	logFmtTextTooLong   = "Text of %d characters exceeds limit of %d (request %s)"
	logFmtURLGenerated  = "Pre-signed URL generated for %s/%s: %s"
	logFmtFailure       = "Error generating speech (request %s, kind %s): %v"
	logFmtOrphan        = "Artifact %s/%s was uploaded but has no access URL (request %s)"
	logFmtRemoveStaged  = "Failed to remove staged file '%s': %v"
	logFmtNotifyFailure = "Failed to publish audio created event for %s: %v"
)

var (
	// ErrSynthesizerNil indicates a handler built without a synthesizer.
	ErrSynthesizerNil = errors.New("synthesizer cannot be nil")
	// ErrStoreNil indicates a handler built without an artifact store.
	ErrStoreNil = errors.New("artifact store cannot be nil")
	// ErrLoggerNil indicates a handler built without a logger.
	ErrLoggerNil = errors.New("logger cannot be nil")
	// ErrMaxTextLengthNegative indicates a negative text limit.
	ErrMaxTextLengthNegative = errors.New("max text length must be non-negative")
)

// Dependencies are the process-wide collaborators shared by every invocation.
type Dependencies struct {
	Synthesizer core.Synthesizer
	Store       core.ArtifactStore
	// Notifier is optional; nil disables completion events.
	Notifier core.Notifier
	Log      *logger.Logger
}

// Options tune a Handler. Zero values fall back to the defaults of the config package.
type Options struct {
	Bucket        string
	Voice         string
	URLExpiry     time.Duration
	StagingDir    string
	MaxTextLength int
}

// Handler serves text-to-speech requests. It holds no per-request state and
// is safe for concurrent use.
type Handler struct {
	synthesizer core.Synthesizer
	store       core.ArtifactStore
	notifier    core.Notifier
	log         *logger.Logger
	opts        Options
}

// New creates a Handler.
func New(deps Dependencies, opts Options) (*Handler, error) {
	if deps.Synthesizer == nil {
		return nil, ErrSynthesizerNil
	}

	if deps.Store == nil {
		return nil, ErrStoreNil
	}

	if deps.Log == nil {
		return nil, ErrLoggerNil
	}

	if opts.MaxTextLength < 0 {
		return nil, fmt.Errorf("%w: got %d", ErrMaxTextLengthNegative, opts.MaxTextLength)
	}

	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}

	if opts.Voice == "" {
		opts.Voice = config.DefaultVoice
	}

	if opts.URLExpiry <= 0 {
		opts.URLExpiry = config.DefaultURLExpirySeconds * time.Second
	}

	if opts.StagingDir == "" {
		opts.StagingDir = os.TempDir()
	}

	return &Handler{
		synthesizer: deps.Synthesizer,
		store:       deps.Store,
		notifier:    notifier,
		log:         deps.Log,
		opts:        opts,
	}, nil
}

// Handle serves one trigger event. Every outcome, including failures, is
// returned as a response; the error result is always nil so the runtime
// never retries or replaces the response.
func (h *Handler) Handle(ctx context.Context, raw json.RawMessage) (events.APIGatewayProxyResponse, error) {
	requestID := requestIDFrom(ctx)
	h.log.Info(logFmtReceived, requestID, string(raw))

	req, err := Normalize(raw)
	if err != nil {
		return h.fail(requestID, err), nil
	}

	if req.Preflight {
		return preflightResponse(), nil
	}

	err = h.validate(requestID, req)
	if err != nil {
		return errorResponse(err), nil
	}

	url, err := h.generate(ctx, requestID, req.Text)
	if err != nil {
		return h.fail(requestID, err), nil
	}

	return successResponse(url), nil
}

func (h *Handler) validate(requestID string, req Request) error {
	if req.Text == "" {
		h.log.Error(logFmtNoText, requestID)

		return clientError(ErrNoText)
	}

	if h.opts.MaxTextLength > 0 {
		length := utf8.RuneCountInString(req.Text)
		if length > h.opts.MaxTextLength {
			h.log.Error(logFmtTextTooLong, length, h.opts.MaxTextLength, requestID)

			return textTooLong(h.opts.MaxTextLength)
		}
	}

	return nil
}

// generate runs synthesis, staging, upload and presigning in order and returns the URL.
func (h *Handler) generate(ctx context.Context, requestID, text string) (string, error) {
	artifact := core.StoredArtifact{
		Bucket: h.opts.Bucket,
		Key:    uuid.NewString() + audioExtension,
	}

	stream, err := h.synthesizer.Synthesize(ctx, core.SynthesisRequest{
		Text:         text,
		Voice:        h.opts.Voice,
		OutputFormat: core.OutputFormatMP3,
	})
	if err != nil {
		return "", upstreamFailure("failed to synthesize speech: %w", err)
	}

	stagedPath := filepath.Join(h.opts.StagingDir, artifact.Key)
	defer h.removeStaged(stagedPath)

	err = stageAudio(stream, stagedPath)
	if err != nil {
		return "", err
	}

	err = h.store.UploadFile(ctx, stagedPath, artifact.Key)
	if err != nil {
		return "", upstreamFailure("failed to upload audio: %w", err)
	}

	access, err := h.presign(ctx, artifact)
	if err != nil {
		h.log.Error(logFmtOrphan, artifact.Bucket, artifact.Key, requestID)

		return "", err
	}

	h.log.Info(logFmtURLGenerated, artifact.Bucket, artifact.Key, access.URL)

	err = h.notifier.AudioCreated(ctx, artifact.Key)
	if err != nil {
		h.log.Warn(logFmtNotifyFailure, artifact.Key, err)
	}

	return access.URL, nil
}

func (h *Handler) presign(ctx context.Context, artifact core.StoredArtifact) (core.AccessURL, error) {
	issuedAt := time.Now()

	url, err := h.store.PresignGetURL(ctx, artifact.Key, h.opts.URLExpiry)
	if err != nil {
		return core.AccessURL{}, upstreamFailure("failed to generate presigned url: %w", err)
	}

	return core.AccessURL{URL: url, ExpiresAt: issuedAt.Add(h.opts.URLExpiry)}, nil
}

// stageAudio drains the synthesis stream into path and closes the stream.
func stageAudio(stream io.ReadCloser, path string) (err error) {
	defer func() {
		closeErr := stream.Close()
		if err == nil && closeErr != nil {
			err = upstreamFailure("failed to close audio stream: %w", closeErr)
		}
	}()

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, stagedFilePerms) // #nosec G304 -- name is a generated uuid
	if err != nil {
		return upstreamFailure("failed to create staged file '%s': %w", path, err)
	}

	_, copyErr := io.Copy(file, stream)
	closeErr := file.Close()

	if copyErr != nil {
		return upstreamFailure("failed to write staged file '%s': %w", path, copyErr)
	}

	if closeErr != nil {
		return upstreamFailure("failed to close staged file '%s': %w", path, closeErr)
	}

	return nil
}

func (h *Handler) removeStaged(path string) {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		h.log.Warn(logFmtRemoveStaged, path, err)
	}
}

func (h *Handler) fail(requestID string, err error) events.APIGatewayProxyResponse {
	h.log.Error(logFmtFailure, requestID, KindOf(err), err)

	return errorResponse(err)
}

func requestIDFrom(ctx context.Context) string {
	lambdaCtx, ok := lambdacontext.FromContext(ctx)
	if !ok || lambdaCtx.AwsRequestID == "" {
		return unknownRequestID
	}

	return lambdaCtx.AwsRequestID
}
