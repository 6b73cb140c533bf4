// Package core defines the collaborator interfaces and request-scoped values of the TTS handler.
package core

import (
	"context"
	"io"
	"time"
)

// OutputFormatMP3 is the only audio format requested from the synthesizer.
const OutputFormatMP3 = "mp3"

// SynthesisRequest holds the parameters for a single speech synthesis call.
type SynthesisRequest struct {
	Text         string
	Voice        string
	OutputFormat string
}

// Synthesizer defines the interface for a text-to-speech provider.
// The caller owns the returned stream and must close it.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (io.ReadCloser, error)
}

// ArtifactStore defines the interface for the object store that keeps generated audio.
type ArtifactStore interface {
	UploadFile(ctx context.Context, localPath, key string) error
	PresignGetURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Notifier announces artifacts that were stored successfully.
type Notifier interface {
	AudioCreated(ctx context.Context, key string) error
}

// StoredArtifact identifies an uploaded audio file.
type StoredArtifact struct {
	Bucket string
	Key    string
}

// AccessURL is a time-limited reference to a StoredArtifact.
type AccessURL struct {
	URL       string
	ExpiresAt time.Time
}
