// Package speech provides an Amazon Polly implementation of the core.Synthesizer interface.
package speech

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/book-expert/tts-lambda/internal/core"
)

var (
	// ErrTextEmpty indicates that there is nothing to synthesize.
	ErrTextEmpty = errors.New("text cannot be empty")
	// ErrVoiceEmpty indicates that no voice was requested.
	ErrVoiceEmpty = errors.New("voice cannot be empty")
	// ErrUnsupportedFormat indicates an output format Polly does not produce.
	ErrUnsupportedFormat = errors.New("unsupported output format")
	// ErrEmptyAudioStream indicates that Polly answered without audio.
	ErrEmptyAudioStream = errors.New("received empty audio stream")
)

// API is the subset of the Polly client used by PollySynthesizer.
type API interface {
	SynthesizeSpeech(
		ctx context.Context,
		params *polly.SynthesizeSpeechInput,
		optFns ...func(*polly.Options),
	) (*polly.SynthesizeSpeechOutput, error)
}

// PollySynthesizer implements core.Synthesizer with Amazon Polly.
type PollySynthesizer struct {
	client API
}

// NewPollySynthesizer creates a new PollySynthesizer around an existing client.
func NewPollySynthesizer(client API) *PollySynthesizer {
	return &PollySynthesizer{client: client}
}

// Synthesize converts text to speech and returns the audio stream.
func (p *PollySynthesizer) Synthesize(ctx context.Context, req core.SynthesisRequest) (io.ReadCloser, error) {
	if req.Text == "" {
		return nil, ErrTextEmpty
	}

	if req.Voice == "" {
		return nil, ErrVoiceEmpty
	}

	format, err := outputFormat(req.OutputFormat)
	if err != nil {
		return nil, err
	}

	out, err := p.client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Text:         aws.String(req.Text),
		OutputFormat: format,
		VoiceId:      types.VoiceId(req.Voice),
	})
	if err != nil {
		return nil, fmt.Errorf("polly synthesize speech with voice '%s': %w", req.Voice, err)
	}

	if out.AudioStream == nil {
		return nil, ErrEmptyAudioStream
	}

	return out.AudioStream, nil
}

func outputFormat(format string) (types.OutputFormat, error) {
	switch format {
	case "", core.OutputFormatMP3:
		return types.OutputFormatMp3, nil
	case string(types.OutputFormatOggVorbis):
		return types.OutputFormatOggVorbis, nil
	case string(types.OutputFormatPcm):
		return types.OutputFormatPcm, nil
	default:
		return "", fmt.Errorf("%w: '%s'", ErrUnsupportedFormat, format)
	}
}
