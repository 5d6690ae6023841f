package transcribe

import (
	"context"
	"io"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIConfig selects an OpenAI-compatible transcription endpoint.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAIBackend transcribes through the audio transcriptions API.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

// NewOpenAIBackend creates an OpenAIBackend.
func NewOpenAIBackend(cfg OpenAIConfig) *OpenAIBackend {
	opts := []option.RequestOption{}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	model := cfg.Model
	if model == "" {
		model = string(openai.AudioModelWhisper1)
	}

	cl := openai.NewClient(opts...)
	return &OpenAIBackend{client: &cl, model: model}
}

func (b *OpenAIBackend) Transcribe(ctx context.Context, audio io.Reader, filename, contentType, lang string) (string, error) {
	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(audio, filename, contentType),
		Model: openai.AudioModel(b.model),
	}
	if lang != "" {
		params.Language = openai.String(lang)
	}

	res, err := b.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", err
	}
	return res.Text, nil
}
