package describe

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/sashabaranov/go-openai"

	domainimage "percepto-server-go/internal/domain/image"
	"percepto-server-go/internal/platform/config"
	platformerrors "percepto-server-go/internal/platform/errors"
	"percepto-server-go/internal/utils"
)

// OpenAIModel talks to one model identifier behind an OpenAI-compatible
// vision endpoint.
type OpenAIModel struct {
	name      string
	client    *openai.Client
	maxTokens int
	logger    *utils.Logger
}

// NewOpenAIModels builds one Model per configured identifier, sharing a
// single client. Credentials are injected from startup configuration, never
// read ad hoc.
func NewOpenAIModels(cfg config.VisionConfig, logger *utils.Logger) ([]Model, error) {
	if cfg.APIKey == "" {
		return nil, platformerrors.New(platformerrors.KindConfig, "describe.init", "vision API key is required")
	}
	if len(cfg.Models) == 0 {
		return nil, platformerrors.New(platformerrors.KindConfig, "describe.init", "vision model list is empty")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	client := openai.NewClientWithConfig(clientConfig)

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1000
	}

	models := make([]Model, 0, len(cfg.Models))
	for _, name := range cfg.Models {
		models = append(models, &OpenAIModel{
			name:      name,
			client:    client,
			maxTokens: maxTokens,
			logger:    logger,
		})
	}
	return models, nil
}

// Name reports the remote model identifier.
func (m *OpenAIModel) Name() string {
	return m.name
}

// Describe issues a single non-streaming vision request carrying the image
// as a base64 data URL plus the instructional prompt.
func (m *OpenAIModel) Describe(ctx context.Context, payload *domainimage.Encoded, prompt string) (string, error) {
	dataURL := fmt.Sprintf(
		"data:image/%s;base64,%s",
		payload.Format,
		base64.StdEncoding.EncodeToString(payload.Bytes),
	)

	m.logger.DebugTag("Vision",
		"invoke model %s: image_bytes=%d prompt_length=%d", m.name, len(payload.Bytes), len(prompt))

	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     m.name,
		MaxTokens: m.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: prompt,
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL: dataURL,
						},
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("vision completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("vision completion: empty choices")
	}

	return resp.Choices[0].Message.Content, nil
}
