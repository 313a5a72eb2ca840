package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

type OpenAIClient struct {
	client         *openai.Client
	model          string
	embeddingModel string
	maxTokens      int
}

func NewOpenAIClient(apiKey, model, embeddingModel, baseURL string, maxTokens int) *OpenAIClient {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	client := openai.NewClientWithConfig(config)
	return &OpenAIClient{
		client:         client,
		model:          model,
		embeddingModel: embeddingModel,
		maxTokens:      maxTokens,
	}
}

func (c *OpenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		MaxTokens: c.maxTokens,
	}
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Choices) > 0 {
		return resp.Choices[0].Message.Content, nil
	}
	return "", fmt.Errorf("no response choices")
}

func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	model := openai.SmallEmbedding3
	if c.embeddingModel != "" {
		model = openai.EmbeddingModel(c.embeddingModel)
	}
	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: model,
	}
	resp, err := c.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Data) > 0 {
		return resp.Data[0].Embedding, nil
	}
	return nil, fmt.Errorf("no embedding data")
}

func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && rejectedStatus(apiErr.HTTPStatusCode) {
		return rejected(err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && rejectedStatus(reqErr.HTTPStatusCode) {
		return rejected(err)
	}
	return err
}
