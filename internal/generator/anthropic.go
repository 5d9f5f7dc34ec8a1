package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ai-agency/agency/internal/models"
)

const defaultMaxTokens = 1024

// Per million tokens, used for the cost estimate stored on each request.
const (
	inputCostPerMTok  = 0.80
	outputCostPerMTok = 4.00
)

var systemPrompts = map[string]string{
	"general":   "You are a helpful assistant for a digital services agency. Answer clearly and briefly.",
	"technical": "You are a senior software engineer. Give precise, practical technical answers.",
	"business":  "You are a business consultant. Give structured, actionable advice.",
}

// Anthropic answers chat requests with a hosted Claude model.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

func NewAnthropic(apiKey, model string, maxTokens int64, opts ...option.RequestOption) *Anthropic {
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
	}
}

func (a *Anthropic) Generate(ctx context.Context, req *models.AIRequest) (*Result, error) {
	var in ChatInput
	if err := decodeInput(req, &in); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.Message) == "" {
		return nil, fmt.Errorf("%w: message is required", ErrInvalidInput)
	}

	system, ok := systemPrompts[in.Type]
	if !ok {
		system = systemPrompts["general"]
	}
	prompt := in.Message
	if in.Context != "" {
		prompt = "Context:\n" + in.Context + "\n\n" + in.Message
	}

	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: a.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	in64, out64 := resp.Usage.InputTokens, resp.Usage.OutputTokens
	return &Result{
		Output: ChatOutput{
			Message:       text.String(),
			Type:          "text",
			Confidence:    1,
			Suggestions:   []string{},
			RelatedTopics: []string{},
		},
		Usage: models.Usage{
			TokensUsed:   int(in64 + out64),
			CostEstimate: (float64(in64)*inputCostPerMTok + float64(out64)*outputCostPerMTok) / 1e6,
			ModelUsed:    a.model,
			APICalls:     1,
		},
	}, nil
}
