// Package generator produces the output of AI requests. The template
// generators return canned but input-aware answers; the Anthropic generator
// calls a hosted model.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ai-agency/agency/internal/models"
)

var (
	ErrInvalidInput = errors.New("invalid generator input")
	ErrUnsupported  = errors.New("no generator for request type")
)

// Result is what a generator produced for one request.
type Result struct {
	Output any
	Usage  models.Usage
}

type Generator interface {
	Generate(ctx context.Context, req *models.AIRequest) (*Result, error)
}

// Func adapts a function to Generator.
type Func func(ctx context.Context, req *models.AIRequest) (*Result, error)

func (f Func) Generate(ctx context.Context, req *models.AIRequest) (*Result, error) {
	return f(ctx, req)
}

// Registry dispatches requests to the generator registered for their type.
type Registry struct {
	generators map[models.RequestType]Generator
}

func NewRegistry() *Registry {
	return &Registry{generators: make(map[models.RequestType]Generator)}
}

func (r *Registry) Register(t models.RequestType, g Generator) {
	r.generators[t] = g
}

func (r *Registry) Supports(t models.RequestType) bool {
	_, ok := r.generators[t]
	return ok
}

func (r *Registry) Generate(ctx context.Context, req *models.AIRequest) (*Result, error) {
	g, ok := r.generators[req.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, req.Type)
	}
	return g.Generate(ctx, req)
}

// Inputs accepted by the built-in generators.
type (
	ChatInput struct {
		Message string `json:"message"`
		Context string `json:"context,omitempty"`
		Type    string `json:"type,omitempty"`
	}

	FileInput struct {
		FileName     string `json:"fileName"`
		Size         int64  `json:"size"`
		MimeType     string `json:"mimeType"`
		AnalysisType string `json:"analysisType,omitempty"`
		StorageKey   string `json:"storageKey,omitempty"`
	}

	CodeInput struct {
		Description string `json:"description"`
		Language    string `json:"language"`
		Framework   string `json:"framework,omitempty"`
		Complexity  string `json:"complexity,omitempty"`
	}

	JobSearchInput struct {
		Keywords   string `json:"keywords"`
		Location   string `json:"location,omitempty"`
		Experience string `json:"experience,omitempty"`
		JobType    string `json:"jobType,omitempty"`
	}
)

func decodeInput(req *models.AIRequest, v any) error {
	if err := json.Unmarshal(req.Input, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// sleep waits for d unless ctx ends first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
