package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"argent/pkg/persona"

	"google.golang.org/genai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// ContentGenerator is the slice of the genai client used here. *genai.Models
// satisfies it.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini implements Generator and Extractor over the Gemini API.
type Gemini struct {
	models   ContentGenerator
	model    string
	personas *persona.Directory
	logger   *slog.Logger
}

// NewGemini creates a Gemini client for apiKey.
func NewGemini(ctx context.Context, apiKey, model string, personas *persona.Directory, logger *slog.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return NewGeminiWith(client.Models, model, personas, logger), nil
}

// NewGeminiWith builds a Gemini over an existing ContentGenerator.
func NewGeminiWith(models ContentGenerator, model string, personas *persona.Directory, logger *slog.Logger) *Gemini {
	if model == "" {
		model = DefaultModel
	}
	if personas == nil {
		personas = persona.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gemini{models: models, model: model, personas: personas, logger: logger}
}

func (g *Gemini) generate(ctx context.Context, prompt string, cfg *genai.GenerateContentConfig) (string, error) {
	resp, err := g.models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}, cfg)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("empty response")
	}
	return text, nil
}

// Reply implements Generator.
func (g *Gemini) Reply(ctx context.Context, req ReplyRequest) (Reply, error) {
	p, err := g.personas.Get(req.PersonaID)
	if err != nil {
		return Reply{}, fmt.Errorf("gemini reply: %w", err)
	}
	text, err := g.generate(ctx, replyPrompt(req, p), &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.9),
	})
	if err != nil {
		return Reply{}, fmt.Errorf("gemini reply for %s: %w", req.PersonaID, err)
	}
	return SplitSubject(text), nil
}

// FirstContact implements Generator.
func (g *Gemini) FirstContact(ctx context.Context, req FirstContactRequest) (Reply, error) {
	p, err := g.personas.Get(req.PersonaID)
	if err != nil {
		return Reply{}, fmt.Errorf("gemini first contact: %w", err)
	}
	text, err := g.generate(ctx, firstContactPrompt(req, p), &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0.9),
	})
	if err != nil {
		return Reply{}, fmt.Errorf("gemini first contact for %s: %w", req.PersonaID, err)
	}
	return SplitSubject(text), nil
}

// Extract implements Extractor. Model and parse failures degrade to a neutral
// result and are only logged.
func (g *Gemini) Extract(ctx context.Context, req ExtractionRequest) (ExtractionResult, error) {
	var goal string
	if p, err := g.personas.Get(req.PersonaID); err == nil {
		goal = p.Goal
	}

	text, err := g.generate(ctx, extractionPrompt(req, goal), &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0.1),
		MaxOutputTokens:  500,
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		g.logger.WarnContext(ctx, "extraction call failed", "persona_id", req.PersonaID, "error", err)
		return Neutral(fmt.Sprintf("Extraction error: %v", err)), nil
	}

	res, err := ParseExtraction(text)
	if err != nil {
		g.logger.WarnContext(ctx, "extraction output unparsable", "persona_id", req.PersonaID, "error", err)
		return Neutral("Failed to parse extraction"), nil
	}
	return res, nil
}

// Disabled is the Extractor used without an API key: every exchange is neutral.
type Disabled struct{}

// Extract implements Extractor.
func (Disabled) Extract(context.Context, ExtractionRequest) (ExtractionResult, error) {
	return Neutral("No API key available for extraction"), nil
}
