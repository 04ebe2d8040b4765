package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/cortex/internal/ollama"
)

const modelTimeout = 3 * time.Second

// Chatter is the structured-chat interface the LLM model adapter needs.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []ollama.Message, jsonSchema *ollama.Schema) (string, error)
}

// LLMModel adapts a local structured-output LLM to the TextModel
// interface. Prediction is best-effort: any timeout, transport error,
// or malformed response is reported as an error so the statistical tier
// can fall through to exemplars.
type LLMModel struct {
	client Chatter
	model  string
}

// NewLLMModel creates an LLMModel using the given client and model name.
func NewLLMModel(client Chatter, model string) *LLMModel {
	return &LLMModel{client: client, model: model}
}

type modelPrediction struct {
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// Predict asks the model to place the text in one of the four
// categories and returns the label with a single-entry distribution.
func (m *LLMModel) Predict(ctx context.Context, text string) (string, map[string]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, modelTimeout)
	defer cancel()

	prompt := "Classify this personal note into exactly one category: idea, task, project, or bucket.\n" +
		"idea = a thought or concept; task = a concrete action item; " +
		"project = multi-step work; bucket = something saved for later (links, media, shopping).\n" +
		"Note: " + text + "\n" +
		`Respond with only a JSON object: {"category": <string>, "confidence": <float 0.0-1.0>}`

	schema := &ollama.Schema{
		Type: "object",
		Properties: map[string]ollama.SchemaProperty{
			"category":   {Type: "string", Description: "One of: idea, task, project, bucket"},
			"confidence": {Type: "number", Description: "Prediction confidence 0.0–1.0"},
		},
		Required: []string{"category", "confidence"},
	}

	raw, err := m.client.Chat(ctx, m.model, []ollama.Message{
		{Role: "user", Content: prompt},
	}, schema)
	if err != nil {
		return "", nil, fmt.Errorf("model chat: %w", err)
	}

	pred, err := parsePrediction(raw)
	if err != nil {
		return "", nil, err
	}
	label := strings.ToLower(strings.TrimSpace(pred.Category))
	return label, map[string]float64{label: clamp01(pred.Confidence)}, nil
}

// parsePrediction robustly extracts the prediction object from an LLM
// response. Small local models frequently wrap JSON in markdown code
// fences or prepend conversational filler, so the parser strips fences
// and extracts the first {...} span before unmarshalling.
func parsePrediction(resp string) (modelPrediction, error) {
	s := strings.TrimSpace(resp)

	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		if strings.HasPrefix(s, "json") {
			s = s[4:]
		}
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return modelPrediction{}, fmt.Errorf("no JSON object in response")
	}

	var pred modelPrediction
	if err := json.Unmarshal([]byte(s[start:end+1]), &pred); err != nil {
		return modelPrediction{}, fmt.Errorf("unmarshal prediction: %w", err)
	}
	return pred, nil
}
