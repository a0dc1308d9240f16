package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ollamaRequest is the request body for the Ollama chat API
type ollamaRequest struct {
	Model    string              `json:"model"`
	Messages []map[string]string `json:"messages"`
	Format   string              `json:"format,omitempty"`
	Stream   bool                `json:"stream"`
}

// ollamaResponse is the response from the Ollama chat API
type ollamaResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Message   struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// Ollama implements Understander against a local Ollama server.
type Ollama struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter
}

// NewOllama creates an Ollama-backed understander.
func NewOllama(baseURL, model string, timeout time.Duration, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3:latest"
	}
	return &Ollama{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		tracer:     tracer,
		meter:      meter,
	}
}

// ExtractEntities asks the model for the entities in one message.
func (o *Ollama) ExtractEntities(ctx context.Context, text string) ([]ExtractedEntity, error) {
	raw, err := o.complete(ctx, "ollama_extract_entities", buildExtractionPrompt(text))
	if err != nil {
		return nil, err
	}
	return parseExtraction(raw)
}

// ResolveReference asks the model to bind the query's referring
// expressions to an entity from the window.
func (o *Ollama) ResolveReference(ctx context.Context, req ResolutionRequest) (ResolutionAnswer, error) {
	raw, err := o.complete(ctx, "ollama_resolve_reference", buildResolutionPrompt(req))
	if err != nil {
		return ResolutionAnswer{}, err
	}
	return parseResolution(raw)
}

func (o *Ollama) complete(ctx context.Context, spanName, prompt string) (string, error) {
	ctx, span := o.tracer.Start(ctx, spanName)
	defer span.End()

	start := time.Now()

	reqBody := ollamaRequest{
		Model: o.model,
		Messages: []map[string]string{
			{"role": "system", "content": "You analyze conversation text. Output ONLY JSON."},
			{"role": "user", "content": prompt},
		},
		Format: "json",
		Stream: false,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("%w: failed to marshal request: %v", errCollaborator, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/api/chat", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("%w: failed to create request: %v", errCollaborator, err)
	}

	req.Header.Set("content-type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: failed to send request: %v", errCollaborator, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read response: %v", errCollaborator, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: API error: %s - %s", errCollaborator, resp.Status, string(body))
	}

	var apiResp ollamaResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("%w: failed to unmarshal response: %v", errCollaborator, err)
	}

	duration := time.Since(start)
	histogram, err := o.meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err == nil {
		histogram.Record(ctx, float64(duration.Milliseconds()))
	}

	return apiResp.Message.Content, nil
}
