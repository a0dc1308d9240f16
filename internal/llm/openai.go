package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// openAIRequest is the request body for OpenAI-compatible chat APIs
type openAIRequest struct {
	Model          string              `json:"model"`
	Messages       []map[string]string `json:"messages"`
	ResponseFormat map[string]string   `json:"response_format,omitempty"`
	Temperature    float64             `json:"temperature"`
}

// openAIResponse is the response from OpenAI-compatible chat APIs
type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage map[string]interface{} `json:"usage"`
}

// OpenAI implements Understander against the OpenAI chat completions API.
type OpenAI struct {
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter
}

// NewOpenAI creates an OpenAI-backed understander. The timeout bounds each
// collaborator call; after it expires the caller falls back to the
// unresolved path.
func NewOpenAI(baseURL, model string, timeout time.Duration, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) *OpenAI {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAI{
		baseURL:    baseURL,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		tracer:     tracer,
		meter:      meter,
	}
}

// ExtractEntities asks the model for the entities in one message.
func (o *OpenAI) ExtractEntities(ctx context.Context, text string) ([]ExtractedEntity, error) {
	raw, err := o.complete(ctx, "openai_extract_entities", buildExtractionPrompt(text), 0.1)
	if err != nil {
		return nil, err
	}
	return parseExtraction(raw)
}

// ResolveReference asks the model to bind the query's referring
// expressions to an entity from the window.
func (o *OpenAI) ResolveReference(ctx context.Context, req ResolutionRequest) (ResolutionAnswer, error) {
	raw, err := o.complete(ctx, "openai_resolve_reference", buildResolutionPrompt(req), 0.1)
	if err != nil {
		return ResolutionAnswer{}, err
	}
	return parseResolution(raw)
}

func (o *OpenAI) complete(ctx context.Context, spanName, prompt string, temperature float64) (string, error) {
	ctx, span := o.tracer.Start(ctx, spanName)
	defer span.End()

	start := time.Now()

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return "", fmt.Errorf("%w: OPENAI_API_KEY not set", errCollaborator)
	}

	reqBody := openAIRequest{
		Model: o.model,
		Messages: []map[string]string{
			{"role": "system", "content": "You analyze conversation text. Output ONLY JSON."},
			{"role": "user", "content": prompt},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
		Temperature:    temperature,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("%w: failed to marshal request: %v", errCollaborator, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("%w: failed to create request: %v", errCollaborator, err)
	}

	req.Header.Set("Authorization", "Bearer "+apiKey)
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

	var apiResp openAIResponse
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

	o.recordUsage(ctx, apiResp.Usage)

	if len(apiResp.Choices) > 0 {
		return apiResp.Choices[0].Message.Content, nil
	}

	return "", fmt.Errorf("%w: empty response from OpenAI", errCollaborator)
}

// recordUsage records token-usage counters from the provider response.
func (o *OpenAI) recordUsage(ctx context.Context, usage map[string]interface{}) {
	if usage == nil {
		return
	}

	for key, value := range usage {
		if intVal, ok := value.(float64); ok {
			counter, err := o.meter.Int64Counter(
				fmt.Sprintf("llm.usage.%s", key),
				metric.WithDescription(fmt.Sprintf("LLM usage metric: %s", key)),
			)
			if err != nil {
				o.logger.Warn("failed to create counter", "key", key, "error", err)
				continue
			}
			counter.Add(ctx, int64(intVal))
		}
	}
}
