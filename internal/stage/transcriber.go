package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/rest/interfaces"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"

	"github.com/penciled/penciled/internal/config"
)

// deepgramURL is the prerecorded transcription endpoint.
const deepgramURL = "https://api.deepgram.com/v1/listen"

// DeepgramTranscriber converts recorded audio to text through Deepgram's
// prerecorded endpoint, before ingest sees the payload.
type DeepgramTranscriber struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewDeepgramTranscriber builds a transcriber. The API key must be set;
// wiring skips construction entirely when transcription is not configured.
func NewDeepgramTranscriber(cfg *config.Config) *DeepgramTranscriber {
	return &DeepgramTranscriber{
		apiKey:  cfg.DeepgramAPIKey,
		model:   cfg.DeepgramModel,
		baseURL: deepgramURL,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   cfg.GatewayTimeout(),
		},
	}
}

// Transcribe sends the recording and returns the first channel's best
// transcript.
func (t *DeepgramTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	ctx, span := tracer.Start(ctx, "stage transcribe")
	defer span.End()

	u, err := url.Parse(t.baseURL)
	if err != nil {
		return "", fmt.Errorf("error parsing transcription URL: %w", err)
	}
	q := u.Query()
	q.Set("model", t.model)
	q.Set("smart_format", "true")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "POST", u.String(), bytes.NewReader(audio))
	if err != nil {
		err = fmt.Errorf("error creating HTTP request: %w", err)
		span.RecordError(err)
		span.SetAttributes(attribute.String("error", err.Error()))
		return "", err
	}
	req.Header.Set("Authorization", "Token "+t.apiKey)
	if mimeType != "" {
		req.Header.Set("Content-Type", mimeType)
	}

	span.SetAttributes(attribute.String("request.url", u.String()))
	resp, err := t.client.Do(req)
	if err != nil {
		err = fmt.Errorf("error sending request: %w", err)
		span.RecordError(err)
		span.SetAttributes(attribute.String("error", err.Error()))
		return "", err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		if errorBody, readErr := io.ReadAll(resp.Body); readErr == nil {
			span.SetAttributes(attribute.String("response.error", string(errorBody)))
		}
		err := fmt.Errorf("non-OK HTTP status: %s", resp.Status)
		span.RecordError(err)
		span.SetAttributes(attribute.String("error", err.Error()))
		return "", err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		err = fmt.Errorf("error reading response body: %w", err)
		span.RecordError(err)
		span.SetAttributes(attribute.String("error", err.Error()))
		return "", err
	}

	var res api.PreRecordedResponse
	if err := json.Unmarshal(body, &res); err != nil {
		err = fmt.Errorf("error unmarshalling transcription response: %w", err)
		span.RecordError(err)
		span.SetAttributes(attribute.String("error", err.Error()))
		return "", err
	}
	if res.Results == nil || len(res.Results.Channels) == 0 || len(res.Results.Channels[0].Alternatives) == 0 {
		err := fmt.Errorf("transcription response carries no alternatives")
		span.RecordError(err)
		span.SetAttributes(attribute.String("error", err.Error()))
		return "", err
	}

	transcript := strings.TrimSpace(res.Results.Channels[0].Alternatives[0].Transcript)
	if transcript == "" {
		return "", fmt.Errorf("transcription produced no text")
	}

	logger.DebugContext(ctx, "transcription complete",
		"bytes", len(audio),
		"chars", len(transcript),
	)
	return transcript, nil
}
