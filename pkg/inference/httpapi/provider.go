package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"clinical-workflow-be/pkg/inference"
)

// Provider talks to a JSON inference gateway that fronts the coding,
// compliance and speech models.
type Provider struct {
	BaseURL   string
	ModelName string
	Client    *http.Client
}

var _ inference.CodeSuggester = &Provider{}
var _ inference.ComplianceChecker = &Provider{}
var _ inference.NoteEnhancer = &Provider{}
var _ inference.Transcriber = &Provider{}

func NewProvider(baseURL, modelName string) *Provider {
	return &Provider{
		BaseURL:   baseURL,
		ModelName: modelName,
		Client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// --- Request/Response structs (Internal to this package) ---

type suggestRequest struct {
	Model   string `json:"model"`
	Content string `json:"content"`
}

type suggestResponse struct {
	Suggestions []inference.CodeSuggestion `json:"suggestions"`
}

type complianceRequest struct {
	Model   string   `json:"model"`
	Content string   `json:"content"`
	Codes   []string `json:"codes"`
}

type complianceResponse struct {
	Findings []inference.ComplianceFinding `json:"findings"`
}

type enhanceRequest struct {
	Model   string `json:"model"`
	Content string `json:"content"`
	Mode    string `json:"mode"` // "enhance" | "summarize"
}

type enhanceResponse struct {
	Content string `json:"content"`
}

type transcribeRequest struct {
	Model       string `json:"model"`
	UtteranceId string `json:"utterance_id"`
	Audio       string `json:"audio,omitempty"` // base64 frame
	Finalize    bool   `json:"finalize"`
}

type transcribeResponse struct {
	Transcript string `json:"transcript"`
}

func (p *Provider) post(ctx context.Context, path string, reqBody, resBody interface{}) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("inference call failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("inference API returned %d: %s", res.StatusCode, string(body))
	}

	if err := json.NewDecoder(res.Body).Decode(resBody); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (p *Provider) SuggestCodes(ctx context.Context, noteContent string) ([]inference.CodeSuggestion, error) {
	var res suggestResponse
	err := p.post(ctx, "/v1/suggest-codes", suggestRequest{Model: p.ModelName, Content: noteContent}, &res)
	if err != nil {
		return nil, err
	}
	return res.Suggestions, nil
}

func (p *Provider) CheckCompliance(ctx context.Context, noteContent string, codes []string) ([]inference.ComplianceFinding, error) {
	var res complianceResponse
	err := p.post(ctx, "/v1/check-compliance", complianceRequest{Model: p.ModelName, Content: noteContent, Codes: codes}, &res)
	if err != nil {
		return nil, err
	}
	return res.Findings, nil
}

func (p *Provider) Enhance(ctx context.Context, content string) (string, error) {
	var res enhanceResponse
	err := p.post(ctx, "/v1/enhance", enhanceRequest{Model: p.ModelName, Content: content, Mode: "enhance"}, &res)
	if err != nil {
		return "", err
	}
	return res.Content, nil
}

func (p *Provider) Summarize(ctx context.Context, content string) (string, error) {
	var res enhanceResponse
	err := p.post(ctx, "/v1/enhance", enhanceRequest{Model: p.ModelName, Content: content, Mode: "summarize"}, &res)
	if err != nil {
		return "", err
	}
	return res.Content, nil
}

func (p *Provider) TranscribeFrame(ctx context.Context, utteranceID string, frame []byte) (string, error) {
	var res transcribeResponse
	req := transcribeRequest{
		Model:       p.ModelName,
		UtteranceId: utteranceID,
		Audio:       base64.StdEncoding.EncodeToString(frame),
	}
	if err := p.post(ctx, "/v1/transcribe", req, &res); err != nil {
		return "", err
	}
	return res.Transcript, nil
}

func (p *Provider) FinalizeUtterance(ctx context.Context, utteranceID string) (string, error) {
	var res transcribeResponse
	req := transcribeRequest{
		Model:       p.ModelName,
		UtteranceId: utteranceID,
		Finalize:    true,
	}
	if err := p.post(ctx, "/v1/transcribe", req, &res); err != nil {
		return "", err
	}
	return res.Transcript, nil
}
