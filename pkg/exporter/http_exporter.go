package exporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPExporter posts artifacts to an EHR integration endpoint and, when a
// billing endpoint is configured, files the claim for the selected codes.
type HTTPExporter struct {
	BaseURL        string
	BillingBaseURL string
	Client         *http.Client
}

var _ EHRExporter = &HTTPExporter{}

func NewHTTPExporter(baseURL, billingBaseURL string) *HTTPExporter {
	return &HTTPExporter{
		BaseURL:        baseURL,
		BillingBaseURL: billingBaseURL,
		Client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (e *HTTPExporter) Export(ctx context.Context, artifact *Artifact) (*Receipt, error) {
	payload, err := json.Marshal(artifact)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal artifact: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL+"/v1/encounters/export", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build export request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// Downstream dedupes repeated deliveries of the same session on this key.
	req.Header.Set("Idempotency-Key", artifact.SessionId)

	res, err := e.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("export transport failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("export endpoint returned %d: %s", res.StatusCode, string(body))
	}

	var receipt Receipt
	if err := json.NewDecoder(res.Body).Decode(&receipt); err != nil {
		return nil, fmt.Errorf("failed to decode export receipt: %w", err)
	}

	if e.BillingBaseURL != "" {
		if err := e.submitClaim(ctx, artifact, receipt.ConfirmationNumber); err != nil {
			// Fail the whole export so the attempt is retried; both endpoints
			// dedupe on the session id.
			return nil, err
		}
	}
	return &receipt, nil
}

// submitClaim files the selected codes with the billing system, referencing
// the EHR confirmation.
func (e *HTTPExporter) submitClaim(ctx context.Context, artifact *Artifact, confirmation string) error {
	claim := map[string]interface{}{
		"session_id":          artifact.SessionId,
		"encounter_id":        artifact.EncounterId,
		"patient_id":          artifact.PatientId,
		"confirmation_number": confirmation,
		"codes":               artifact.Codes,
	}
	payload, err := json.Marshal(claim)
	if err != nil {
		return fmt.Errorf("failed to marshal claim: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BillingBaseURL+"/v1/claims", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build claim request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", artifact.SessionId)

	res, err := e.Client.Do(req)
	if err != nil {
		return fmt.Errorf("claim transport failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("claim endpoint returned %d: %s", res.StatusCode, string(body))
	}
	return nil
}
