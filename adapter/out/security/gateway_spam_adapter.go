// Package security wires the external content scanners consumed by the
// ingest pipeline.
package security

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"

	"gateway_server/core/domain"
	"gateway_server/core/port/out"
	"gateway_server/pkg/httputil"
)

// =============================================================================
// Spam Scanner Adapter
// =============================================================================

// SpamAdapter calls the external spam scoring service over HTTP. The score
// and action are consumed opaquely; scoring policy lives in the service.
type SpamAdapter struct {
	baseURL string
	client  *http.Client
}

// NewSpamAdapter creates a spam scanner client for the given base URL.
func NewSpamAdapter(baseURL string) *SpamAdapter {
	return &SpamAdapter{
		baseURL: baseURL,
		client:  httputil.NewClient(httputil.ScannerClientConfig()),
	}
}

type scanRequest struct {
	From    string `json:"from"`
	Subject string `json:"subject"`
	Content string `json:"content"`
	InboxID string `json:"inbox_id,omitempty"`
}

func (a *SpamAdapter) ScanSpam(ctx context.Context, in *out.ScanInput) (*domain.SpamVerdict, error) {
	var verdict domain.SpamVerdict
	if err := postJSON(ctx, a.client, a.baseURL+"/v1/scan/spam", in, &verdict); err != nil {
		return nil, fmt.Errorf("spam scan: %w", err)
	}
	verdict.Checked = true
	return &verdict, nil
}

// =============================================================================
// Injection Scanner Adapter
// =============================================================================

// InjectionAdapter calls the external prompt-injection detection service.
type InjectionAdapter struct {
	baseURL string
	client  *http.Client
}

// NewInjectionAdapter creates an injection scanner client.
func NewInjectionAdapter(baseURL string) *InjectionAdapter {
	return &InjectionAdapter{
		baseURL: baseURL,
		client:  httputil.NewClient(httputil.ScannerClientConfig()),
	}
}

func (a *InjectionAdapter) ScanInjection(ctx context.Context, in *out.ScanInput) (*domain.InjectionVerdict, error) {
	var verdict domain.InjectionVerdict
	if err := postJSON(ctx, a.client, a.baseURL+"/v1/scan/injection", in, &verdict); err != nil {
		return nil, fmt.Errorf("injection scan: %w", err)
	}
	verdict.Checked = true
	return &verdict, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, in *out.ScanInput, result any) error {
	body, err := json.Marshal(scanRequest{
		From:    in.From,
		Subject: in.Subject,
		Content: in.Content,
		InboxID: in.InboxID,
	})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httputil.DoWithContext(ctx, client, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("scanner returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode verdict: %w", err)
	}
	return nil
}

// Ensure interface compliance
var (
	_ out.SpamScanner      = (*SpamAdapter)(nil)
	_ out.InjectionScanner = (*InjectionAdapter)(nil)
)
