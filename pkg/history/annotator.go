// Copyright 2025 Laszoo Authors
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrAnnotatorUnavailable marks any annotator failure: unreachable endpoint,
// non-200 status, or an unparseable body. Callers fall back silently.
var ErrAnnotatorUnavailable = errors.New("annotator unavailable")

// annotatorTimeout bounds the external HTTP call; the version log must never
// stall reconciliation behind a slow model.
const annotatorTimeout = 10 * time.Second

// Annotator generates commit summaries over the /api/generate contract.
type Annotator struct {
	Endpoint string
	Model    string
	Client   *http.Client
}

// NewAnnotator builds a client for the endpoint, or nil when no endpoint is
// configured (the deterministic fallback is used instead).
func NewAnnotator(endpoint, model string) *Annotator {
	if endpoint == "" {
		return nil
	}
	return &Annotator{
		Endpoint: strings.TrimRight(endpoint, "/"),
		Model:    model,
		Client:   &http.Client{Timeout: annotatorTimeout},
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Summarize asks the annotator for a one-line summary of a diff.
func (a *Annotator) Summarize(ctx context.Context, diff string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  a.Model,
		Prompt: "Write a one-line commit message for this configuration change:\n\n" + diff,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAnnotatorUnavailable, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.Endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAnnotatorUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAnnotatorUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrAnnotatorUnavailable, resp.StatusCode)
	}
	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrAnnotatorUnavailable, err)
	}
	summary := strings.TrimSpace(out.Response)
	if summary == "" {
		return "", fmt.Errorf("%w: empty response", ErrAnnotatorUnavailable)
	}
	return strings.SplitN(summary, "\n", 2)[0], nil
}
