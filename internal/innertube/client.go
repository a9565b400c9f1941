// Package innertube implements the two HTTP calls the session manager makes
// against the upstream platform's private Innertube API: visitor-data
// generation and BotGuard challenge retrieval.
package innertube

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bgutil/potprovider/internal/apperror"
	"github.com/bgutil/potprovider/internal/model"
)

const (
	defaultBaseURL   = "https://www.youtube.com/youtubei/v1"
	clientName       = "WEB"
	clientVersion    = "2.20240822.03.00"
	userAgent        = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	maxRetries       = 3
	retryBaseDelay   = 100 * time.Millisecond
)

// Client issues the two Innertube HTTP calls. BaseURL is overridable for
// tests.
type Client struct {
	HTTP    *http.Client
	BaseURL string
}

// NewClient builds a Client against the real Innertube base URL.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{HTTP: httpClient, BaseURL: defaultBaseURL}
}

// GenerateVisitorData issues POST /browse with the fixed WEB client context
// and extracts responseContext.visitorData.
func (c *Client) GenerateVisitorData(ctx context.Context) (string, error) {
	body := map[string]any{
		"context": map[string]any{
			"client": map[string]any{
				"clientName":    clientName,
				"clientVersion": clientVersion,
				"hl":            "en",
				"gl":            "US",
			},
		},
		"browseId": "FEwhat_to_watch",
	}

	var parsed map[string]any
	if err := c.postJSON(ctx, "/browse", body, &parsed); err != nil {
		return "", apperror.Wrap(apperror.KindVisitorData, "visitor data generation failed", err).WithContext("innertube")
	}

	responseContext, _ := parsed["responseContext"].(map[string]any)
	visitorData, _ := responseContext["visitorData"].(string)
	if visitorData == "" {
		return "", apperror.New(apperror.KindVisitorData, "visitor data not found in Innertube API response").WithContext("innertube")
	}
	return visitorData, nil
}

// GetChallenge issues POST /att/get?prettyPrint=false with the caller's
// innertube context and parses the bgChallenge descriptor.
func (c *Client) GetChallenge(ctx context.Context, innertubeContext map[string]any) (*model.ChallengeDescriptor, error) {
	if innertubeContext == nil {
		innertubeContext = map[string]any{}
	}
	body := map[string]any{
		"context":        innertubeContext,
		"engagementType": "ENGAGEMENT_TYPE_UNBOUND",
	}

	var parsed map[string]any
	if err := c.postJSON(ctx, "/att/get?prettyPrint=false", body, &parsed); err != nil {
		return nil, apperror.Wrap(apperror.KindNetwork, "innertube att/get request failed", err)
	}

	bgChallenge, ok := parsed["bgChallenge"].(map[string]any)
	if !ok {
		return nil, challengeErr("bgChallenge not found in API response")
	}

	interpreterURL, ok := stringField(bgChallenge, "interpreterUrl", "privateDoNotAccessOrElseTrustedResourceUrlWrappedValue")
	if !ok {
		return nil, challengeErr("interpreterUrl not found in bgChallenge")
	}
	interpreterHash, ok := bgChallenge["interpreterHash"].(string)
	if !ok {
		return nil, challengeErr("interpreterHash not found in bgChallenge")
	}
	program, ok := bgChallenge["program"].(string)
	if !ok {
		return nil, challengeErr("program not found in bgChallenge")
	}
	globalName, ok := bgChallenge["globalName"].(string)
	if !ok {
		return nil, challengeErr("globalName not found in bgChallenge")
	}
	blob, _ := bgChallenge["clientExperimentsStateBlob"].(string)

	return &model.ChallengeDescriptor{
		InterpreterURL:              interpreterURL,
		InterpreterHash:             interpreterHash,
		Program:                     program,
		GlobalName:                  globalName,
		ClientExperimentsStateBlob: blob,
	}, nil
}

func stringField(m map[string]any, outer, inner string) (string, bool) {
	nested, ok := m[outer].(map[string]any)
	if !ok {
		return "", false
	}
	v, ok := nested[inner].(string)
	return v, ok
}

func challengeErr(message string) error {
	return apperror.New(apperror.KindChallenge, message).WithContext("innertube")
}

// postJSON sends a POST with a JSON body, retrying on network failure with
// linear backoff (delay grows by a fixed increment each attempt), bounded
// by maxRetries. Non-2xx responses and malformed JSON are not retried.
func (c *Client) postJSON(ctx context.Context, path string, reqBody any, out any) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBaseDelay * time.Duration(attempt)):
			}
		}

		resp, err := c.doPost(ctx, path, payload)
		if err != nil {
			lastErr = err
			continue
		}

		status := resp.StatusCode
		bodyBytes, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("read response body: %w", readErr)
		}
		if status < 200 || status >= 300 {
			return fmt.Errorf("API request failed with status: %d", status)
		}
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return fmt.Errorf("parse JSON response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("network request failed after %d attempts: %w", maxRetries+1, lastErr)
}

func (c *Client) doPost(ctx context.Context, path string, payload []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	return c.HTTP.Do(req)
}
