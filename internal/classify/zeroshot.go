package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/brandon/onebox/pkg/types"
)

// ZeroShotClient calls a hosted zero-shot classification endpoint
// (bart-large-mnli style: free text in, scored candidate labels out).
type ZeroShotClient struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewZeroShotClient creates a client for the given inference endpoint. The
// token is sent as a bearer credential when non-empty.
func NewZeroShotClient(endpoint, token string) *ZeroShotClient {
	return &ZeroShotClient{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

type zeroShotRequest struct {
	Inputs     string             `json:"inputs"`
	Parameters zeroShotParameters `json:"parameters"`
}

type zeroShotParameters struct {
	CandidateLabels []string `json:"candidate_labels"`
	MultiLabel      bool     `json:"multi_label"`
}

type zeroShotResponse struct {
	Labels []string  `json:"labels"`
	Scores []float64 `json:"scores"`
}

// ZeroShot classifies text against the candidate labels and returns one
// scored result per label, highest first (service ordering).
func (c *ZeroShotClient) ZeroShot(ctx context.Context, text string, labels []string) ([]types.ClassificationResult, error) {
	body, err := json.Marshal(zeroShotRequest{
		Inputs: text,
		Parameters: zeroShotParameters{
			CandidateLabels: labels,
			MultiLabel:      false,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference returned status %d: %s", resp.StatusCode, snippet(raw))
	}

	parsed, err := decodeZeroShot(raw)
	if err != nil {
		return nil, err
	}

	results := make([]types.ClassificationResult, len(parsed.Labels))
	for i, label := range parsed.Labels {
		results[i] = types.ClassificationResult{Label: label, Confidence: parsed.Scores[i]}
	}
	return results, nil
}

// decodeZeroShot accepts both response shapes the service emits: a single
// object or a one-element array wrapping it.
func decodeZeroShot(raw []byte) (*zeroShotResponse, error) {
	var single zeroShotResponse
	if err := json.Unmarshal(raw, &single); err == nil && len(single.Labels) > 0 {
		if len(single.Labels) != len(single.Scores) {
			return nil, fmt.Errorf("malformed inference response: %d labels, %d scores", len(single.Labels), len(single.Scores))
		}
		return &single, nil
	}

	var many []zeroShotResponse
	if err := json.Unmarshal(raw, &many); err == nil && len(many) > 0 && len(many[0].Labels) > 0 {
		if len(many[0].Labels) != len(many[0].Scores) {
			return nil, fmt.Errorf("malformed inference response: %d labels, %d scores", len(many[0].Labels), len(many[0].Scores))
		}
		return &many[0], nil
	}

	return nil, fmt.Errorf("malformed inference response: %s", snippet(raw))
}

func snippet(b []byte) string {
	const max = 200
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}
