// Client for the human-move-prediction model. The model is an external
// collaborator; we only ask it for a {uci: probability} distribution.

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// MoveProbSource yields a human-move probability distribution for a
// position at a given Elo. Probabilities sum to at most 1.
type MoveProbSource interface {
	Evaluate(ctx context.Context, fen string, elo int) (map[string]float64, error)
}

var httpc = &http.Client{Timeout: 15 * time.Second}

// HTTPPredictor talks to a prediction service over JSON.
type HTTPPredictor struct {
	baseURL string
	client  *http.Client
}

func NewHTTPPredictor(baseURL string) *HTTPPredictor {
	return &HTTPPredictor{baseURL: baseURL, client: httpc}
}

type predictRequest struct {
	FEN string `json:"fen"`
	Elo int    `json:"elo"`
}

type predictResponse struct {
	Moves map[string]float64 `json:"moves"`
}

func (p *HTTPPredictor) Evaluate(ctx context.Context, fen string, elo int) (map[string]float64, error) {
	body, err := json.Marshal(predictRequest{FEN: fen, Elo: elo})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("predictor returned %s", resp.Status)
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Moves, nil
}
