package reward

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/sensei/internal/dendrite"
)

const MistralScorerName = "mistral_reward_model"

// MistralScorer is the primary weighted scorer. It ships the batch to
// an external judge service and scatters the returned scores back over
// the full batch, leaving failed slots at zero.
type MistralScorer struct {
	httpClient *retryablehttp.Client
	baseURL    string
}

type mistralScoreRequest struct {
	TaskType    string   `json:"taskType"`
	Reference   string   `json:"reference"`
	Completions []string `json:"completions"`
}

type mistralScoreResponse struct {
	Success bool      `json:"success"`
	Scores  []float64 `json:"scores"`
	Error   string    `json:"error,omitempty"`
}

func NewMistralScorer(scorerURL string) *MistralScorer {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.HTTPClient.Timeout = 30 * time.Second
	client.RetryWaitMin = 500 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = nil

	return &MistralScorer{
		httpClient: client,
		baseURL:    scorerURL,
	}
}

func (m *MistralScorer) Name() string { return MistralScorerName }
func (m *MistralScorer) Role() Role   { return RoleWeighted }

func (m *MistralScorer) Apply(ctx context.Context, reference string, responses []dendrite.Response, taskType string) (Result, error) {
	scores := make([]float64, len(responses))
	if len(responses) == 0 {
		return Result{Scores: scores, Events: map[string]any{MistralScorerName: scores}}, nil
	}

	// Only completions that actually arrived are worth a judge call.
	var completions []string
	var slots []int
	for i, resp := range responses {
		if resp.Success() && resp.Completion != "" {
			completions = append(completions, resp.Completion)
			slots = append(slots, i)
		}
	}

	if len(completions) > 0 {
		judged, err := m.score(ctx, mistralScoreRequest{
			TaskType:    taskType,
			Reference:   reference,
			Completions: completions,
		})
		if err != nil {
			return Result{}, err
		}
		if len(judged) != len(completions) {
			return Result{}, fmt.Errorf("judge returned %d scores for %d completions", len(judged), len(completions))
		}
		for i, slot := range slots {
			scores[slot] = clamp01(judged[i])
		}
	}

	return Result{
		Scores: scores,
		Events: map[string]any{MistralScorerName: scores},
	}, nil
}

func (m *MistralScorer) score(ctx context.Context, request mistralScoreRequest) ([]float64, error) {
	body, err := sonic.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal score request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/score", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("create score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("score request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read score response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Error().
			Int("status", resp.StatusCode).
			Str("body", string(respBody)).
			Msg("judge returned non-2xx")
		return nil, fmt.Errorf("judge status %d: %s", resp.StatusCode, string(respBody))
	}

	var out mistralScoreResponse
	if err := sonic.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("unmarshal score response: %w", err)
	}
	if !out.Success {
		return nil, fmt.Errorf("judge returned success=false: %s", out.Error)
	}
	return out.Scores, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
