// Package telemetry records one structured event per validation round
// and optionally mirrors it to an external experiment-tracking sink.
// The export is fire and forget: a dead sink costs a log line, never a
// round.
package telemetry

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/sensei/internal/config"
	"github.com/tensorplex-labs/sensei/internal/kami"
)

// RoundEvent is the per-round record shipped to logs and the sink.
type RoundEvent struct {
	Step               int64     `json:"step"`
	Block              int64     `json:"block"`
	TaskType           string    `json:"taskType"`
	Prompt             string    `json:"prompt"`
	ElapsedSeconds     float64   `json:"elapsedSeconds"`
	UIDs               []int64   `json:"uids"`
	Completions        []string  `json:"completions"`
	CompletionTimes    []float64 `json:"completionTimes"`
	CompletionMessages []string  `json:"completionStatusMessages"`
	CompletionCodes    []int     `json:"completionStatusCodes"`
	Rewards            []float64 `json:"rewards"`
	GatingLoss         float64   `json:"gatingLoss"`
	BestCompletion     string    `json:"best"`
}

// MessageSigner authenticates exported events with the validator's
// hotkey.
type MessageSigner interface {
	SignMessage(params kami.SignMessageParams) (kami.SignMessageResponse, error)
}

type exportPayload struct {
	RunID     string         `json:"runId"`
	Hotkey    string         `json:"hotkey"`
	Message   string         `json:"message"`
	Signature string         `json:"signature"`
	Event     RoundEvent     `json:"event"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Exporter groups round events into runs. After RunStepLength events
// the run id rolls over, keeping individual runs in the sink to a
// browsable size.
type Exporter struct {
	cfg    *config.TelemetryEnvConfig
	client *resty.Client
	signer MessageSigner
	hotkey string

	mu         sync.Mutex
	runID      string
	stepsInRun int
}

func NewExporter(cfg *config.TelemetryEnvConfig, signer MessageSigner, hotkey string) (*Exporter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration cannot be nil")
	}

	client := resty.New().
		SetBaseURL(cfg.TelemetryURL).
		SetTimeout(10 * time.Second).
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal)

	exporter := &Exporter{
		cfg:    cfg,
		client: client,
		signer: signer,
		hotkey: hotkey,
		runID:  uuid.NewString(),
	}
	log.Info().Str("run_id", exporter.runID).Msg("telemetry run started")
	return exporter, nil
}

// RunID returns the current run identifier.
func (e *Exporter) RunID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runID
}

// Record logs the round event locally and, when a sink is configured,
// ships it asynchronously. fields carries the scoring functions' event
// breakdowns.
func (e *Exporter) Record(event RoundEvent, fields map[string]any) {
	log.Info().
		Int64("step", event.Step).
		Int64("block", event.Block).
		Str("task_type", event.TaskType).
		Float64("elapsed_seconds", event.ElapsedSeconds).
		Ints64("uids", event.UIDs).
		Floats64("rewards", event.Rewards).
		Float64("gating_loss", event.GatingLoss).
		Msg("round completed")

	runID := e.advanceRun()

	if e.cfg.TelemetryOff || e.cfg.TelemetryURL == "" {
		return
	}

	go e.export(runID, event, fields)
}

// advanceRun counts the event against the current run and rolls the
// run id over when the run is full.
func (e *Exporter) advanceRun() string {
	e.mu.Lock()
	defer e.mu.Unlock()

	runID := e.runID
	e.stepsInRun++
	if e.cfg.RunStepLength > 0 && e.stepsInRun >= e.cfg.RunStepLength {
		e.runID = uuid.NewString()
		e.stepsInRun = 0
		log.Info().
			Str("previous_run_id", runID).
			Str("run_id", e.runID).
			Msg("telemetry run rolled over")
	}
	return runID
}

func (e *Exporter) export(runID string, event RoundEvent, fields map[string]any) {
	payload := exportPayload{
		RunID:  runID,
		Hotkey: e.hotkey,
		Event:  event,
		Fields: fields,
	}

	if e.signer != nil {
		message, err := randomStringToSign()
		if err != nil {
			log.Warn().Err(err).Msg("telemetry export skipped, could not build message to sign")
			return
		}
		signed, err := e.signer.SignMessage(kami.SignMessageParams{Message: message})
		if err != nil {
			log.Warn().Err(err).Msg("telemetry export skipped, signing failed")
			return
		}
		payload.Message = message
		payload.Signature = signed.Data.Signature
	}

	resp, err := e.client.R().
		SetBody(payload).
		Post("/runs/events")
	if err != nil {
		log.Warn().Err(err).Str("run_id", runID).Msg("telemetry export failed")
		return
	}
	if resp.IsError() {
		log.Warn().
			Int("status", resp.StatusCode()).
			Str("body", resp.String()).
			Str("run_id", runID).
			Msg("telemetry sink rejected event")
	}
}

func randomStringToSign() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate message to sign: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
