package validator

import (
	"context"
	"time"

	"github.com/tensorplex-labs/sensei/internal/dendrite"
	"github.com/tensorplex-labs/sensei/internal/kami"
	"github.com/tensorplex-labs/sensei/internal/telemetry"
)

// Chain is the subset of the Kami API the validator relies on.
type Chain interface {
	GetKeyringPair() (kami.KeyringPairInfoResponse, error)
	CheckHotkey(netuid int, hotkey string) (kami.CheckHotkeyResponse, error)
	GetMetagraph(netuid int) (kami.SubnetMetagraphResponse, error)
	GetSubnetHyperparams(netuid int) (kami.SubnetHyperparamsResponse, error)
	GetLatestBlock() (kami.LatestBlockResponse, error)
	SetWeights(params kami.SetWeightsParams) (kami.ExtrinsicHashResponse, error)
}

// Dispatcher fans one synapse out to a set of peers and returns one
// response per slot, in order.
type Dispatcher interface {
	Dispatch(ctx context.Context, endpoints []dendrite.Endpoint, synapse dendrite.Prompting, timeout time.Duration) []dendrite.Response
}

// Recorder receives one structured event per completed step.
type Recorder interface {
	Record(event telemetry.RoundEvent, fields map[string]any)
}

// AxonAdvertiser republishes the locally served endpoint on chain.
type AxonAdvertiser interface {
	Advertise() error
}

// RoundCache persists cross-restart round bookkeeping in Redis. All
// uses are best-effort; a cache miss or error never blocks a round.
type RoundCache interface {
	NextRound(ctx context.Context) (int64, error)
	CacheLatestBlock(ctx context.Context, block int64, ttl time.Duration) error
	PushBestCompletion(ctx context.Context, completion string) error
}
