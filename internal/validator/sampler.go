package validator

import (
	"crypto/rand"
	"math/big"

	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/sensei/internal/kami"
	chainutils "github.com/tensorplex-labs/sensei/internal/utils/chain_utils"
)

// Eligible reports whether a uid can be queried this round. A peer must
// advertise a routable axon, and permit-holding peers above the stake
// ceiling are skipped so established validators are not scored as
// workers.
func Eligible(m *kami.SubnetMetagraph, uid int, stakeCeiling float64) bool {
	if uid < 0 || uid >= len(m.Hotkeys) {
		return false
	}
	if uid >= len(m.Axons) || !m.Axons[uid].IsServing() {
		return false
	}
	if uid < len(m.ValidatorPermit) && m.ValidatorPermit[uid] {
		var alphaStake, taoStake float64
		if uid < len(m.AlphaStake) {
			alphaStake = m.AlphaStake[uid]
		}
		if uid < len(m.TaoStake) {
			taoStake = m.TaoStake[uid]
		}
		if chainutils.EffectiveStake(alphaStake, taoStake) > stakeCeiling {
			return false
		}
	}
	return true
}

// SampleUIDs picks at most k eligible uids uniformly at random without
// replacement, skipping excluded ones. When fewer than k peers are
// eligible, every eligible peer is returned.
func SampleUIDs(m *kami.SubnetMetagraph, k int, exclude map[int64]struct{}, stakeCeiling float64) []int64 {
	if m == nil || k <= 0 {
		return []int64{}
	}

	candidates := make([]int64, 0, len(m.Hotkeys))
	for uid := range m.Hotkeys {
		if _, skip := exclude[int64(uid)]; skip {
			continue
		}
		if Eligible(m, uid, stakeCeiling) {
			candidates = append(candidates, int64(uid))
		}
	}

	if len(candidates) <= k {
		return candidates
	}

	// Partial Fisher-Yates: after i swaps the first i entries are a
	// uniform sample without replacement.
	for i := 0; i < k; i++ {
		j := i + randomBelow(len(candidates)-i)
		candidates[i], candidates[j] = candidates[j], candidates[i]
	}
	return candidates[:k]
}

func randomBelow(n int) int {
	if n <= 1 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		log.Warn().Err(err).Msg("random source failed, sampling degrades to candidate order")
		return 0
	}
	return int(v.Int64())
}
