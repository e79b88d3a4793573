// Package scheduler provides block-height-driven triggers.
package scheduler

// BlockCadence tracks elapsed block height since its last trigger. It is
// the epoch primitive: Due reports strictly-greater elapsed height, so an
// interval of 100 fires at 101 blocks past the last mark, not at 100.
type BlockCadence struct {
	LastTriggerAtBlock int64
	Interval           int64
}

func NewBlockCadence(interval, startBlock int64) *BlockCadence {
	return &BlockCadence{
		LastTriggerAtBlock: startBlock,
		Interval:           interval,
	}
}

// Due reports whether the cadence has elapsed at the given block height.
func (c *BlockCadence) Due(currentBlock int64) bool {
	return currentBlock-c.LastTriggerAtBlock > c.Interval
}

// Mark records the trigger height. Callers mark at every boundary whether
// or not the boundary's work succeeded, so a failed commit is retried at
// the next full interval instead of every round.
func (c *BlockCadence) Mark(currentBlock int64) {
	c.LastTriggerAtBlock = currentBlock
}

// BlocksSince returns the elapsed height since the last trigger.
func (c *BlockCadence) BlocksSince(currentBlock int64) int64 {
	return currentBlock - c.LastTriggerAtBlock
}
