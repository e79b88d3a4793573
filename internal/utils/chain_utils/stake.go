// Package chainutils contains chain-side helpers shared by the validator.
package chainutils

// EffectiveStake combines alpha stake with root stake at the network's
// root-weight discount. Used as the stake measure for sampler eligibility.
func EffectiveStake(alphaStake, rootStake float64) float64 {
	return alphaStake + rootStake*0.18
}
