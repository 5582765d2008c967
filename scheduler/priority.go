package scheduler

import (
	"time"

	"github.com/mantlenetworkio/relayer/types"
)

// Dynamic weight adjustment. The stored priority class always remains the
// user's request; only the ordering weight moves.
const (
	ageBoostThreshold = 5 * time.Minute
	ageBoostFactor    = 1.2
	lowGasRatioBound  = 0.8
	lowGasBoostFactor = 1.05
)

// Factors feed the dynamic weight computation at admission and retry.
type Factors struct {
	// UserTierMultiplier scales the weight for privileged senders;
	// 1.0 is the neutral default.
	UserTierMultiplier float64
	// GasPriceRatio is the user's max fee relative to the oracle's
	// current recommendation. Zero means unknown.
	GasPriceRatio float64
}

// effectiveWeight computes the ordering weight of a job: the base class
// weight, boosted for old jobs, privileged users, and under-bidding
// intents that would otherwise starve.
func effectiveWeight(job *types.Job, now time.Time, factors Factors) float64 {
	weight := float64(job.Intent.Priority.Weight())

	if now.Sub(job.CreatedAt) > ageBoostThreshold {
		weight *= ageBoostFactor
	}
	if factors.UserTierMultiplier > 0 {
		weight *= factors.UserTierMultiplier
	}
	if factors.GasPriceRatio > 0 && factors.GasPriceRatio < lowGasRatioBound {
		weight *= lowGasBoostFactor
	}
	return weight
}
