package wallet

import (
	"fmt"
)

// Strategy selects which healthy idle wallet serves the next lease.
type Strategy string

const (
	StrategyRoundRobin      Strategy = "round-robin"      // oldest last-used first
	StrategyLeastUsed       Strategy = "least-used"       // fewest total transactions first
	StrategyBestPerformance Strategy = "best-performance" // highest success rate first
	StrategyRandom          Strategy = "random"
)

// ParseStrategy converts the config form into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyRoundRobin, StrategyLeastUsed, StrategyBestPerformance, StrategyRandom:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown wallet strategy %q", s)
}
