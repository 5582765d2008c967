package executor

import (
	"github.com/ethereum/go-ethereum/metrics"
)

var (
	submittedMeter    = metrics.NewRegisteredMeter("relay/exec/submitted", nil)
	substitutionMeter = metrics.NewRegisteredMeter("relay/exec/gassubstituted", nil)
	submitTimer       = metrics.NewRegisteredTimer("relay/exec/submit", nil)
)
