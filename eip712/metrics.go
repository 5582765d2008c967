package eip712

import (
	"github.com/ethereum/go-ethereum/metrics"
)

var (
	verifiedMeter = metrics.NewRegisteredMeter("relay/sig/verified", nil)
	rejectedMeter = metrics.NewRegisteredMeter("relay/sig/rejected", nil)
)
