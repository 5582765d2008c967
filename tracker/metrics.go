package tracker

import (
	"github.com/ethereum/go-ethereum/metrics"
)

var (
	pendingGauge   = metrics.NewRegisteredGauge("relay/track/pending", nil)
	pollMeter      = metrics.NewRegisteredMeter("relay/track/polls", nil)
	confirmedMeter = metrics.NewRegisteredMeter("relay/track/confirmed", nil)
	revertedMeter  = metrics.NewRegisteredMeter("relay/track/reverted", nil)
	droppedMeter   = metrics.NewRegisteredMeter("relay/track/dropped", nil)
)
