package replay

import (
	"github.com/ethereum/go-ethereum/metrics"
)

var (
	recordedMeter = metrics.NewRegisteredMeter("relay/replay/recorded", nil)
	replayMeter   = metrics.NewRegisteredMeter("relay/replay/rejected", nil)
	windowGauge   = metrics.NewRegisteredGauge("relay/replay/window", nil)
)
