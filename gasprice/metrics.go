package gasprice

import (
	"github.com/ethereum/go-ethereum/metrics"
)

var (
	maxFeeGauge = metrics.NewRegisteredGauge("relay/gas/maxfee", nil)
	tipGauge    = metrics.NewRegisteredGauge("relay/gas/tip", nil)
)
