package wallet

import (
	"github.com/ethereum/go-ethereum/metrics"
)

var (
	walletGauge      = metrics.NewRegisteredGauge("relay/wallet/total", nil)
	healthyGauge     = metrics.NewRegisteredGauge("relay/wallet/healthy", nil)
	lowBalanceGauge  = metrics.NewRegisteredGauge("relay/wallet/lowbalance", nil)
	acquireMeter     = metrics.NewRegisteredMeter("relay/wallet/acquire", nil)
	acquireFailMeter = metrics.NewRegisteredMeter("relay/wallet/acquire/fail", nil)
	successMeter     = metrics.NewRegisteredMeter("relay/wallet/success", nil)
	failureMeter     = metrics.NewRegisteredMeter("relay/wallet/failure", nil)
	rotationMeter    = metrics.NewRegisteredMeter("relay/wallet/rotation", nil)
	acquireTimer     = metrics.NewRegisteredTimer("relay/wallet/acquire/wait", nil)
)
