package scheduler

import (
	"github.com/ethereum/go-ethereum/metrics"
)

var (
	queueDepthGauge   = metrics.NewRegisteredGauge("relay/sched/depth", nil)
	processingGauge   = metrics.NewRegisteredGauge("relay/sched/processing", nil)
	scheduledMeter    = metrics.NewRegisteredMeter("relay/sched/scheduled", nil)
	completedMeter    = metrics.NewRegisteredMeter("relay/sched/completed", nil)
	failedMeter       = metrics.NewRegisteredMeter("relay/sched/failed", nil)
	retryMeter        = metrics.NewRegisteredMeter("relay/sched/retry", nil)
	cancelledMeter    = metrics.NewRegisteredMeter("relay/sched/cancelled", nil)
	queueFullMeter    = metrics.NewRegisteredMeter("relay/sched/queuefull", nil)
	backpressureMeter = metrics.NewRegisteredMeter("relay/sched/backpressure", nil)
	executeTimer      = metrics.NewRegisteredTimer("relay/sched/execute", nil)
)
