package metrics

import "time"

// EngineStats is satisfied by the storage engine. It reports the counters
// the collector needs without metrics importing pkg/engine directly.
type EngineStats interface {
	LastCommitOffset() uint64
	RowCounts() map[string]uint64
}

// HostStats is satisfied by the module host controller.
type HostStats interface {
	ActiveModules() int
	EnergyBalance() int64
}

// SchedulerStats is satisfied by the reducer scheduler.
type SchedulerStats interface {
	QueueDepth() int
}

// BroadcastStats is satisfied by the subscription broadcaster.
type BroadcastStats interface {
	SubscriberCount() int
}

// Collector periodically samples a replica's subsystems and publishes the
// results as Prometheus gauges. Counters and histograms (commits,
// conflicts, reducer calls) are updated inline by the subsystems that
// produce them; Collector only handles the metrics that must be polled.
type Collector struct {
	engine     EngineStats
	host       HostStats
	scheduler  SchedulerStats
	broadcast  BroadcastStats
	interval   time.Duration
	stopCh     chan struct{}
}

// NewCollector builds a collector over whichever subsystems are available.
// Any argument may be nil; a nil subsystem is simply skipped each tick.
func NewCollector(engine EngineStats, host HostStats, scheduler SchedulerStats, broadcast BroadcastStats) *Collector {
	return &Collector{
		engine:    engine,
		host:      host,
		scheduler: scheduler,
		broadcast: broadcast,
		interval:  15 * time.Second,
		stopCh:    make(chan struct{}),
	}
}

// Start begins collecting metrics on a background ticker.
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectEngineMetrics()
	c.collectHostMetrics()
	c.collectSchedulerMetrics()
	c.collectBroadcastMetrics()
}

func (c *Collector) collectEngineMetrics() {
	if c.engine == nil {
		return
	}
	CommitLogOffset.Set(float64(c.engine.LastCommitOffset()))
	for table, count := range c.engine.RowCounts() {
		RowCount.WithLabelValues(table).Set(float64(count))
	}
}

func (c *Collector) collectHostMetrics() {
	if c.host == nil {
		return
	}
	ActiveModulesTotal.Set(float64(c.host.ActiveModules()))
	EnergyBalance.Set(float64(c.host.EnergyBalance()))
}

func (c *Collector) collectSchedulerMetrics() {
	if c.scheduler == nil {
		return
	}
	SchedulerQueueDepth.Set(float64(c.scheduler.QueueDepth()))
}

func (c *Collector) collectBroadcastMetrics() {
	if c.broadcast == nil {
		return
	}
	SubscribersTotal.Set(float64(c.broadcast.SubscriberCount()))
}
