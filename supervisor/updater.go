package supervisor

import (
	"context"
	"time"

	"github.com/plugwise/stick-go/node"
	"github.com/plugwise/stick-go/plog"
)

// discoveryPingEvery is how many updater cycles elapse between
// low-priority pings to not-yet-discovered MACs, matching the original
// firmware's once-per-ten-cycles cadence.
const discoveryPingEvery = 10

// Updater polls mains-powered nodes for liveness/power/clock, checks
// battery-powered nodes' last-seen age, and periodically nudges
// not-yet-discovered MACs. Grounded on
// original_source/plugwise/stick.py's _update_loop.
type Updater struct {
	interval func() time.Duration
	logger   plog.Logger

	nodes         func() []node.Node
	notDiscovered func() []string
	pingMAC       func(ctx context.Context, mac string) error

	cycle int
}

// NewUpdater constructs an Updater. interval is called each cycle so
// the caller can derive it from the live node count
// (config.Config.AutoUpdateInterval).
func NewUpdater(interval func() time.Duration, nodes func() []node.Node, notDiscovered func() []string, pingMAC func(ctx context.Context, mac string) error, logger plog.Logger) *Updater {
	if logger == nil {
		logger = plog.NoopLogger{}
	}
	return &Updater{interval: interval, logger: logger, nodes: nodes, notDiscovered: notDiscovered, pingMAC: pingMAC}
}

// Run loops until ctx is cancelled, waiting u.interval() between
// cycles (re-evaluated each time so the cadence adapts as nodes join).
func (u *Updater) Run(ctx context.Context) {
	for {
		wait := u.interval()
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		u.cycleOnce(ctx)
	}
}

func (u *Updater) cycleOnce(ctx context.Context) {
	u.cycle++

	for _, n := range u.nodes() {
		if n.BatteryPowered() {
			u.checkSEDAvailability(n)
			continue
		}
		if err := n.RequestPing(ctx); err != nil {
			u.logger.Log(plog.Event{Layer: plog.LayerUpdater, Category: plog.CategoryError,
				Error: &plog.ErrorEvent{Layer: plog.LayerUpdater, Message: err.Error(), Context: n.MAC()}})
			continue
		}
		if n.MeasuresPower() {
			_ = n.UpdatePowerUsage(ctx)
		}
		if u.cycle%dailyClockSyncCycles(u.interval()) == 0 {
			_ = n.SyncClock(ctx)
		}
	}

	if u.cycle%discoveryPingEvery == 0 {
		for _, mac := range u.notDiscovered() {
			_ = u.pingMAC(ctx, mac)
		}
	}
}

// checkSEDAvailability marks a battery-powered node unavailable once
// it has been silent for longer than its own maintenance interval plus
// a one-minute grace period, matching
// original_source/plugwise/stick.py:711-731's
// `last_update < now - timedelta(minutes=maintenance_interval + 1)`,
// evaluated per node rather than against one fixed age for every SED.
func (u *Updater) checkSEDAvailability(n node.Node) {
	maxAge := n.MaintenanceInterval() + time.Minute
	if time.Since(n.LastUpdate()) > maxAge && n.Available() {
		n.SetAvailable(false)
		u.logger.Log(plog.Event{
			Layer: plog.LayerUpdater, Category: plog.CategoryStateChange,
			StateChange: &plog.StateChangeEvent{Entity: n.MAC(), OldState: "available", NewState: "unavailable", Reason: "heartbeat age exceeded"},
		})
	}
}

// dailyClockSyncCycles returns how many updater cycles make up
// roughly 24 hours, so clock sync happens about once a day regardless
// of how the cycle interval scales with node count.
func dailyClockSyncCycles(interval time.Duration) int {
	if interval <= 0 {
		return 1
	}
	n := int(24 * time.Hour / interval)
	if n < 1 {
		return 1
	}
	return n
}
