package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/plugwise/stick-go/node"
	"github.com/plugwise/stick-go/wire"
)

type noopSubmitter struct{}

func (noopSubmitter) Submit(string, wire.Frame, int, func(wire.Frame, error)) {}

// fakeSED is a minimal node.Node stand-in with a controllable
// LastUpdate/MaintenanceInterval, used to exercise checkSEDAvailability
// without waiting out a real maintenance window.
type fakeSED struct {
	mac        string
	available  bool
	lastUpdate time.Time
	interval   time.Duration
}

func (n *fakeSED) MAC() string                        { return n.mac }
func (n *fakeSED) Available() bool                    { return n.available }
func (n *fakeSED) SetAvailable(v bool)                { n.available = v }
func (n *fakeSED) LastUpdate() time.Time              { return n.lastUpdate }
func (n *fakeSED) BatteryPowered() bool               { return true }
func (n *fakeSED) MeasuresPower() bool                { return false }
func (n *fakeSED) MaintenanceInterval() time.Duration { return n.interval }
func (n *fakeSED) Type() wire.NodeType                { return wire.NodeTypeSense }
func (n *fakeSED) MessageForNode(wire.Frame)          {}
func (n *fakeSED) RequestPing(context.Context) error      { return nil }
func (n *fakeSED) UpdatePowerUsage(context.Context) error { return nil }
func (n *fakeSED) SyncClock(context.Context) error        { return nil }
func (n *fakeSED) ScanForNodes(context.Context) error     { return nil }
func (n *fakeSED) SetRelay(context.Context, bool) error   { return nil }

var _ node.Node = (*fakeSED)(nil)

func TestUpdaterLeavesFreshSEDAvailable(t *testing.T) {
	n := node.New("0123456789ABCDEF", wire.NodeTypeScan, noopSubmitter{})
	n.SetAvailable(true)

	u := NewUpdater(
		func() time.Duration { return time.Millisecond },
		func() []node.Node { return []node.Node{n} },
		func() []string { return nil },
		func(context.Context, string) error { return nil },
		nil,
	)

	u.checkSEDAvailability(n)
	require.True(t, n.Available(), "a node updated moments ago should not be aged out yet")
}

func TestCheckSEDAvailabilityUsesPerNodeMaintenanceInterval(t *testing.T) {
	u := NewUpdater(
		func() time.Duration { return time.Millisecond },
		func() []node.Node { return nil },
		func() []string { return nil },
		func(context.Context, string) error { return nil },
		nil,
	)

	// Sense node: maintenance interval 60min, so 61 minutes of silence
	// exceeds maintenance_interval+1min and should age it out.
	sense := &fakeSED{mac: "sense", available: true, lastUpdate: time.Now().Add(-61 * time.Minute), interval: 60 * time.Minute}
	u.checkSEDAvailability(sense)
	require.False(t, sense.available, "sense node silent for 61min (interval 60min) should be aged out")

	// Scan node: maintenance interval 24h. The same 61-minute silence
	// that ages out a Sense node must NOT age out a Scan node — the
	// fixed 2h constant this replaces would have wrongly left both
	// alone, masking exactly this difference.
	scan := &fakeSED{mac: "scan", available: true, lastUpdate: time.Now().Add(-61 * time.Minute), interval: 24 * time.Hour}
	u.checkSEDAvailability(scan)
	require.True(t, scan.available, "scan node silent for 61min (interval 24h) should still be available")
}

func TestUpdaterPingsNotDiscoveredEveryTenthCycle(t *testing.T) {
	var pinged []string
	u := NewUpdater(
		func() time.Duration { return time.Millisecond },
		func() []node.Node { return nil },
		func() []string { return []string{"AAAA"} },
		func(_ context.Context, mac string) error { pinged = append(pinged, mac); return nil },
		nil,
	)

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		u.cycleOnce(ctx)
	}
	require.Equal(t, []string{"AAAA"}, pinged)
}
