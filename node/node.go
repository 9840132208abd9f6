// Package node implements the per-MAC state objects the registry
// constructs: a common base (mac, address, availability, timestamps)
// plus per-hardware-variant behavior. It is grounded on the teacher's
// pkg/model device/feature layering (a typed container with shared
// base fields and table-driven per-capability dispatch), adapted here
// to the Plugwise node type table instead of MASH endpoint features.
package node

import (
	"context"
	"sync"
	"time"

	"github.com/plugwise/stick-go/errs"
	"github.com/plugwise/stick-go/wire"
)

// Submitter is the subset of the message controller a node needs: the
// ability to submit a request and receive its eventual result.
type Submitter interface {
	Submit(mac string, f wire.Frame, priority int, result func(wire.Frame, error))
}

// Node is the shared behavior every discovered node exposes. Variants
// that don't support an operation return errs.NotSupported.
type Node interface {
	MAC() string
	Available() bool
	SetAvailable(bool)
	LastUpdate() time.Time
	BatteryPowered() bool
	MeasuresPower() bool
	MaintenanceInterval() time.Duration
	Type() wire.NodeType

	// MessageForNode delivers a frame the registry has routed to this
	// node's MAC.
	MessageForNode(f wire.Frame)

	RequestPing(ctx context.Context) error
	UpdatePowerUsage(ctx context.Context) error
	SyncClock(ctx context.Context) error
	ScanForNodes(ctx context.Context) error
	SetRelay(ctx context.Context, on bool) error
}

// baseNode implements Node with every capability except RequestPing
// returning errs.NotSupported; RequestPing sends a real ping. Concrete
// variants embed it and override only what their hardware supports.
type baseNode struct {
	mu sync.RWMutex

	mac                  string
	address              uint8
	available            bool
	lastUpdate           time.Time
	batteryPowered       bool
	measuresPower        bool
	maintenanceInterval  time.Duration
	nodeType             wire.NodeType

	submitter Submitter
}

func newBaseNode(mac string, nodeType wire.NodeType, batteryPowered, measuresPower bool, maintenance time.Duration, submitter Submitter) baseNode {
	return baseNode{
		mac:                 mac,
		nodeType:            nodeType,
		batteryPowered:      batteryPowered,
		measuresPower:       measuresPower,
		maintenanceInterval: maintenance,
		submitter:           submitter,
	}
}

func (n *baseNode) MAC() string { return n.mac }

// Address returns the mesh network address last recorded by
// SetAddress, or zero if none has been recorded.
func (n *baseNode) Address() uint8 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.address
}

// SetAddress records the node's mesh network address.
func (n *baseNode) SetAddress(addr uint8) {
	n.mu.Lock()
	n.address = addr
	n.mu.Unlock()
}

func (n *baseNode) Available() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.available
}

func (n *baseNode) SetAvailable(available bool) {
	n.mu.Lock()
	n.available = available
	n.lastUpdate = time.Now()
	n.mu.Unlock()
}

func (n *baseNode) LastUpdate() time.Time {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lastUpdate
}

func (n *baseNode) BatteryPowered() bool          { return n.batteryPowered }
func (n *baseNode) MeasuresPower() bool           { return n.measuresPower }
func (n *baseNode) MaintenanceInterval() time.Duration { return n.maintenanceInterval }
func (n *baseNode) Type() wire.NodeType           { return n.nodeType }

func (n *baseNode) MessageForNode(wire.Frame) {}

func (n *baseNode) RequestPing(ctx context.Context) error {
	return n.pingVia(ctx)
}

func (n *baseNode) pingVia(ctx context.Context) error {
	done := make(chan error, 1)
	n.submitter.Submit(n.mac, wire.EncodeNodePingRequest(0, n.mac), 0, func(f wire.Frame, err error) {
		if err != nil {
			done <- err
			return
		}
		if _, err := wire.DecodeNodePingResponse(f); err != nil {
			done <- err
			return
		}
		n.SetAvailable(true)
		done <- nil
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (n *baseNode) UpdatePowerUsage(context.Context) error { return errs.NotSupported }
func (n *baseNode) SyncClock(context.Context) error        { return errs.NotSupported }
func (n *baseNode) ScanForNodes(context.Context) error      { return errs.NotSupported }
func (n *baseNode) SetRelay(context.Context, bool) error    { return errs.NotSupported }

var _ Node = (*baseNode)(nil)
