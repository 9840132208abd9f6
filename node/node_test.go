package node

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/plugwise/stick-go/errs"
	"github.com/plugwise/stick-go/wire"
)

// stubSubmitter immediately invokes the result callback with whatever
// response/err the test configured for the next call, recording the
// frame it was asked to send.
type stubSubmitter struct {
	lastFrame wire.Frame
	respond   func(wire.Frame) (wire.Frame, error)
}

func (s *stubSubmitter) Submit(mac string, f wire.Frame, priority int, result func(wire.Frame, error)) {
	s.lastFrame = f
	resp, err := s.respond(f)
	result(resp, err)
}

func TestRequestPingMarksAvailable(t *testing.T) {
	sub := &stubSubmitter{respond: func(f wire.Frame) (wire.Frame, error) {
		return wire.Frame{CmdID: wire.CmdNodePingResponse, SeqID: f.SeqID, MAC: f.MAC, Payload: []byte{0, 10, 1, 1}}, nil
	}}
	n := New("0123456789ABCDEF", wire.NodeTypeScan, sub)

	require.False(t, n.Available())
	err := n.RequestPing(context.Background())
	require.NoError(t, err)
	require.True(t, n.Available())
}

func TestUnsupportedNodeRejectsFeatureCalls(t *testing.T) {
	sub := &stubSubmitter{respond: func(f wire.Frame) (wire.Frame, error) { return wire.Frame{}, nil }}
	n := New("0123456789ABCDEF", wire.NodeTypeSwitch, sub)

	err := n.UpdatePowerUsage(context.Background())
	require.True(t, errors.Is(err, errs.NotSupported))

	err = n.ScanForNodes(context.Background())
	require.True(t, errors.Is(err, errs.NotSupported))
}

func TestCircleNodeSetRelay(t *testing.T) {
	sub := &stubSubmitter{respond: func(f wire.Frame) (wire.Frame, error) {
		return wire.Frame{CmdID: wire.CmdNodeAckResponse, SeqID: f.SeqID, MAC: f.MAC, Payload: []byte{0, 0}}, nil
	}}
	n := New("0123456789ABCDEF", wire.NodeTypeCircle, sub)
	circle, ok := n.(*CircleNode)
	require.True(t, ok)

	require.False(t, circle.RelayState())
	require.NoError(t, circle.SetRelay(context.Background(), true))
	require.True(t, circle.RelayState())
	require.Equal(t, wire.CmdCircleSwitchRelayRequest, sub.lastFrame.CmdID)
}

func TestCirclePlusScanForNodesPopulatesAssociationTable(t *testing.T) {
	sub := &stubSubmitter{respond: func(f wire.Frame) (wire.Frame, error) {
		// Echo back the requested slot index with an empty (unoccupied) MAC.
		index := f.Payload[0]
		payload := append([]byte{index}, make([]byte, 8)...)
		return wire.Frame{CmdID: wire.CmdCircleScanResponse, SeqID: f.SeqID, Payload: payload}, nil
	}}
	n := New("AAAAAAAAAAAAAAAA", wire.NodeTypeCirclePlus, sub)
	cp, ok := n.(*CirclePlusNode)
	require.True(t, ok)

	require.NoError(t, cp.ScanForNodes(context.Background()))
	require.Len(t, cp.AssociationTable(), 64)
}
