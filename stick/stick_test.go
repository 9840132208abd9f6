package stick

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/plugwise/stick-go/config"
	"github.com/plugwise/stick-go/controller"
	"github.com/plugwise/stick-go/internal/faketransport"
	"github.com/plugwise/stick-go/registry"
	"github.com/plugwise/stick-go/wire"
)

const circlePlusMAC = "00456789ABCDEF01"
const reportedStickMAC = "AB456789ABCDEF01"

func newTestStick(t *testing.T) (*Stick, *faketransport.Sender) {
	t.Helper()
	s := New("/dev/ttyUSB0", WithConfig(func() config.Config {
		c := config.Default()
		c.MessageTimeout = 50 * time.Millisecond
		c.MessageRetry = 2
		return c
	}()))
	s.reg = registry.New()
	sender := &faketransport.Sender{}
	s.ctrl = controller.New(sender, &dispatcherAdapter{reg: s.reg, s: s}, s.cfg, s.logger)
	sender.Ctrl = s.ctrl
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	s.ctx = ctx
	s.cancel = cancel
	go s.ctrl.RunSendWorker(ctx)
	go s.ctrl.RunTimeoutScanner(ctx)
	return s, sender
}

func TestColdStartDiscoversCirclePlusAndOneNode(t *testing.T) {
	s, sender := newTestStick(t)

	circleMAC := "1111111111111111"
	sender.Responder = func(f wire.Frame) (wire.Frame, bool) {
		switch f.CmdID {
		case wire.CmdStickInitRequest:
			payload := append([]byte{1, 1, 0, 0}, macBytes(reportedStickMAC)...)
			return wire.Frame{CmdID: wire.CmdStickInitResponse, Payload: payload}, true
		case wire.CmdNodeInfoRequest:
			if f.MAC == circlePlusMAC {
				return wire.Frame{CmdID: wire.CmdNodeInfoResponse, MAC: f.MAC, Payload: []byte{byte(wire.NodeTypeCirclePlus), 1, 0, 0, 0, 0, 0}}, true
			}
			return wire.Frame{CmdID: wire.CmdNodeInfoResponse, MAC: f.MAC, Payload: []byte{byte(wire.NodeTypeCircle), 1, 0, 0, 0, 0, 0}}, true
		case wire.CmdCircleScanRequest:
			idx := f.Payload[0]
			payload := []byte{idx}
			if idx == 0 {
				payload = append(payload, macBytes(circleMAC)...)
			} else {
				payload = append(payload, make([]byte, 8)...)
			}
			return wire.Frame{CmdID: wire.CmdCircleScanResponse, Payload: payload}, true
		}
		return wire.Frame{}, false
	}

	require.NoError(t, s.InitializeStick(context.Background()))
	require.Equal(t, circlePlusMAC, s.MAC())

	require.NoError(t, s.InitializeCirclePlus(context.Background()))
	require.Equal(t, 1, s.JoinedNodes())

	require.NoError(t, s.Scan(context.Background()))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.reg.Knows(circleMAC) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, s.reg.Knows(circleMAC))
	require.Equal(t, 2, s.JoinedNodes())
}

// TestJoinedNodesCountsSleepyMemberThatNeverAnswers covers the scenario
// where a Circle+ association slot names a node that never answers its
// NodeInfoRequest (e.g. a sleepy battery node asleep at scan time).
// joined_nodes must still count it, per stick.py:255's
// self._joined_nodes = len(nodes_to_discover), set from the membership
// table rather than from which members actually respond.
func TestJoinedNodesCountsSleepyMemberThatNeverAnswers(t *testing.T) {
	s, sender := newTestStick(t)

	circleMAC := "1111111111111111"
	sleepyMAC := "2222222222222222"
	sender.Responder = func(f wire.Frame) (wire.Frame, bool) {
		switch f.CmdID {
		case wire.CmdStickInitRequest:
			payload := append([]byte{1, 1, 0, 0}, macBytes(reportedStickMAC)...)
			return wire.Frame{CmdID: wire.CmdStickInitResponse, Payload: payload}, true
		case wire.CmdNodeInfoRequest:
			if f.MAC == circlePlusMAC {
				return wire.Frame{CmdID: wire.CmdNodeInfoResponse, MAC: f.MAC, Payload: []byte{byte(wire.NodeTypeCirclePlus), 1, 0, 0, 0, 0, 0}}, true
			}
			if f.MAC == sleepyMAC {
				return wire.Frame{}, false // never answers
			}
			return wire.Frame{CmdID: wire.CmdNodeInfoResponse, MAC: f.MAC, Payload: []byte{byte(wire.NodeTypeCircle), 1, 0, 0, 0, 0, 0}}, true
		case wire.CmdCircleScanRequest:
			idx := f.Payload[0]
			payload := []byte{idx}
			switch idx {
			case 0:
				payload = append(payload, macBytes(circleMAC)...)
			case 1:
				payload = append(payload, macBytes(sleepyMAC)...)
			default:
				payload = append(payload, make([]byte, 8)...)
			}
			return wire.Frame{CmdID: wire.CmdCircleScanResponse, Payload: payload}, true
		}
		return wire.Frame{}, false
	}

	require.NoError(t, s.InitializeStick(context.Background()))
	require.NoError(t, s.InitializeCirclePlus(context.Background()))
	require.NoError(t, s.Scan(context.Background()))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.reg.Knows(circleMAC) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, s.reg.Knows(circleMAC))
	require.False(t, s.reg.Knows(sleepyMAC), "sleepy node never answers so it never gets a Node value")
	require.Equal(t, 3, s.JoinedNodes(), "membership table reports two members, plus the coordinator")
}

// TestHandleJoinRequestFiresCallbackEvenWhenJoinAcceptanceDisabled
// covers join-gating: disabling acceptance must not silence the
// CB_JOIN_REQUEST-equivalent callback, only suppress auto-accept.
func TestHandleJoinRequestFiresCallbackEvenWhenJoinAcceptanceDisabled(t *testing.T) {
	s, _ := newTestStick(t)
	s.AllowJoinRequests(false, false)

	fired := make(chan string, 1)
	s.SubscribeStickCallback(CallbackJoinRequest, func(mac string) { fired <- mac })

	s.handleJoinRequest("3333333333333333")

	select {
	case mac := <-fired:
		require.Equal(t, "3333333333333333", mac)
	case <-time.After(time.Second):
		t.Fatal("CallbackJoinRequest was never fired despite join acceptance being disabled")
	}
}

// TestDisconnectClearsContextSoConnectCanReopen covers the reconnect
// path: Disconnect must reset s.ctx/s.cancel to nil, or a later Connect
// call sees s.ctx != nil and permanently refuses to reopen.
func TestDisconnectClearsContextSoConnectCanReopen(t *testing.T) {
	s := New("/dev/ttyUSB0")
	s.ctx, s.cancel = context.WithCancel(context.Background())

	require.NoError(t, s.Disconnect())

	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()
	require.Nil(t, ctx, "Disconnect must clear ctx so a later Connect doesn't see it as already connected")
}

func macBytes(mac string) []byte {
	out := make([]byte, len(mac)/2)
	for i := range out {
		hi := hexDigit(mac[i*2])
		lo := hexDigit(mac[i*2+1])
		out[i] = hi<<4 | lo
	}
	return out
}

func hexDigit(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return 0
	}
}
