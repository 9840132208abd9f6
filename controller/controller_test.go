package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/plugwise/stick-go/config"
	"github.com/plugwise/stick-go/errs"
	"github.com/plugwise/stick-go/wire"
)

// fakeSender records every frame it's asked to send and lets the test
// decide whether/when to simulate a reply by decoding the frame back
// out of the raw bytes.
type fakeSender struct {
	mu  sync.Mutex
	out [][]byte
	onSend func([]byte)
}

func (f *fakeSender) Send(data []byte) error {
	f.mu.Lock()
	f.out = append(f.out, data)
	cb := f.onSend
	f.mu.Unlock()
	if cb != nil {
		cb(data)
	}
	return nil
}

func (f *fakeSender) last() wire.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw := f.out[len(f.out)-1]
	fr, _ := wire.Decode(raw)
	return fr
}

type fakeDispatcher struct {
	mu        sync.Mutex
	known     map[string]bool
	unknownCh chan string
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{known: make(map[string]bool), unknownCh: make(chan string, 8)}
}

func (d *fakeDispatcher) Knows(mac string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.known[mac]
}
func (d *fakeDispatcher) Dispatch(mac string, f wire.Frame) {}
func (d *fakeDispatcher) Unknown(mac string)                { d.unknownCh <- mac }

func testConfig() config.Config {
	cfg := config.Default()
	cfg.MessageTimeout = 50 * time.Millisecond
	cfg.MessageRetry = 2
	return cfg
}

func TestSubmitSucceedsOnDirectResponse(t *testing.T) {
	sender := &fakeSender{}
	disp := newFakeDispatcher()
	c := New(sender, disp, testConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.RunSendWorker(ctx)

	mac := "0123456789ABCDEF"
	var gotErr error
	var gotFrame wire.Frame
	done := make(chan struct{})

	sender.onSend = func(raw []byte) {
		f, err := wire.Decode(raw)
		require.NoError(t, err)
		resp := wire.Frame{CmdID: wire.CmdNodeInfoResponse, SeqID: f.SeqID, MAC: mac, Payload: []byte{0x01, 0x01, 0x00, 0, 0, 0, 0}}
		c.HandleFrame(resp)
	}

	c.Submit(mac, wire.EncodeNodeInfoRequest(0, mac), 0, func(f wire.Frame, err error) {
		gotFrame, gotErr = f, err
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}
	require.NoError(t, gotErr)
	require.Equal(t, wire.CmdNodeInfoResponse, gotFrame.CmdID)
}

func TestSubmitRetriesThenFails(t *testing.T) {
	sender := &fakeSender{}
	disp := newFakeDispatcher()
	cfg := testConfig()
	c := New(sender, disp, cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.RunSendWorker(ctx)
	go c.RunTimeoutScanner(ctx)

	mac := "0123456789ABCDEF"
	done := make(chan error, 1)
	c.Submit(mac, wire.EncodeNodeInfoRequest(0, mac), 0, func(f wire.Frame, err error) {
		done <- err
	})

	select {
	case err := <-done:
		require.Error(t, err)
		require.True(t, errors.Is(err, errs.TimeoutException))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for failure result")
	}

	sender.mu.Lock()
	attempts := len(sender.out)
	sender.mu.Unlock()
	require.Equal(t, cfg.MessageRetry, attempts)
}

// TestScanOnceDoesNotRefailAResponseThatRacedTheTimeoutScan reproduces
// the race where HandleFrame resolves a request concurrently with
// RunTimeoutScanner having already collected it as expired. scanOnce
// must re-check the pending table under lock before failing/retrying,
// the same way HandleFrame's ack path re-checks before mutating state,
// or the result callback fires twice.
func TestScanOnceDoesNotRefailAResponseThatRacedTheTimeoutScan(t *testing.T) {
	sender := &fakeSender{}
	disp := newFakeDispatcher()
	c := New(sender, disp, testConfig(), nil)

	mac := "0123456789ABCDEF"
	var calls int
	var lastErr error
	c.Submit(mac, wire.EncodeNodeInfoRequest(0, mac), 0, func(f wire.Frame, err error) {
		calls++
		lastErr = err
	})

	c.mu.Lock()
	var req *pendingRequest
	for _, r := range c.pending {
		req = r
	}
	req.deadline = time.Now().Add(-time.Minute) // already expired
	c.mu.Unlock()

	// Simulate HandleFrame resolving the request (a real response won
	// the race against the timeout scan) before scanOnce gets to it.
	resp := wire.Frame{CmdID: wire.CmdNodeInfoResponse, SeqID: req.seqID, MAC: mac, Payload: []byte{0x01, 0x01, 0x00, 0, 0, 0, 0}}
	c.HandleFrame(resp)
	require.Equal(t, 1, calls)

	c.scanOnce(time.Now())

	require.Equal(t, 1, calls, "scanOnce must not re-invoke the result callback for a request already resolved by HandleFrame")
	require.NoError(t, lastErr)
}

func TestUnknownSenderIsParkedAndReplayed(t *testing.T) {
	sender := &fakeSender{}
	disp := newFakeDispatcher()
	c := New(sender, disp, testConfig(), nil)

	mac := "FEDCBA9876543210"
	frame := wire.Frame{CmdID: wire.CmdNodePingResponse, SeqID: 999, MAC: mac, Payload: []byte{0, 0, 0, 0}}
	c.HandleFrame(frame)

	select {
	case got := <-disp.unknownCh:
		require.Equal(t, mac, got)
	case <-time.After(time.Second):
		t.Fatal("dispatcher.Unknown was never called")
	}

	disp.mu.Lock()
	disp.known[mac] = true
	disp.mu.Unlock()

	// Replay should not panic and should drain the parked frame; no
	// observable side effect beyond that with this fake dispatcher.
	c.Replay(mac)
}
