// Package controller implements the message controller from the stick
// design: a pending-request table correlating acks and responses to
// submitted requests by sequence id, a retry state machine, a
// priority-ordered send path, and a parking queue for frames from
// not-yet-discovered senders. It is grounded on the teacher's
// pkg/interaction.Client (pending map + mutex + timeout select), with
// retries, priorities, and MAC-keyed dispatch added per this domain.
package controller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/plugwise/stick-go/config"
	"github.com/plugwise/stick-go/errs"
	"github.com/plugwise/stick-go/plog"
	"github.com/plugwise/stick-go/wire"
)

// Sender is the minimum interface the controller needs from the
// transport layer.
type Sender interface {
	Send([]byte) error
}

// Dispatcher routes an inbound frame that isn't an ack/response
// correlated to a pending request (node-initiated traffic, or a
// response whose sender the controller doesn't yet know about).
type Dispatcher interface {
	// Knows reports whether mac is a registered node.
	Knows(mac string) bool
	// Dispatch delivers a frame addressed to a known node.
	Dispatch(mac string, f wire.Frame)
	// Unknown is called for every frame that arrives from a MAC the
	// dispatcher doesn't recognize; the controller parks the frame and
	// expects the caller to discover the node and call Replay.
	Unknown(mac string)
}

// outbound is one item in the send worker's priority queue.
type outbound struct {
	priority int
	data     []byte
	seqID    uint16
}

// Controller owns the pending-request table and the send/receive
// worker loop state. It does not own the serial connection; it is
// handed a Sender and fed frames via HandleFrame.
type Controller struct {
	sender     Sender
	dispatcher Dispatcher
	cfg        config.Config
	logger     plog.Logger

	nextSeq atomic.Uint32

	mu      sync.Mutex
	pending map[uint16]*pendingRequest

	parkMu sync.Mutex
	parked map[string][]wire.Frame

	sendCh chan outbound
}

// New constructs a Controller. sender and dispatcher must be non-nil;
// logger may be nil (treated as plog.NoopLogger{}).
func New(sender Sender, dispatcher Dispatcher, cfg config.Config, logger plog.Logger) *Controller {
	if logger == nil {
		logger = plog.NoopLogger{}
	}
	return &Controller{
		sender:     sender,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
		pending:    make(map[uint16]*pendingRequest),
		parked:     make(map[string][]wire.Frame),
		sendCh:     make(chan outbound, 64),
	}
}

// Submit sends f (addressed to mac) and invokes result exactly once
// with the final response, or with errs.TimeoutException once retries
// are exhausted. priority -1 marks background/discovery traffic, which
// the send worker defers behind priority-0 requests.
func (c *Controller) Submit(mac string, f wire.Frame, priority int, result ResultFunc) {
	seqID := uint16(c.nextSeq.Add(1))
	f.SeqID = seqID

	req := &pendingRequest{
		seqID:    seqID,
		mac:      mac,
		frame:    f,
		priority: priority,
		state:    Submitted,
		attempt:  1,
		deadline: time.Now().Add(c.cfg.MessageTimeout),
		result:   result,
	}

	c.mu.Lock()
	c.pending[seqID] = req
	c.mu.Unlock()

	c.enqueue(req)
}

func (c *Controller) enqueue(req *pendingRequest) {
	c.logger.Log(plog.Event{
		Layer: plog.LayerController, Category: plog.CategoryRequest, Direction: plog.Outbound,
		Request: &plog.RequestEvent{SeqID: req.seqID, CmdID: uint16(req.frame.CmdID), MAC: req.mac, Attempt: req.attempt, Priority: req.priority},
	})
	select {
	case c.sendCh <- outbound{priority: req.priority, data: wire.Encode(req.frame), seqID: req.seqID}:
	default:
		// Send queue saturated: treat as an immediate timeout so the
		// caller doesn't wait forever on a request that was never
		// queued.
		c.fail(req.seqID, fmt.Errorf("%w: send queue full", errs.TimeoutException))
	}
}

// RunSendWorker drains the send queue, giving priority-0 (foreground)
// requests precedence over priority<0 (background discovery) ones. It
// runs until ctx is cancelled; the supervisor restarts it if it exits
// for any other reason.
func (c *Controller) RunSendWorker(ctx context.Context) {
	// A tiny two-level queue: foreground frames are sent as soon as
	// they arrive; background frames only go out when nothing
	// foreground is waiting. Channels alone can't express priority, so
	// we buffer background frames locally and prefer the channel's
	// natural FIFO for foreground ones.
	var low []outbound
	for {
		if len(low) > 0 {
			select {
			case <-ctx.Done():
				return
			case item := <-c.sendCh:
				c.route(item, &low)
			default:
				item := low[0]
				low = low[1:]
				c.send(item)
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		case item := <-c.sendCh:
			c.route(item, &low)
		}
	}
}

func (c *Controller) route(item outbound, low *[]outbound) {
	if item.priority < 0 {
		*low = append(*low, item)
		return
	}
	c.send(item)
}

func (c *Controller) send(item outbound) {
	if err := c.sender.Send(item.data); err != nil {
		c.fail(item.seqID, fmt.Errorf("%w: %v", errs.PortError, err))
	}
}

// RunTimeoutScanner periodically checks pending requests against their
// deadlines, retrying or failing expired ones. It runs until ctx is
// cancelled.
func (c *Controller) RunTimeoutScanner(ctx context.Context) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.scanOnce(now)
		}
	}
}

func (c *Controller) scanOnce(now time.Time) {
	var expired []*pendingRequest
	c.mu.Lock()
	for _, req := range c.pending {
		if (req.state == Submitted || req.state == AckedByStick) && now.After(req.deadline) {
			expired = append(expired, req)
		}
	}
	c.mu.Unlock()

	for _, req := range expired {
		c.mu.Lock()
		if cur, stillPending := c.pending[req.seqID]; !stillPending || cur != req {
			// A response or ack arrived and HandleFrame already
			// resolved this request between the collection pass above
			// and here; don't fail or retry a request that's already
			// done.
			c.mu.Unlock()
			continue
		}
		req.state = TimedOut
		if req.attempt >= c.cfg.MessageRetry {
			req.state = Failed
			delete(c.pending, req.seqID)
			c.mu.Unlock()
			c.logger.Log(plog.Event{
				Layer: plog.LayerController, Category: plog.CategoryRetry,
				Error: &plog.ErrorEvent{Layer: plog.LayerController, Message: "retries exhausted",
					Context: fmt.Sprintf("seq=%d cmd=%04X mac=%s attempts=%d", req.seqID, uint16(req.frame.CmdID), req.mac, req.attempt)},
			})
			req.result(wire.Frame{}, fmt.Errorf("%w: %s after %d attempts", errs.TimeoutException, req.mac, req.attempt))
			continue
		}
		// Retry with a fresh sequence id so a stray late reply to the
		// old id can't be misattributed to the new attempt.
		delete(c.pending, req.seqID)
		newSeq := uint16(c.nextSeq.Add(1))
		req.seqID = newSeq
		req.frame.SeqID = newSeq
		req.attempt++
		req.state = Submitted
		req.deadline = now.Add(c.cfg.MessageTimeout)
		c.pending[newSeq] = req
		c.mu.Unlock()

		c.logger.Log(plog.Event{
			Layer: plog.LayerController, Category: plog.CategoryRetry,
			Request: &plog.RequestEvent{SeqID: req.seqID, CmdID: uint16(req.frame.CmdID), MAC: req.mac, Attempt: req.attempt},
		})
		c.enqueue(req)
	}
}

func (c *Controller) fail(seqID uint16, err error) {
	c.mu.Lock()
	req, ok := c.pending[seqID]
	if ok {
		delete(c.pending, seqID)
	}
	c.mu.Unlock()
	if ok {
		req.state = Failed
		req.result(wire.Frame{}, err)
	}
}

// isAck reports whether cmd is a generic acknowledgement envelope
// rather than a final typed response.
func isAck(cmd wire.CmdID) bool {
	return cmd == wire.CmdNodeAckResponse || cmd == wire.CmdNodeAckLargeResponse
}

// HandleFrame is called by the serial connection's handler for every
// inbound frame. It first tries to correlate by sequence id (ack or
// final response to a pending request); frames that don't correlate
// are either unsolicited node traffic or responses from a MAC the
// caller hasn't discovered yet, and are routed to the Dispatcher.
func (c *Controller) HandleFrame(f wire.Frame) {
	c.mu.Lock()
	req, ok := c.pending[f.SeqID]
	c.mu.Unlock()

	if ok {
		if isAck(f.CmdID) {
			ack, err := wire.DecodeNodeAckResponse(f)
			c.mu.Lock()
			if cur, stillPending := c.pending[f.SeqID]; stillPending && cur == req {
				if err == nil && ack.Code.IsSuccess() {
					req.state = AckedByStick
					req.deadline = time.Now().Add(c.cfg.MessageTimeout)
				}
			}
			c.mu.Unlock()
			return
		}

		c.mu.Lock()
		if cur, stillPending := c.pending[f.SeqID]; !stillPending || cur != req {
			// scanOnce retried or failed this request after the lookup
			// above; the result belongs to that path now.
			c.mu.Unlock()
			return
		}
		delete(c.pending, f.SeqID)
		c.mu.Unlock()
		req.state = Responded
		req.result(f, nil)
		return
	}

	mac := f.MAC
	if mac == "" {
		return
	}
	if !c.dispatcher.Knows(mac) {
		c.park(mac, f)
		c.dispatcher.Unknown(mac)
		return
	}
	c.dispatcher.Dispatch(mac, f)
}

func (c *Controller) park(mac string, f wire.Frame) {
	c.parkMu.Lock()
	defer c.parkMu.Unlock()
	c.parked[mac] = append(c.parked[mac], f)
}

// Replay delivers and clears any frames parked for mac, in arrival
// order, once the caller has discovered that node. It is the
// controller half of the "unknown sender" flow described in the node
// registry's discovery handling.
func (c *Controller) Replay(mac string) {
	c.parkMu.Lock()
	frames := c.parked[mac]
	delete(c.parked, mac)
	c.parkMu.Unlock()

	for _, f := range frames {
		c.dispatcher.Dispatch(mac, f)
	}
}
