// Package serialport owns the physical link to the Plugwise stick: a
// single serial port opened once, a reader worker that turns the byte
// stream into complete wire.Frame values, and a writer worker that
// paces outgoing frames with the minimum inter-frame gap the stick
// needs to keep up. It is the Go analogue of the teacher's
// pkg/transport connection+framing pair, adapted from a length-prefixed
// TLS stream to a marker-delimited serial one.
package serialport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/plugwise/stick-go/errs"
	"github.com/plugwise/stick-go/plog"
	"github.com/plugwise/stick-go/wire"
)

// interFrameGap is the minimum pause between two frames written to the
// stick. The stick's own serial buffer cannot keep up with back-to-back
// writes; this value is small enough not to matter for request
// latency but large enough that bursts of retries don't starve it.
const interFrameGap = 25 * time.Millisecond

const defaultBaud = 115200

// Handler receives events from a Connection's background reader.
type Handler interface {
	OnFrame(wire.Frame)
	OnError(error)
}

// Connection owns one open serial port plus its reader and writer
// goroutines. Close is idempotent; Open on an open Connection returns
// errs.AlreadyConnected; Send is non-blocking.
type Connection struct {
	portName string
	handler  Handler
	logger   plog.Logger

	state atomic.Int32

	mu   sync.Mutex
	port serial.Port

	sendCh chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// New constructs a Connection for portName. Open() must be called
// before Send/frames start flowing.
func New(portName string, handler Handler, logger plog.Logger) *Connection {
	if logger == nil {
		logger = plog.NoopLogger{}
	}
	return &Connection{portName: portName, handler: handler, logger: logger, sendCh: make(chan []byte, 32)}
}

// Open opens the serial port and starts the reader and writer workers.
// Calling Open on an already-open Connection returns errs.AlreadyConnected.
func (c *Connection) Open(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return errs.AlreadyConnected
	}

	mode := &serial.Mode{BaudRate: defaultBaud, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit}
	port, err := serial.Open(c.portName, mode)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		return fmt.Errorf("%w: opening %s: %v", errs.PortError, c.portName, err)
	}

	c.mu.Lock()
	c.port = port
	c.mu.Unlock()

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.state.Store(int32(StateConnected))

	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()
	return nil
}

// IsConnected reports whether the port is open and the workers are
// running.
func (c *Connection) IsConnected() bool {
	return State(c.state.Load()) == StateConnected
}

// Send enqueues data for the writer worker. Non-blocking: if the send
// queue is full the caller receives an error rather than stalling,
// matching the controller's non-blocking submit contract.
func (c *Connection) Send(data []byte) error {
	if !c.IsConnected() {
		return errs.NotConnected
	}
	select {
	case c.sendCh <- data:
		return nil
	default:
		return fmt.Errorf("%w: send queue full", errs.PortError)
	}
}

// Close idempotently stops the workers and closes the port.
func (c *Connection) Close() error {
	var closeErr error
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		if c.cancel != nil {
			c.cancel()
		}
		// Closing the port unblocks a reader waiting in port.Read, so it
		// happens before waiting for the workers.
		c.mu.Lock()
		if c.port != nil {
			closeErr = c.port.Close()
		}
		c.mu.Unlock()

		c.wg.Wait()

		c.state.Store(int32(StateDisconnected))
	})
	return closeErr
}

func (c *Connection) readLoop() {
	defer c.wg.Done()
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 1024)
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		port := c.port
		c.mu.Unlock()
		if port == nil {
			return
		}

		n, err := port.Read(chunk)
		if err != nil {
			select {
			case <-c.ctx.Done():
				return
			default:
			}
			c.handler.OnError(fmt.Errorf("%w: read: %v", errs.PortError, err))
			return
		}
		if n == 0 {
			continue
		}
		buf = append(buf, chunk[:n]...)

		for {
			frameBytes, rest, ok := wire.ScanFrame(buf)
			if !ok {
				buf = rest
				break
			}
			buf = rest
			f, err := wire.Decode(frameBytes)
			if err != nil {
				c.logger.Log(plog.Event{
					Layer: plog.LayerSerial, Category: plog.CategoryError,
					Error: &plog.ErrorEvent{Layer: plog.LayerSerial, Message: err.Error()},
				})
				continue
			}
			c.logger.Log(plog.Event{
				Layer: plog.LayerSerial, Category: plog.CategoryFrame, Direction: plog.Inbound,
				Frame: &plog.FrameEvent{Size: len(frameBytes)},
			})
			c.handler.OnFrame(f)
		}
	}
}

func (c *Connection) writeLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.sendCh:
			c.mu.Lock()
			port := c.port
			c.mu.Unlock()
			if port == nil {
				return
			}
			if _, err := port.Write(data); err != nil {
				c.handler.OnError(fmt.Errorf("%w: write: %v", errs.PortError, err))
				continue
			}
			c.logger.Log(plog.Event{
				Layer: plog.LayerSerial, Category: plog.CategoryFrame, Direction: plog.Outbound,
				Frame: &plog.FrameEvent{Size: len(data)},
			})
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(interFrameGap):
			}
		}
	}
}
