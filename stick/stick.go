// Package stick is the top-level façade: Stick ties the serial
// connection, message controller, node registry, and supervisors
// together and exposes the operations an application calls
// (Connect/InitializeStick/Scan/NodeJoin/...). Grounded directly on
// original_source/plugwise/stick.py's `stick` class — same method set,
// same properties, same initialization order — reimplemented as a Go
// struct with explicit context-carrying methods instead of Python's
// thread-per-worker model with implicit GIL-backed state.
package stick

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/plugwise/stick-go/config"
	"github.com/plugwise/stick-go/controller"
	"github.com/plugwise/stick-go/errs"
	"github.com/plugwise/stick-go/node"
	"github.com/plugwise/stick-go/plog"
	"github.com/plugwise/stick-go/registry"
	"github.com/plugwise/stick-go/serialport"
	"github.com/plugwise/stick-go/supervisor"
	"github.com/plugwise/stick-go/wire"
)

// Stick is the host-side controller for one Plugwise USB stick.
type Stick struct {
	port string
	cfg  config.Config

	logger    plog.Logger
	callbacks *callbackRegistry

	mu                   sync.RWMutex
	mac                  string
	circlePlusDiscovered bool
	allowJoining         bool
	autoAcceptJoining    bool

	serial *serialport.Connection
	ctrl   *controller.Controller
	reg    *registry.Registry

	watchdog *supervisor.Watchdog
	updater  *supervisor.Updater

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Stick bound to the given serial device path.
// Connect must be called before any other operation.
func New(port string, opts ...Option) *Stick {
	s := &Stick{
		port:      port,
		cfg:       config.Default(),
		logger:    plog.NoopLogger{},
		callbacks: newCallbackRegistry(),
		reg:       registry.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// dispatcherAdapter completes registry.Registry into a full
// controller.Dispatcher by adding the Unknown half: issuing a
// NodeInfoRequest for a MAC the registry has never seen. It is a small
// indirection rather than a method on Registry because discovering a
// node is an orchestrator-level policy (it needs to talk back to the
// controller), not something the registry itself should know how to do.
type dispatcherAdapter struct {
	reg *registry.Registry
	s   *Stick
}

func (d *dispatcherAdapter) Knows(mac string) bool          { return d.reg.Knows(mac) }
func (d *dispatcherAdapter) Dispatch(mac string, f wire.Frame) { d.reg.Dispatch(mac, f) }
func (d *dispatcherAdapter) Unknown(mac string) {
	d.s.reg.MarkToDiscover(mac)
	d.s.discoverNode(d.s.ctx, mac)
}

// Connect opens the serial port and starts the reader/writer, send
// worker, receive-timeout scanner, and watchdog. It does not speak to
// the stick yet; call InitializeStick next.
func (s *Stick) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.ctx != nil {
		s.mu.Unlock()
		return errs.AlreadyConnected
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.serial = serialport.New(s.port, &serialHandler{s: s}, s.logger)
	if err := s.serial.Open(s.ctx); err != nil {
		return err
	}

	s.ctrl = controller.New(s.serial, &dispatcherAdapter{reg: s.reg, s: s}, s.cfg, s.logger)

	s.watchdog = supervisor.NewWatchdog(s.cfg.WatchdogInterval, s.logger, s.circlePlusUp, s.rediscoverCirclePlus)
	s.watchdog.Supervise(s.ctx, &supervisor.Worker{Name: "send-worker", Run: s.ctrl.RunSendWorker})
	s.watchdog.Supervise(s.ctx, &supervisor.Worker{Name: "timeout-scanner", Run: s.ctrl.RunTimeoutScanner})
	go s.watchdog.Run(s.ctx)

	s.updater = supervisor.NewUpdater(s.autoUpdateInterval, s.reg.All, s.reg.ToDiscover, s.pingMACForDiscovery, s.logger)
	go s.updater.Run(s.ctx)

	return nil
}

// Disconnect idempotently tears down the serial connection and every
// supervised worker, leaving Stick ready for a later Connect call.
func (s *Stick) Disconnect() error {
	s.mu.Lock()
	cancel := s.cancel
	s.ctx, s.cancel = nil, nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if s.serial != nil {
		return s.serial.Close()
	}
	return nil
}

// InitializeStick sends the stick-init request and records the
// reported coordinator MAC. Raises errs.StickInitError if the stick
// never answers.
func (s *Stick) InitializeStick(ctx context.Context) error {
	result := make(chan error, 1)
	s.ctrl.Submit("", wire.EncodeStickInitRequest(0), 0, func(f wire.Frame, err error) {
		if err != nil {
			result <- fmt.Errorf("%w: %v", errs.StickInitError, err)
			return
		}
		resp, err := wire.DecodeStickInitResponse(f)
		if err != nil {
			result <- fmt.Errorf("%w: %v", errs.StickInitError, err)
			return
		}
		if !resp.Connected {
			result <- errs.StickInitError
			return
		}
		if !resp.NetworkOnline {
			result <- fmt.Errorf("%w: stick reports mesh offline", errs.NetworkDown)
			return
		}
		s.mu.Lock()
		s.mac = resp.CirclePlusMAC
		s.mu.Unlock()
		s.reg.SetCirclePlusMAC(resp.CirclePlusMAC)
		result <- nil
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-result:
		return err
	}
}

// InitializeCirclePlus requests NodeInfo for the coordinator MAC
// recorded by InitializeStick, registering it once it answers. Raises
// errs.CirclePlusError if the coordinator does not respond within
// timeout (retries exhausted) or its response can't be decoded, and
// fires CallbackNetworkDown in those cases. Returns errs.NetworkDown,
// without firing the callback, only when no coordinator MAC is known
// yet; the coordinator's own unresponsiveness is never NetworkDown.
func (s *Stick) InitializeCirclePlus(ctx context.Context) error {
	s.mu.RLock()
	mac := s.mac
	s.mu.RUnlock()
	if mac == "" {
		return fmt.Errorf("%w: no circle+ mac known, call InitializeStick first", errs.NetworkDown)
	}

	result := make(chan error, 1)
	s.ctrl.Submit(mac, wire.EncodeNodeInfoRequest(0, mac), 0, func(f wire.Frame, err error) {
		if err != nil {
			result <- fmt.Errorf("%w: coordinator did not respond within timeout: %v", errs.CirclePlusError, err)
			return
		}
		info, err := wire.DecodeNodeInfoResponse(f)
		if err != nil {
			result <- fmt.Errorf("%w: %v", errs.CirclePlusError, err)
			return
		}
		s.reg.Add(mac, info.NodeType, s)
		s.mu.Lock()
		s.circlePlusDiscovered = true
		s.mu.Unlock()
		result <- nil
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-result:
		if err != nil {
			s.callbacks.fire(CallbackNetworkDown, "")
		}
		return err
	}
}

// AutoInitialize chains Connect, InitializeStick, InitializeCirclePlus,
// and Scan behind one call, matching the original firmware's
// auto_initialize convenience wrapper.
func (s *Stick) AutoInitialize(ctx context.Context) error {
	if err := s.Connect(ctx); err != nil {
		return err
	}
	if err := s.InitializeStick(ctx); err != nil {
		return err
	}
	if err := s.InitializeCirclePlus(ctx); err != nil {
		return err
	}
	return s.Scan(ctx)
}

// Scan reads the Circle+'s association table and issues a NodeInfo
// request for every occupied slot not already registered. Each
// discovery round gets a correlation id so logs from concurrent
// discovery traffic can be grouped; scan_callback-equivalent
// notifications fire at most once per node per round, per the
// resolved race-condition design question.
func (s *Stick) Scan(ctx context.Context) error {
	s.mu.RLock()
	mac := s.mac
	s.mu.RUnlock()
	cp := s.reg.Get(mac)
	if cp == nil {
		return fmt.Errorf("%w: circle+ not yet discovered", errs.NetworkDown)
	}
	roundID := uuid.NewString()
	s.logger.Log(plog.Event{Layer: plog.LayerRegistry, Category: plog.CategoryStateChange, RoundID: roundID,
		StateChange: &plog.StateChangeEvent{Entity: mac, OldState: "scanning", NewState: "scanning"}})

	if err := cp.ScanForNodes(ctx); err != nil {
		return err
	}

	cpNode, ok := cp.(interface{ AssociationTable() map[uint8]string })
	if !ok {
		return nil
	}
	table := cpNode.AssociationTable()
	members := 0
	for _, mac := range table {
		if mac != "" {
			members++
		}
	}
	s.reg.SetMembershipTableSize(members)

	seen := make(map[string]bool, len(table))
	for _, mac := range table {
		if mac == "" || seen[mac] || s.reg.Knows(mac) {
			continue
		}
		seen[mac] = true
		s.reg.MarkToDiscover(mac)
		s.discoverNode(ctx, mac)
	}
	return nil
}

// discoverNode issues a NodeInfoRequest for mac and registers the
// result, replaying any frames the controller parked for it while it
// was unknown. Runs at background (-1) priority so it never starves
// foreground traffic, per the message controller's priority design.
func (s *Stick) discoverNode(ctx context.Context, mac string) {
	if ctx == nil {
		return
	}
	s.ctrl.Submit(mac, wire.EncodeNodeInfoRequest(0, mac), -1, func(f wire.Frame, err error) {
		if err != nil {
			s.reg.MarkDiscoveryFailed(mac)
			return
		}
		info, decErr := wire.DecodeNodeInfoResponse(f)
		if decErr != nil {
			s.reg.MarkDiscoveryFailed(mac)
			return
		}
		s.reg.Add(mac, info.NodeType, s)
		s.ctrl.Replay(mac)
		s.callbacks.fire(CallbackNodeDiscovered, mac)
	})
}

func (s *Stick) pingMACForDiscovery(ctx context.Context, mac string) error {
	s.discoverNode(ctx, mac)
	return nil
}

// Submit implements node.Submitter, letting node.Node implementations
// submit requests through the same controller the orchestrator uses.
func (s *Stick) Submit(mac string, f wire.Frame, priority int, result func(wire.Frame, error)) {
	s.ctrl.Submit(mac, f, priority, result)
}

func (s *Stick) circlePlusUp() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.circlePlusDiscovered
}

func (s *Stick) rediscoverCirclePlus(ctx context.Context) error {
	return s.InitializeCirclePlus(ctx)
}

func (s *Stick) autoUpdateInterval() time.Duration {
	return s.cfg.AutoUpdateInterval(len(s.reg.All()))
}

// NodeJoin accepts a pending join request for mac, or pre-authorizes a
// future one.
func (s *Stick) NodeJoin(mac string) error {
	result := make(chan error, 1)
	s.ctrl.Submit(mac, wire.EncodeNodeAddRequest(0, wire.NodeAddRequest{MAC: mac, Accept: true}), 0, func(f wire.Frame, err error) {
		result <- err
	})
	return <-result
}

// NodeUnjoin removes mac from the mesh and the local registry.
func (s *Stick) NodeUnjoin(mac string) error {
	result := make(chan error, 1)
	s.ctrl.Submit(mac, wire.EncodeNodeRemoveRequest(0, mac), 0, func(f wire.Frame, err error) {
		if err != nil {
			result <- err
			return
		}
		resp, decErr := wire.DecodeNodeRemoveResponse(f)
		if decErr != nil {
			result <- decErr
			return
		}
		if resp.Removed {
			s.reg.Remove(mac)
			s.callbacks.fire(CallbackNodeRemoved, mac)
		}
		result <- nil
	})
	return <-result
}

// AllowJoinRequests enables or disables accepting join requests from
// unrecognized nodes; autoAccept controls whether they're admitted
// automatically or surfaced via CallbackJoinRequest.
func (s *Stick) AllowJoinRequests(enable, autoAccept bool) {
	s.mu.Lock()
	s.allowJoining = enable
	s.autoAcceptJoining = autoAccept
	s.mu.Unlock()
	s.ctrl.Submit("", wire.EncodeNodeAllowJoiningRequest(0, enable), 0, func(wire.Frame, error) {})
}

// SubscribeStickCallback registers cb for events of type t.
func (s *Stick) SubscribeStickCallback(t CallbackType, cb StickCallback) {
	s.callbacks.subscribe(t, cb)
}

// UnsubscribeStickCallback removes a previously subscribed callback.
func (s *Stick) UnsubscribeStickCallback(t CallbackType, cb StickCallback) {
	s.callbacks.unsubscribe(t, cb)
}

// MAC returns the coordinator's MAC, or "" before InitializeStick
// completes.
func (s *Stick) MAC() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mac
}

// JoinedNodes returns the number of nodes currently joined to the
// network, coordinator included.
func (s *Stick) JoinedNodes() int { return s.reg.JoinedNodes() }

// DiscoveredNodes returns the MACs of every node this process has
// identified.
func (s *Stick) DiscoveredNodes() []string { return s.reg.DiscoveredNodes() }

// Node returns the node for mac, or nil if it isn't registered.
func (s *Stick) Node(mac string) node.Node { return s.reg.Get(mac) }

// AutoUpdate forces the updater's cycle interval rather than deriving
// it from the node count. A value of zero or less returns to the
// node-count-derived default.
func (s *Stick) AutoUpdate(seconds int) {
	s.cfg.AutoUpdateTimer = time.Duration(seconds) * time.Second
}

// RegisteredNodesDeprecated is kept for callers migrating from the
// original firmware's registered_nodes() accessor.
func (s *Stick) RegisteredNodesDeprecated() int {
	slog.Warn("stick: RegisteredNodesDeprecated is deprecated, use JoinedNodes")
	return s.JoinedNodes()
}

// NodesDeprecated is kept for callers migrating from the original
// firmware's nodes() accessor.
func (s *Stick) NodesDeprecated() []string {
	slog.Warn("stick: NodesDeprecated is deprecated, use DiscoveredNodes")
	return s.DiscoveredNodes()
}

// serialHandler adapts serialport.Connection callbacks to the message
// controller and stick-level error surfacing.
type serialHandler struct{ s *Stick }

func (h *serialHandler) OnFrame(f wire.Frame) {
	if f.CmdID == wire.CmdNodeJoinAvailableResponse {
		joinReq, err := wire.DecodeNodeJoinAvailableResponse(f)
		if err == nil {
			h.s.handleJoinRequest(joinReq.MAC)
			return
		}
	}
	h.s.ctrl.HandleFrame(f)
}

func (h *serialHandler) OnError(err error) {
	h.s.logger.Log(plog.Event{
		Layer: plog.LayerSerial, Category: plog.CategoryError,
		Error: &plog.ErrorEvent{Layer: plog.LayerSerial, Message: err.Error()},
	})
}

// handleJoinRequest always surfaces a join attempt: auto-accept it
// when joining is enabled and autoAcceptJoining is set, otherwise fire
// CallbackJoinRequest so the caller can decide. Disabling join
// acceptance (allowJoining=false) does not silence the notification —
// the original firmware still calls do_callback(CB_JOIN_REQUEST, mac)
// in that case (stick.py:494-507).
func (s *Stick) handleJoinRequest(mac string) {
	s.mu.RLock()
	auto := s.allowJoining && s.autoAcceptJoining
	s.mu.RUnlock()
	if auto {
		_ = s.NodeJoin(mac)
		return
	}
	s.callbacks.fire(CallbackJoinRequest, mac)
}
