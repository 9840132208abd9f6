// Package registry implements the node registry: the map from MAC to
// discovered node, guarded by a single lock, with callback hooks fired
// on discovery/removal. It is grounded directly on the teacher's
// pkg/zone.Manager (map + RWMutex + callback setters), substituting
// Plugwise nodes for MASH zones and "available"/"last_update" for
// "connected"/"last_seen".
package registry

import (
	"sync"

	"github.com/plugwise/stick-go/node"
	"github.com/plugwise/stick-go/wire"
)

// Registry owns every node this stick has discovered. A discovered
// node with a type the protocol doesn't support still gets a Node
// value (node.New returns a fully-functional-but-NotSupported
// instance for unknown types), so presence in the registry always
// means "this MAC exists on the mesh", regardless of capability.
type Registry struct {
	mu    sync.RWMutex
	nodes map[string]node.Node

	toDiscover    map[string]struct{}
	notDiscovered map[string]int // mac -> consecutive discovery failures

	circlePlusMAC        string
	circlePlusDiscovered bool

	membershipTableSize int

	onNodeDiscovered func(node.Node)
	onNodeRemoved    func(mac string)
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		nodes:         make(map[string]node.Node),
		toDiscover:    make(map[string]struct{}),
		notDiscovered: make(map[string]int),
	}
}

// OnNodeDiscovered registers a callback fired after Add constructs and
// stores a new node.
func (r *Registry) OnNodeDiscovered(cb func(node.Node)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onNodeDiscovered = cb
}

// OnNodeRemoved registers a callback fired after Remove deletes a node.
func (r *Registry) OnNodeRemoved(cb func(mac string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onNodeRemoved = cb
}

// Knows reports whether mac has a registered node. Satisfies
// controller.Dispatcher.
func (r *Registry) Knows(mac string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.nodes[mac]
	return ok
}

// Get returns the node for mac, or nil if it isn't registered.
func (r *Registry) Get(mac string) node.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nodes[mac]
}

// Add constructs a Node of the given type for mac (if not already
// present) and stores it. Registering a Circle+ node records its MAC
// as the coordinator.
func (r *Registry) Add(mac string, nodeType wire.NodeType, submitter node.Submitter) node.Node {
	r.mu.Lock()
	if existing, ok := r.nodes[mac]; ok {
		r.mu.Unlock()
		return existing
	}
	n := node.New(mac, nodeType, submitter)
	r.nodes[mac] = n
	delete(r.toDiscover, mac)
	delete(r.notDiscovered, mac)
	if nodeType == wire.NodeTypeCirclePlus {
		r.circlePlusMAC = mac
		r.circlePlusDiscovered = true
	}
	cb := r.onNodeDiscovered
	r.mu.Unlock()

	if cb != nil {
		cb(n)
	}
	return n
}

// Remove deletes mac from the registry.
func (r *Registry) Remove(mac string) {
	r.mu.Lock()
	_, existed := r.nodes[mac]
	delete(r.nodes, mac)
	cb := r.onNodeRemoved
	r.mu.Unlock()

	if existed && cb != nil {
		cb(mac)
	}
}

// MarkToDiscover records mac as known-present-but-not-yet-identified
// (e.g. seen in the Circle+'s association table but no NodeInfo reply
// yet).
func (r *Registry) MarkToDiscover(mac string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[mac]; ok {
		return
	}
	r.toDiscover[mac] = struct{}{}
}

// MarkDiscoveryFailed increments mac's consecutive-failure counter and
// returns the new count. The stick calls it when a NodeInfoRequest for
// mac fails or its reply cannot be decoded.
func (r *Registry) MarkDiscoveryFailed(mac string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notDiscovered[mac]++
	return r.notDiscovered[mac]
}

// ToDiscover returns the MACs awaiting identification.
func (r *Registry) ToDiscover() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.toDiscover))
	for mac := range r.toDiscover {
		out = append(out, mac)
	}
	return out
}

// SetMembershipTableSize records the number of occupied slots in the
// Circle+'s association table, as read back by the most recent scan.
// JoinedNodes is derived from this count rather than from how many of
// those members have actually answered a NodeInfoRequest, matching the
// original firmware's stick.py:255 `self._joined_nodes =
// len(nodes_to_discover)`, set once at scan time regardless of which
// members later respond.
func (r *Registry) SetMembershipTableSize(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.membershipTableSize = n
}

// JoinedNodes returns the size of the Circle+'s membership table plus
// the coordinator itself, once a scan has reported one — this counts
// every member the mesh claims, whether or not it has since answered
// a NodeInfoRequest. Before the first scan completes, it falls back to
// the count of nodes discovered so far plus the coordinator (the
// coordinator is counted exactly once, whether or not it has been
// discovered yet), since no membership table size is known yet.
func (r *Registry) JoinedNodes() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.membershipTableSize > 0 {
		return r.membershipTableSize + 1
	}
	n := len(r.nodes)
	if r.circlePlusDiscovered {
		return n
	}
	return n + 1
}

// DiscoveredNodes returns the MACs of every registered node.
func (r *Registry) DiscoveredNodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.nodes))
	for mac := range r.nodes {
		out = append(out, mac)
	}
	return out
}

// All returns every registered node, for iteration by the updater.
func (r *Registry) All() []node.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]node.Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	return out
}

// CirclePlusMAC returns the coordinator's MAC and whether it has been
// discovered yet.
func (r *Registry) CirclePlusMAC() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.circlePlusMAC, r.circlePlusDiscovered
}

// SetCirclePlusMAC records the coordinator's MAC before it has
// necessarily been added as a full node (stick init reports the MAC
// before NodeInfo confirms the type).
func (r *Registry) SetCirclePlusMAC(mac string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.circlePlusMAC = mac
}

// Dispatch delivers f to the node registered for mac. Satisfies
// controller.Dispatcher; the caller (stick.Stick) supplies the Unknown
// half separately since discovering an unknown sender requires issuing
// a NodeInfoRequest, which only the orchestrator knows how to do.
func (r *Registry) Dispatch(mac string, f wire.Frame) {
	n := r.Get(mac)
	if n == nil {
		return
	}
	n.SetAvailable(true)
	n.MessageForNode(f)
}
