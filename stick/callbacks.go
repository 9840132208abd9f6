package stick

import (
	"reflect"
	"sync"
)

// CallbackType identifies which stick-level event a subscriber wants.
type CallbackType int

const (
	CallbackNodeDiscovered CallbackType = iota
	CallbackNodeRemoved
	CallbackJoinRequest
	CallbackNetworkDown
)

// StickCallback receives the mac involved in the event, or "" for
// events with no associated node (CallbackNetworkDown).
type StickCallback func(mac string)

type callbackRegistry struct {
	mu   sync.RWMutex
	subs map[CallbackType][]StickCallback
}

func newCallbackRegistry() *callbackRegistry {
	return &callbackRegistry{subs: make(map[CallbackType][]StickCallback)}
}

func (c *callbackRegistry) subscribe(t CallbackType, cb StickCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[t] = append(c.subs[t], cb)
}

// unsubscribe removes the first callback matching cb by function
// pointer identity. Callers should pass the same named function value
// they subscribed with; comparing two distinct closures this way is
// unreliable, same as in any Go API built around func values.
func (c *callbackRegistry) unsubscribe(t CallbackType, cb StickCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	target := reflect.ValueOf(cb).Pointer()
	list := c.subs[t]
	for i, existing := range list {
		if reflect.ValueOf(existing).Pointer() == target {
			c.subs[t] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func (c *callbackRegistry) fire(t CallbackType, mac string) {
	c.mu.RLock()
	list := append([]StickCallback(nil), c.subs[t]...)
	c.mu.RUnlock()
	for _, cb := range list {
		cb(mac)
	}
}
