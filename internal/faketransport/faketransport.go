// Package faketransport provides an in-memory stand-in for the
// message controller's Sender interface, used by package-level tests
// that need to drive full request/response exchanges without a real
// serial port. Grounded on the teacher's fake transport pairs in
// pkg/service/integration_test.go.
package faketransport

import (
	"sync"

	"github.com/plugwise/stick-go/wire"
)

// HandleFrame is satisfied by controller.Controller; declared locally
// so this package doesn't need to import controller (which would
// create an import cycle with packages that test the controller
// itself).
type HandleFrame interface {
	HandleFrame(wire.Frame)
}

// Responder decides how to answer an outgoing frame. ok=false means
// "drop it", simulating an unresponsive node.
type Responder func(wire.Frame) (response wire.Frame, ok bool)

// Sender records every frame sent and, if a Responder is set, replays
// a canned reply back into the attached controller asynchronously
// (mirroring how a real reply arrives on a separate goroutine).
type Sender struct {
	mu        sync.Mutex
	Sent      []wire.Frame
	Responder Responder
	Ctrl      HandleFrame
}

func (s *Sender) Send(data []byte) error {
	f, err := wire.Decode(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.Sent = append(s.Sent, f)
	responder := s.Responder
	ctrl := s.Ctrl
	s.mu.Unlock()

	if responder == nil || ctrl == nil {
		return nil
	}
	if resp, ok := responder(f); ok {
		resp.SeqID = f.SeqID
		go ctrl.HandleFrame(resp)
	}
	return nil
}

// Count returns how many frames have been sent so far.
func (s *Sender) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Sent)
}
