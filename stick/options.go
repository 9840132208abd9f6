package stick

import (
	"github.com/plugwise/stick-go/config"
	"github.com/plugwise/stick-go/plog"
)

// Option configures a Stick at construction time, following the
// teacher's functional-options pattern
// (transport.DefaultConnectionConfig + option funcs).
type Option func(*Stick)

// WithLogger routes every protocol event through logger instead of
// discarding them.
func WithLogger(logger plog.Logger) Option {
	return func(s *Stick) { s.logger = logger }
}

// WithConfig overrides the default tunables (retry counts, timeouts,
// watchdog/updater cadence).
func WithConfig(cfg config.Config) Option {
	return func(s *Stick) { s.cfg = cfg }
}
