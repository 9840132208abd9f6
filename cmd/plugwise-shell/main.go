// Command plugwise-shell is a small operator CLI for exercising a
// Plugwise USB stick from the command line: connect, discover the
// mesh, list joined nodes, and toggle a Circle's relay. It wires
// zerolog as the concrete log/slog backend behind plog.SlogAdapter and
// optionally loads tunables from a YAML config file, matching how the
// teacher's CLI tools assemble their logging and config layers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/plugwise/stick-go/config"
	"github.com/plugwise/stick-go/plog"
	"github.com/plugwise/stick-go/stick"
)

func main() {
	var (
		port       = flag.String("port", "/dev/ttyUSB0", "serial device path")
		configPath = flag.String("config", "", "optional YAML config file")
		verbose    = flag.Bool("v", false, "log protocol events at debug level")
		relayMAC   = flag.String("relay", "", "toggle this node's relay on then exit")
	)
	flag.Parse()

	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := plog.NewSlogAdapter(slog.New(slogHandler{zl: zl, level: level}))

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.LoadFile(*configPath)
		if err != nil {
			zl.Fatal().Err(err).Msg("loading config")
		}
		cfg = loaded
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	s := stick.New(*port, stick.WithConfig(cfg), stick.WithLogger(logger))
	if err := s.AutoInitialize(ctx); err != nil {
		zl.Fatal().Err(err).Msg("initializing stick")
	}
	defer s.Disconnect()

	zl.Info().Str("mac", s.MAC()).Int("joined", s.JoinedNodes()).Msg("stick ready")

	if *relayMAC != "" {
		n := s.Node(*relayMAC)
		if n == nil {
			zl.Fatal().Str("mac", *relayMAC).Msg("unknown node")
		}
		if err := n.SetRelay(ctx, true); err != nil {
			zl.Fatal().Err(err).Msg("setting relay")
		}
		fmt.Println("relay on")
		return
	}

	for _, mac := range s.DiscoveredNodes() {
		n := s.Node(mac)
		fmt.Printf("%s  type=%s  available=%v\n", mac, n.Type(), n.Available())
	}

	<-ctx.Done()
}

// slogHandler adapts slog's structured records to zerolog's event
// builder, letting plog.SlogAdapter stay written against log/slog
// while this binary's console output goes through zerolog.
type slogHandler struct {
	zl    zerolog.Logger
	level slog.Level
}

func (h slogHandler) Enabled(_ context.Context, level slog.Level) bool { return level >= h.level }

func (h slogHandler) Handle(_ context.Context, r slog.Record) error {
	ev := h.zl.WithLevel(zerologLevel(r.Level))
	r.Attrs(func(a slog.Attr) bool {
		ev = ev.Interface(a.Key, a.Value.Any())
		return true
	})
	ev.Msg(r.Message)
	return nil
}

func (h slogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	zl := h.zl.With().Logger()
	for _, a := range attrs {
		zl = zl.With().Interface(a.Key, a.Value.Any()).Logger()
	}
	return slogHandler{zl: zl, level: h.level}
}

func (h slogHandler) WithGroup(name string) slog.Handler { return h }

func zerologLevel(l slog.Level) zerolog.Level {
	switch {
	case l >= slog.LevelError:
		return zerolog.ErrorLevel
	case l >= slog.LevelWarn:
		return zerolog.WarnLevel
	case l >= slog.LevelInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}

var _ slog.Handler = slogHandler{}
