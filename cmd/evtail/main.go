// evtail follows a Linux input device and prints its event batches, either
// raw (overflow markers visible) or synchronized (overflows replaced by
// synthetic catch-up batches). It can export Prometheus counters and
// reattach to the device node after an unplug.
package main

import (
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/evsync/evsync"
)

type config struct {
	Device        string `toml:"device"`
	Mode          string `toml:"mode"`
	Grab          bool   `toml:"grab"`
	Reattach      bool   `toml:"reattach"`
	MetricsListen string `toml:"metrics_listen"`
	Debug         bool   `toml:"debug"`
}

var (
	batchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evtail_batches_total",
		Help: "Batches delivered to the consumer.",
	})
	eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "evtail_events_total",
		Help: "Events delivered, by event type.",
	}, []string{"type"})
	overflowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evtail_overflows_total",
		Help: "Kernel buffer overflows observed.",
	})
	reattachesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "evtail_reattaches_total",
		Help: "Times the device node was reopened after going away.",
	})
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a TOML config file")
		device     = flag.String("device", "", "device node, e.g. /dev/input/event3")
		mode       = flag.String("mode", "", "stream mode: sync or raw")
		grab       = flag.Bool("grab", false, "take exclusive access to the device")
		reattach   = flag.Bool("reattach", false, "reopen the device node after unplug")
		metrics    = flag.String("metrics", "", "listen address for Prometheus metrics")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	cfg := config{Mode: "sync"}
	if *configPath != "" {
		if _, err := toml.DecodeFile(*configPath, &cfg); err != nil {
			errLog := zerolog.New(os.Stderr)
			errLog.Error().Err(err).Str("path", *configPath).Msg("Cannot read config file")
			os.Exit(1)
		}
	}
	// Flags override the file.
	if *device != "" {
		cfg.Device = *device
	}
	if *mode != "" {
		cfg.Mode = *mode
	}
	if *grab {
		cfg.Grab = true
	}
	if *reattach {
		cfg.Reattach = true
	}
	if *metrics != "" {
		cfg.MetricsListen = *metrics
	}
	if *debug {
		cfg.Debug = true
	}

	level := zerolog.InfoLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(level).
		With().Timestamp().Logger()

	if cfg.Device == "" {
		log.Error().Msg("No device given, use -device or a config file")
		os.Exit(1)
	}
	if cfg.Mode != "sync" && cfg.Mode != "raw" {
		log.Error().Str("mode", cfg.Mode).Msg("Unknown mode, want sync or raw")
		os.Exit(1)
	}

	if cfg.MetricsListen != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			log.Info().Str("listen", cfg.MetricsListen).Msg("Serving Prometheus metrics")
			if err := http.ListenAndServe(cfg.MetricsListen, nil); err != nil {
				log.Error().Err(err).Msg("Metrics listener failed")
			}
		}()
	}

	for {
		err := tail(&cfg, &log)
		if err == nil || !cfg.Reattach {
			if err != nil {
				log.Error().Err(err).Msg("Stream ended")
				os.Exit(1)
			}
			return
		}
		log.Warn().Err(err).Str("device", cfg.Device).Msg("Device went away, waiting for it to return")
		if err := waitForNode(cfg.Device); err != nil {
			log.Error().Err(err).Msg("Cannot watch for device node")
			os.Exit(1)
		}
		reattachesTotal.Inc()
		log.Info().Str("device", cfg.Device).Msg("Device node is back, reopening")
	}
}

// tail opens the device and pumps batches until the stream ends.
func tail(cfg *config, log *zerolog.Logger) error {
	dev, err := evsync.Open(cfg.Device, log)
	if err != nil {
		return err
	}

	caps := dev.Capabilities()
	major, minor, rev := caps.DriverVersionTriple()
	log.Info().
		Str("name", caps.Name).
		Uint16("vendor", caps.ID.Vendor).
		Uint16("product", caps.ID.Product).
		Str("driver", versionString(major, minor, rev)).
		Int("slots", caps.SlotCount()).
		Msg("Device opened")

	if cfg.Grab {
		if err := dev.Grab(); err != nil {
			dev.Close()
			return err
		}
		log.Info().Msg("Grabbed exclusive access")
	}

	if cfg.Mode == "raw" {
		return tailRaw(dev, log)
	}
	return tailSync(dev, log)
}

func tailRaw(dev *evsync.Device, log *zerolog.Logger) error {
	stream := evsync.NewRawStream(dev)
	defer stream.Close()

	for {
		batch, err := stream.Next()
		if err != nil {
			return streamErr(err)
		}
		batchesTotal.Inc()
		if batch.Dropped {
			overflowsTotal.Inc()
			log.Warn().Msg("Kernel dropped events")
			continue
		}
		printBatch(batch, log)
	}
}

func tailSync(dev *evsync.Device, log *zerolog.Logger) error {
	stream, err := evsync.NewSyncStream(dev)
	if err != nil {
		dev.Close()
		return err
	}
	defer stream.Close()

	var resyncs uint64
	for {
		batch, err := stream.Next()
		if err != nil {
			return streamErr(err)
		}
		batchesTotal.Inc()
		if r := stream.Resyncs(); r > resyncs {
			overflowsTotal.Add(float64(r - resyncs))
			resyncs = r
			log.Info().
				Uints16("pressed", stream.PressedKeys()).
				Msg("Resynchronized after overflow")
		}
		printBatch(batch, log)
	}
}

func printBatch(batch *evsync.Batch, log *zerolog.Logger) {
	for _, ev := range batch.Events {
		eventsTotal.WithLabelValues(ev.EventType().String()).Inc()
		if _, isSync := ev.(evsync.SyncEvent); isSync {
			continue
		}
		log.Info().
			Str("type", ev.EventType().String()).
			Uint16("code", ev.Code()).
			Int32("value", ev.Value()).
			Msg("Event")
	}
}

// streamErr maps clean stream shutdown to a nil error.
func streamErr(err error) error {
	if errors.Is(err, evsync.ErrClosed) {
		return nil
	}
	return err
}

// waitForNode blocks until the device node exists again, watching its
// directory for creation.
func waitForNode(path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}
	// The node may have come back before the watch was in place.
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if ev.Name == path && ev.Op.Has(fsnotify.Create) {
				// Give udev a moment to settle permissions.
				time.Sleep(100 * time.Millisecond)
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			return err
		}
	}
}

func versionString(major, minor, rev int) string {
	return fmt.Sprintf("%d.%d.%d", major, minor, rev)
}
