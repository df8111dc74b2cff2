// Package main runs a gridbus plugin host: it wires the event bus,
// the sandbox forwarder and the Lua plugin host, loads every plugin
// found under the plugins directory, and feeds the bus demo grid
// traffic until interrupted.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/gridkit/gridbus/internal/event"
	"github.com/gridkit/gridbus/internal/event/events"
	"github.com/gridkit/gridbus/internal/plugin"
	"github.com/gridkit/gridbus/internal/plugin/security"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

type options struct {
	PluginDir string
	Debug     bool
	Demo      bool
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	logger, err := newLogger(opts.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize logging: %v\n", err)
		return 1
	}
	defer logger.Sync()

	bus := event.New(event.WithLogger(logger))
	defer bus.Close()

	perms := security.NewPermissionManager()
	quotas := security.NewQuotaManager(security.WithLogger(logger))
	monitor := security.NewResourceMonitor(security.DefaultThresholds())

	// Quota breaches surface on the bus so any subscriber (or plugin
	// with the right receive grant) can observe them.
	quotas.SetBreachHook(func(pluginID string, resource security.Resource, limit int64) {
		_ = bus.Emit(events.TopicPluginQuotaExceeded, events.PluginQuotaExceeded{
			PluginID: pluginID,
			Resource: string(resource),
			Limit:    limit,
		}, event.WithSource("host"))
	})

	forwarder := plugin.NewPluginEventForwarder(bus, perms,
		plugin.WithForwarderQuotas(quotas),
		plugin.WithForwarderMonitor(monitor),
		plugin.WithForwarderLogger(logger))
	defer forwarder.Shutdown()

	host := plugin.NewHost(bus, forwarder, plugin.WithHostLogger(logger))
	defer host.Shutdown()

	if err := loadPlugins(host, opts.PluginDir, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	if opts.Demo {
		stopDemo := startDemoTraffic(bus, logger)
		defer stopDemo()
	}

	<-signals
	logger.Info("shutting down")

	bus.Drain()
	printStats(bus.Stats())
	return 0
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// loadPlugins discovers manifests under dir and loads and activates
// each plugin. A missing directory is not an error; a plugin that
// fails to activate is skipped, not fatal.
func loadPlugins(host *plugin.Host, dir string, logger *zap.Logger) error {
	if dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Info("no plugin directory", zap.String("dir", dir))
		return nil
	}

	manifests, err := plugin.Discover(dir)
	if err != nil {
		return fmt.Errorf("discover plugins: %w", err)
	}

	for _, m := range manifests {
		if err := host.Load(m); err != nil {
			logger.Warn("plugin load failed",
				zap.String("plugin", m.Name), zap.Error(err))
			continue
		}
		if err := host.Activate(m.Name); err != nil {
			logger.Warn("plugin activation failed",
				zap.String("plugin", m.Name), zap.Error(err))
			_ = host.Unload(m.Name)
		}
	}

	logger.Info("plugins ready", zap.Strings("loaded", host.Plugins()))
	return nil
}

// startDemoTraffic emits a steady trickle of grid events so loaded
// plugins have something to react to. Returns a stop function.
func startDemoTraffic(bus *event.Bus, logger *zap.Logger) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		row := 0
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				row++
				if err := bus.Emit(events.TopicRowAdd, events.RowChange{
					Index: row,
					RowID: fmt.Sprintf("row-%d", row),
					Values: map[string]any{
						"seq": row,
						"at":  time.Now().Format(time.RFC3339),
					},
				}, event.WithSource("demo")); err != nil {
					logger.Warn("demo emit failed", zap.Error(err))
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

func printStats(s event.Stats) {
	fmt.Printf("events emitted:    %d\n", s.EventsEmitted)
	fmt.Printf("events delivered:  %d\n", s.EventsDelivered)
	fmt.Printf("handlers executed: %d\n", s.HandlersExecuted)
	fmt.Printf("handler errors:    %d\n", s.HandlerErrors)
	fmt.Printf("handler panics:    %d\n", s.HandlerPanics)
	fmt.Printf("avg dispatch:      %s\n", time.Duration(s.AvgDispatchNs))
}

func parseFlags() options {
	var opts options
	var showVersion bool

	flag.StringVar(&opts.PluginDir, "plugins", "plugins", "Directory containing plugin subdirectories")
	flag.StringVar(&opts.PluginDir, "p", "plugins", "Directory containing plugin subdirectories (shorthand)")
	flag.BoolVar(&opts.Debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&opts.Debug, "d", false, "Enable debug logging (shorthand)")
	flag.BoolVar(&opts.Demo, "demo", true, "Emit demo grid traffic")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "gridbus - priority event bus with sandboxed Lua plugins\n\n")
		fmt.Fprintf(os.Stderr, "Usage: gridbus [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  gridbus                     Load plugins from ./plugins\n")
		fmt.Fprintf(os.Stderr, "  gridbus -p ./my-plugins -d  Custom plugin dir, debug logging\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("gridbus %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		os.Exit(0)
	}

	return opts
}
