package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"

	"orrery/collector"
	"orrery/collector/models"
)

// deploymentConfig is the YAML file describing the emulated fleet and the
// collector knobs an operator commonly adjusts.
type deploymentConfig struct {
	Satellites     []int             `yaml:"satellites"`
	GroundStations []string          `yaml:"ground_stations"`
	ShellTemplate  string            `yaml:"shell_template"`
	ProbeTargets   map[string]string `yaml:"probe_targets"`

	PollInterval    collector.Duration `yaml:"poll_interval"`
	FloodProbeDelay collector.Duration `yaml:"flood_probe_delay"`
	HandoverTimeout collector.Duration `yaml:"handover_timeout"`
	CommandTimeout  collector.Duration `yaml:"command_timeout"`

	Commands *collector.CommandSet `yaml:"commands"`
}

func loadDeployment(path string) (*deploymentConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var dc deploymentConfig
	if err := yaml.Unmarshal(raw, &dc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(dc.Satellites) == 0 && len(dc.GroundStations) == 0 {
		return nil, fmt.Errorf("%s: no nodes declared", path)
	}
	return &dc, nil
}

func (dc *deploymentConfig) collectorConfig(metricsEnabled bool, backend string) collector.Config {
	cfg := collector.Defaults()
	if d := dc.PollInterval.Std(); d > 0 {
		cfg.PollInterval = d
	}
	if d := dc.FloodProbeDelay.Std(); d > 0 {
		cfg.FloodProbeDelay = d
	}
	if d := dc.HandoverTimeout.Std(); d > 0 {
		cfg.HandoverTimeout = d
	}
	if d := dc.CommandTimeout.Std(); d > 0 {
		cfg.CommandTimeout = d
	}
	if dc.Commands != nil {
		cfg.Commands = *dc.Commands
	}
	cfg.MetricsEnabled = metricsEnabled
	cfg.MetricsBackend = backend
	return cfg
}

// staticPeers resolves probe targets from the deployment file: another
// configured GS first, else the GS's own entry, else nothing.
type staticPeers struct {
	targets map[string]string
}

func (p staticPeers) ResolveProbeTarget(fromGS string) (string, bool) {
	for gs, ip := range p.targets {
		if gs != fromGS && ip != "" {
			return ip, true
		}
	}
	if ip := p.targets[fromGS]; ip != "" {
		return ip, true
	}
	return "", false
}

func buildLogger(logFile string, jsonLogs bool) *slog.Logger {
	var w io.Writer = os.Stderr
	if logFile != "" {
		rotated := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    50, // MB
			MaxBackups: 3,
			MaxAge:     14, // days
		}
		w = io.MultiWriter(os.Stderr, rotated)
	}
	if jsonLogs {
		return slog.New(slog.NewJSONHandler(w, nil))
	}
	return slog.New(slog.NewTextHandler(w, nil))
}

func main() {
	var (
		configPath     string
		tuningPath     string
		metricsAddr    string
		healthAddr     string
		logFile        string
		jsonLogs       bool
		enableMetrics  bool
		metricsBackend string
		showVersion    bool
	)
	flag.StringVar(&configPath, "config", "orrery.yaml", "Deployment YAML (fleet inventory, command templates, knobs)")
	flag.StringVar(&tuningPath, "tuning", "", "Optional tuning YAML hot-reloaded while running")
	flag.StringVar(&metricsAddr, "metrics", "", "Expose /metrics on address (e.g. :9090)")
	flag.StringVar(&healthAddr, "health", "", "Expose /healthz on address (e.g. :9091)")
	flag.StringVar(&logFile, "log-file", "", "Tee logs into a rotated file")
	flag.BoolVar(&jsonLogs, "log-json", false, "Emit JSON logs")
	flag.BoolVar(&enableMetrics, "enable-metrics", false, "Enable the metrics provider")
	flag.StringVar(&metricsBackend, "metrics-backend", "prom", "Metrics backend: prom|otel|noop")
	flag.BoolVar(&showVersion, "version", false, "Show version info")
	flag.Parse()

	if showVersion {
		fmt.Println("orrery routing metrics collector")
		return
	}

	logger := buildLogger(logFile, jsonLogs)

	dc, err := loadDeployment(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	inv := models.Inventory{SatIDs: dc.Satellites, GSIDs: dc.GroundStations}
	runner := collector.ShellRunner{Template: dc.ShellTemplate}
	var peers collector.PeerLookup
	if len(dc.ProbeTargets) > 0 {
		peers = staticPeers{targets: dc.ProbeTargets}
	}

	col, err := collector.New(dc.collectorConfig(enableMetrics, metricsBackend), inv, runner, peers, logger)
	if err != nil {
		log.Fatalf("init collector: %v", err)
	}

	if metricsAddr != "" {
		if h := col.MetricsHandler(); h != nil {
			mux := http.NewServeMux()
			mux.Handle("/metrics", h)
			go func() {
				if err := http.ListenAndServe(metricsAddr, mux); err != nil {
					logger.Error("metrics endpoint failed", "error", err)
				}
			}()
		} else {
			logger.Warn("metrics address set but backend exposes no handler")
		}
	}
	if healthAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			snap := col.Health(r.Context())
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(snap)
		})
		go func() {
			if err := http.ListenAndServe(healthAddr, mux); err != nil {
				logger.Error("health endpoint failed", "error", err)
			}
		}()
	}

	var watcher *collector.TuningWatcher
	if tuningPath != "" {
		watcher, err = collector.WatchTuning(tuningPath, logger, col.ApplyTuning)
		if err != nil {
			logger.Warn("tuning watch unavailable", "error", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println()
		_ = col.Stop()
		if watcher != nil {
			_ = watcher.Close()
		}
		os.Exit(0)
	}()

	fmt.Println("orrery collector ready. Verbs: start | stop | status | summary | export [path] | quit")
	repl(col)

	_ = col.Stop()
	if watcher != nil {
		_ = watcher.Close()
	}
}

// repl drives the operator verbs the emulation scripts issue over stdin.
func repl(col *collector.Collector) {
	var simStart time.Time
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "start":
			simStart = time.Now()
			if err := col.Start(func() float64 { return time.Since(simStart).Seconds() }); err != nil {
				fmt.Printf("start failed: %v\n", err)
			}
		case "stop":
			_ = col.Stop()
		case "status":
			st := col.Status()
			raw, _ := json.MarshalIndent(st, "", "  ")
			fmt.Println(string(raw))
		case "summary":
			collector.WriteSummary(os.Stdout, col.Summary())
		case "export":
			path := ""
			if len(fields) > 1 {
				path = fields[1]
			}
			written, err := col.ExportJSON(path)
			if err != nil {
				fmt.Printf("export failed: %v\n", err)
				continue
			}
			fmt.Printf("metrics exported to %s\n", written)
		case "quit", "exit":
			return
		default:
			fmt.Printf("unknown verb %q\n", fields[0])
		}
	}
}
