// Package runtimecfg hot-reloads the collector's tuning knobs from a YAML
// file while an emulation runs.
package runtimecfg

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Duration decodes either a duration string ("500ms") or a plain number of
// seconds from YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		if parsed, err := time.ParseDuration(v); err == nil {
			*d = Duration(parsed)
			return nil
		}
		// Quoted numbers still mean seconds.
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			*d = Duration(time.Duration(secs * float64(time.Second)))
			return nil
		}
		return fmt.Errorf("invalid duration %q", v)
	case int:
		*d = Duration(time.Duration(v) * time.Second)
		return nil
	case float64:
		*d = Duration(time.Duration(v * float64(time.Second)))
		return nil
	default:
		return fmt.Errorf("invalid duration value %v", raw)
	}
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Tuning holds the knobs that may change mid-run. Zero values leave the
// current setting untouched.
type Tuning struct {
	PollInterval    Duration `yaml:"poll_interval"`
	FloodProbeDelay Duration `yaml:"flood_probe_delay"`
}

// Load reads a tuning file.
func Load(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("parse tuning file: %w", err)
	}
	return t, nil
}

// Watcher re-reads the tuning file on filesystem change and invokes the
// callback with each successfully parsed version.
type Watcher struct {
	path     string
	fsw      *fsnotify.Watcher
	log      *slog.Logger
	onChange func(Tuning)

	closeOnce sync.Once
	done      chan struct{}
}

// Watch starts watching path. The watch is on the parent directory so
// editor rename-and-replace saves are picked up.
func Watch(path string, log *slog.Logger, onChange func(Tuning)) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	w := &Watcher{path: path, fsw: fsw, log: log.With("component", "runtimecfg"), onChange: onChange, done: make(chan struct{})}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			t, err := Load(w.path)
			if err != nil {
				w.log.Warn("tuning reload failed, keeping previous settings", "error", err)
				continue
			}
			w.log.Info("tuning reloaded", "poll_interval", t.PollInterval.Std(), "flood_probe_delay", t.FloodProbeDelay.Std())
			w.onChange(t)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("tuning watcher error", "error", err)
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.fsw.Close()
		<-w.done
	})
	return err
}
