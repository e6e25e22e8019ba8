// Package hostconfig is the ambient configuration layer for mcphostd: the
// install root, default timeouts, retry/reconnect budgets, and the
// installer's security allow-lists, all loadable from a YAML file and
// hot-reloadable without restarting already-running peers. Shaped after
// the pack's mcpproxy-go Config (mapstructure-tagged struct, Duration
// wrapper, *Section pointers for optional blocks).
package hostconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/mcphost/runtime/logx"
)

// Duration wraps time.Duration so config files can use Go duration strings
// ("30s", "5m") instead of raw nanosecond integers.
type Duration time.Duration

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// UnmarshalYAML lets yaml.v3 decode a duration string directly into Duration.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// SecurityConfig is the installer's source allow-list, hot-reloadable
// independent of already-running peers.
type SecurityConfig struct {
	AllowedDomains    []string `yaml:"allowedDomains" mapstructure:"allowed-domains"`
	TrustedPublishers []string `yaml:"trustedPublishers" mapstructure:"trusted-publishers"`
	AllowHighRisk     bool     `yaml:"allowHighRisk" mapstructure:"allow-high-risk"`
}

// Config is the full set of mcphostd's configurable defaults.
type Config struct {
	InstallRoot          string         `yaml:"installRoot" mapstructure:"install-root"`
	RequestTimeout       Duration       `yaml:"requestTimeout" mapstructure:"request-timeout"`
	ReconnectBaseDelay   Duration       `yaml:"reconnectBaseDelay" mapstructure:"reconnect-base-delay"`
	MaxReconnectAttempts int            `yaml:"maxReconnectAttempts" mapstructure:"max-reconnect-attempts"`
	MaxInstallRetries    int            `yaml:"maxInstallRetries" mapstructure:"max-install-retries"`
	LogLevel             string         `yaml:"logLevel" mapstructure:"log-level"`
	Security             SecurityConfig `yaml:"security" mapstructure:"security"`
}

// Default returns the baseline configuration used when no file is present.
func Default() Config {
	return Config{
		InstallRoot:          defaultInstallRoot(),
		RequestTimeout:       Duration(30 * time.Second),
		ReconnectBaseDelay:   Duration(2 * time.Second),
		MaxReconnectAttempts: 3,
		MaxInstallRetries:    3,
		LogLevel:             "info",
		Security: SecurityConfig{
			AllowedDomains: []string{"github.com", "gitlab.com", "bitbucket.org", "npmjs.org", "pypi.org"},
		},
	}
}

func defaultInstallRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".mcphostd", "servers")
	}
	return filepath.Join(home, ".mcphostd", "servers")
}

// Load reads and decodes the YAML config file at path, filling any field
// the file omits from Default().
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		// File keys are the yaml tag names; a list in the file replaces the
		// default list rather than being merged into it.
		TagName:    "yaml",
		ZeroFields: true,
		DecodeHook: func(from, to reflect.Type, data interface{}) (interface{}, error) {
			if to != reflect.TypeOf(Duration(0)) || from.Kind() != reflect.String {
				return data, nil
			}
			parsed, err := time.ParseDuration(data.(string))
			if err != nil {
				return nil, fmt.Errorf("invalid duration %q: %w", data, err)
			}
			return Duration(parsed), nil
		},
	})
	if err != nil {
		return Config{}, err
	}
	if err := decoder.Decode(raw); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Watcher hot-reloads a Config from disk whenever its source file changes,
// notifying subscribers with the new value. The install root and process
// model are not reloadable (an already-spawned peer keeps its own
// invocation); only Security and the timeout/retry knobs are meant to be
// read live by new operations.
type Watcher struct {
	path string
	log  logx.Logger

	mu  sync.RWMutex
	cur Config

	watcher   *fsnotify.Watcher
	subsMu    sync.Mutex
	subs      []chan Config
	closeOnce sync.Once
	done      chan struct{}
}

// NewWatcher loads path once, then watches it for subsequent changes. If
// path does not exist, Watcher still runs with Default() and will pick up
// the file if it's created later.
func NewWatcher(path string, log logx.Logger) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}

	w := &Watcher{path: path, log: log, cur: cfg, watcher: fw, done: make(chan struct{})}
	go w.loop()
	return w, nil
}

// Current returns the most recently loaded Config.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur
}

// Subscribe returns a channel that receives every successfully reloaded
// Config. The channel is never closed, not even by Stop, and Watcher
// exports no signal of its own for Stop.
func (w *Watcher) Subscribe() <-chan Config {
	ch := make(chan Config, 1)
	w.subsMu.Lock()
	w.subs = append(w.subs, ch)
	w.subsMu.Unlock()
	return ch
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.log != nil {
				w.log.Error("hostconfig: watch error: %v", err)
			}
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		if w.log != nil {
			w.log.Error("hostconfig: reload failed, keeping previous config: %v", err)
		}
		return
	}
	w.mu.Lock()
	w.cur = cfg
	w.mu.Unlock()

	w.subsMu.Lock()
	defer w.subsMu.Unlock()
	for _, ch := range w.subs {
		select {
		case ch <- cfg:
		default:
		}
	}
}

// Stop releases the underlying file watch.
func (w *Watcher) Stop() {
	w.closeOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}
