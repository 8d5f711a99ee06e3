package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// EnvPrefix marks environment variables that override config keys.
	EnvPrefix = "ELFRADIO_"
	// EnvSeparator splits nested keys in an environment variable name.
	EnvSeparator = "__"

	configFileName = "config.yaml"
	envFileName    = ".env"
)

// ErrInvalid wraps configuration updates that fail to parse or validate.
var ErrInvalid = errors.New("invalid configuration")

// Loader reads layered configuration snapshots from a directory.
type Loader struct {
	dir string

	mu      sync.Mutex
	dirty   bool
	current *Config
	environ func() []string
}

// NewLoader creates a loader rooted at dir.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir, dirty: true, environ: os.Environ}
}

// DefaultDir returns ~/.elfradio.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".elfradio"
	}
	return filepath.Join(home, ".elfradio")
}

// Dir returns the directory the loader reads from.
func (l *Loader) Dir() string {
	return l.dir
}

// Path returns the YAML config file path.
func (l *Loader) Path() string {
	return filepath.Join(l.dir, configFileName)
}

// MarkDirty forces the next Snapshot to re-read all layers.
func (l *Loader) MarkDirty() {
	l.mu.Lock()
	l.dirty = true
	l.mu.Unlock()
}

// Snapshot returns a fresh configuration value. The returned Config is
// owned by the caller and never modified by the loader.
func (l *Loader) Snapshot() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.dirty && l.current != nil {
		cp := *l.current
		return &cp, nil
	}

	cfg, err := l.load()
	if err != nil {
		return nil, err
	}
	l.current = cfg
	l.dirty = false
	cp := *cfg
	return &cp, nil
}

func (l *Loader) load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(l.Path())
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", l.Path(), err)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("read %s: %w", l.Path(), err)
	}

	env, err := l.envLayer()
	if err != nil {
		return nil, err
	}
	if err := applyEnv(cfg, env); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// envLayer merges the .env file under the process environment.
func (l *Loader) envLayer() (map[string]string, error) {
	vars := map[string]string{}
	envPath := filepath.Join(l.dir, envFileName)
	if _, err := os.Stat(envPath); err == nil {
		fileVars, err := godotenv.Read(envPath)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", envPath, err)
		}
		for k, v := range fileVars {
			vars[k] = v
		}
	}
	for _, kv := range l.environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			vars[k] = v
		}
	}
	return vars, nil
}

// applyEnv overlays ELFRADIO_SECTION__KEY variables onto cfg. Values are
// decoded as YAML scalars so numbers and booleans keep their types.
func applyEnv(cfg *Config, vars map[string]string) error {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		if strings.HasPrefix(k, EnvPrefix) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)

	tree := map[string]interface{}{}
	for _, k := range keys {
		path := strings.Split(strings.ToLower(strings.TrimPrefix(k, EnvPrefix)), EnvSeparator)
		var value interface{}
		if err := yaml.Unmarshal([]byte(vars[k]), &value); err != nil || value == nil {
			value = vars[k]
		}
		node := tree
		for _, part := range path[:len(path)-1] {
			next, ok := node[part].(map[string]interface{})
			if !ok {
				next = map[string]interface{}{}
				node[part] = next
			}
			node = next
		}
		node[path[len(path)-1]] = value
	}

	overlay, err := yaml.Marshal(tree)
	if err != nil {
		return fmt.Errorf("encode env overrides: %w", err)
	}
	if err := yaml.Unmarshal(overlay, cfg); err != nil {
		return fmt.Errorf("apply env overrides: %w", err)
	}
	return nil
}

// WriteDefault writes the built-in configuration to the loader's path if
// no file exists yet.
func (l *Loader) WriteDefault() error {
	if _, err := os.Stat(l.Path()); err == nil {
		return nil
	}
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(l.Path(), data, 0600)
}

// Update merges updates into config.yaml and marks the loader dirty, so
// the next task picks them up. Keys are section names with nested objects
// or dotted paths such as "timing.tx_interval_s". Masked secrets echoed
// back from a config read are ignored. Running tasks keep their snapshot.
func (l *Loader) Update(updates map[string]interface{}) error {
	if len(updates) == 0 {
		return fmt.Errorf("%w: no values given", ErrInvalid)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	doc := map[string]interface{}{}
	data, err := os.ReadFile(l.Path())
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("parse %s: %w", l.Path(), err)
		}
		if doc == nil {
			doc = map[string]interface{}{}
		}
	case !os.IsNotExist(err):
		return fmt.Errorf("read %s: %w", l.Path(), err)
	}

	for key, value := range updates {
		path := strings.Split(key, ".")
		node := doc
		for _, part := range path[:len(path)-1] {
			next, ok := node[part].(map[string]interface{})
			if !ok {
				next = map[string]interface{}{}
				node[part] = next
			}
			node = next
		}
		mergeValue(node, path[len(path)-1], value)
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(out))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmp := l.Path() + ".tmp"
	if err := os.WriteFile(tmp, out, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, l.Path()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace config: %w", err)
	}
	l.dirty = true
	return nil
}

// mergeValue sets dst[key], merging nested objects into existing sections.
func mergeValue(dst map[string]interface{}, key string, value interface{}) {
	switch v := value.(type) {
	case map[string]interface{}:
		cur, ok := dst[key].(map[string]interface{})
		if !ok {
			cur = map[string]interface{}{}
			dst[key] = cur
		}
		for k, sub := range v {
			mergeValue(cur, k, sub)
		}
	case string:
		if v == maskedValue {
			return
		}
		dst[key] = v
	default:
		dst[key] = v
	}
}
