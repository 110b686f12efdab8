package dialect

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed dialects/*.yml
var builtinFS embed.FS

const ruleFileExt = ".yml"

// Registry maps publisher keys (feed URL hostnames) to rule sets.
type Registry struct {
	rules map[string]*Rules
	mu    sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		rules: make(map[string]*Rules),
	}
}

// NewDefaultRegistry returns a registry holding the built-in publishers.
func NewDefaultRegistry() (*Registry, error) {
	r := NewRegistry()
	if err := r.loadFS(builtinFS, "dialects"); err != nil {
		return nil, fmt.Errorf("failed to load built-in dialects: %w", err)
	}
	return r, nil
}

// LoadDir adds every <publisher-key>.yml in dir, replacing built-ins with
// the same key. A missing directory is not an error.
func (r *Registry) LoadDir(dir string) error {
	if dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	return r.loadFS(os.DirFS(dir), ".")
}

func (r *Registry) loadFS(fsys fs.FS, dir string) error {
	files, err := fs.Glob(fsys, filepath.ToSlash(filepath.Join(dir, "*"+ruleFileExt)))
	if err != nil {
		return fmt.Errorf("failed to find dialect files: %w", err)
	}

	for _, file := range files {
		data, err := fs.ReadFile(fsys, file)
		if err != nil {
			return fmt.Errorf("error reading %s: %w", file, err)
		}

		rules, err := ParseRules(data)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}

		key := strings.TrimSuffix(filepath.Base(file), ruleFileExt)
		r.Register(key, rules)

		slog.Debug("Dialect loaded", "publisher", key, "namespaces", len(rules.Namespaces))
	}

	return nil
}

// ParseRules decodes and validates a YAML rule set.
func ParseRules(data []byte) (*Rules, error) {
	var rules Rules
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&rules); err != nil {
		return nil, fmt.Errorf("failed to parse dialect: %w", err)
	}
	if err := rules.validate(); err != nil {
		return nil, fmt.Errorf("invalid dialect: %w", err)
	}
	return &rules, nil
}

func (r *Registry) Register(publisherKey string, rules *Rules) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[strings.ToLower(publisherKey)] = rules
}

func (r *Registry) Lookup(publisherKey string) (*Rules, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rules, ok := r.rules[strings.ToLower(publisherKey)]
	return rules, ok
}

func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.rules))
	for k := range r.rules {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}
