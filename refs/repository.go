package refs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/ggoodman/xrce-agent-go/xrce"
)

// File is the on-disk document.
type File struct {
	Profiles []ProfileSpec `yaml:"profiles" json:"profiles" jsonschema:"description=Named XML profiles clients may create by reference"`
}

// ProfileSpec is one profile as written in the file.
type ProfileSpec struct {
	Name        string `yaml:"name" json:"name" jsonschema:"minLength=1"`
	Kind        string `yaml:"kind" json:"kind" jsonschema:"enum=participant,enum=topic,enum=publisher,enum=subscriber,enum=datawriter,enum=datareader,enum=type,enum=qos_profile,enum=application"`
	XML         string `yaml:"xml" json:"xml" jsonschema:"minLength=1"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Profile is a validated profile.
type Profile struct {
	Name string
	Kind xrce.ObjectKind
	XML  string
}

// ValidationError reports every problem found in a profile file.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return "refs: " + e.Problems[0]
	}
	return fmt.Sprintf("refs: %d problems, first: %s", len(e.Problems), e.Problems[0])
}

// Parse decodes and validates a profile document.
func Parse(data []byte) (map[string]Profile, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("refs: decode: %w", err)
	}
	out := make(map[string]Profile, len(f.Profiles))
	var problems []string
	for i, ps := range f.Profiles {
		if ps.Name == "" {
			problems = append(problems, fmt.Sprintf("profile %d: missing name", i))
			continue
		}
		if _, dup := out[ps.Name]; dup {
			problems = append(problems, fmt.Sprintf("profile %q: duplicate name", ps.Name))
			continue
		}
		kind, err := xrce.ParseObjectKind(ps.Kind)
		if err != nil {
			problems = append(problems, fmt.Sprintf("profile %q: %v", ps.Name, err))
			continue
		}
		if ps.XML == "" {
			problems = append(problems, fmt.Sprintf("profile %q: empty xml", ps.Name))
			continue
		}
		out[ps.Name] = Profile{Name: ps.Name, Kind: kind, XML: ps.XML}
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}
	return out, nil
}

// Repository holds the profiles loaded from one file.
type Repository struct {
	path string
	log  *slog.Logger

	mu       sync.RWMutex
	profiles map[string]Profile
}

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the repository's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Repository) {
		if l != nil {
			r.log = l
		}
	}
}

// Load reads and validates the file at path.
func Load(path string, opts ...Option) (*Repository, error) {
	r := &Repository{path: filepath.Clean(path), log: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the file. On failure the current profiles stay in effect.
func (r *Repository) Reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("refs: read %s: %w", r.path, err)
	}
	profiles, err := Parse(data)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.profiles = profiles
	r.mu.Unlock()
	return nil
}

// Lookup returns the profile called name.
func (r *Repository) Lookup(name string) (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[name]
	return p, ok
}

// Names returns the sorted profile names.
func (r *Repository) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.profiles))
	for n := range r.profiles {
		names = append(names, n)
	}
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}

// Watch reloads the file whenever it changes until ctx ends. The parent
// directory is watched so that atomic replace-by-rename is observed.
func (r *Repository) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("refs: watcher: %w", err)
	}
	defer func() {
		_ = w.Close()
	}()
	if err := w.Add(filepath.Dir(r.path)); err != nil {
		return fmt.Errorf("refs: watch %s: %w", filepath.Dir(r.path), err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != r.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := r.Reload(); err != nil {
				// A half-written file or a rename away; keep the current set.
				if !errors.Is(err, os.ErrNotExist) {
					r.log.WarnContext(ctx, "profile reload failed", slog.String("path", r.path), slog.String("err", err.Error()))
				}
				continue
			}
			r.log.InfoContext(ctx, "profiles reloaded", slog.String("path", r.path), slog.Int("count", len(r.Names())))
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.log.DebugContext(ctx, "fsnotify error", slog.String("err", err.Error()))
		}
	}
}
