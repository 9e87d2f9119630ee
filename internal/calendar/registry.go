package calendar

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/penciled/penciled/internal/errors"
)

// Source describes one calendar in the registry file.
type Source struct {
	// Name is the provider key events reference as calendar_id.
	Name string `yaml:"name"`

	// Path is the ICS file backing this calendar. Relative paths resolve
	// against the registry file's directory.
	Path string `yaml:"path"`

	// TimeZone is the IANA zone wall-clock times resolve in. Empty means
	// UTC.
	TimeZone string `yaml:"timezone,omitempty"`
}

// registryFile is the on-disk shape of calendars.yaml.
type registryFile struct {
	Calendars []Source `yaml:"calendars"`
}

// Registry holds the configured calendar providers, keyed by name.
type Registry struct {
	names     []string
	sources   []Source
	providers map[string]Provider
}

// NewRegistry returns an empty registry. Providers are added with
// Register; LoadRegistry builds one from calendars.yaml instead.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// LoadRegistry reads calendars.yaml and builds one provider per source.
// A missing file is seeded with a single file-backed calendar next to it.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if stderrors.Is(err, fs.ErrNotExist) {
		seed := registryFile{Calendars: []Source{{
			Name: "personal",
			Path: filepath.Join("calendars", "personal.ics"),
		}}}
		if err := saveRegistry(path, seed); err != nil {
			return nil, err
		}
		return buildRegistry(path, seed)
	}
	if err != nil {
		return nil, err
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return buildRegistry(path, file)
}

func buildRegistry(path string, file registryFile) (*Registry, error) {
	reg := NewRegistry()
	dir := filepath.Dir(path)

	for _, src := range file.Calendars {
		if src.Name == "" || src.Path == "" {
			return nil, fmt.Errorf("%s: calendar source needs both a name and a path", path)
		}
		if _, dup := reg.providers[src.Name]; dup {
			return nil, fmt.Errorf("%s: duplicate calendar source %q", path, src.Name)
		}
		if !filepath.IsAbs(src.Path) {
			src.Path = filepath.Join(dir, src.Path)
		}

		p, err := NewICSProvider(src)
		if err != nil {
			return nil, err
		}
		reg.names = append(reg.names, src.Name)
		reg.sources = append(reg.sources, src)
		reg.providers[src.Name] = p
	}
	return reg, nil
}

// saveRegistry writes calendars.yaml atomically: temp file in the same
// directory, then rename.
func saveRegistry(path string, file registryFile) error {
	data, err := yaml.Marshal(file)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".penciled-calendars-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Provider returns the named provider.
func (r *Registry) Provider(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, errors.NewNotFound("calendar", name)
	}
	return p, nil
}

// Register adds or replaces a provider outside the file flow. Tests and
// non-file backends hook in here.
func (r *Registry) Register(p Provider) {
	name := p.Name()
	if _, ok := r.providers[name]; !ok {
		r.names = append(r.names, name)
	}
	r.providers[name] = p
}

// Names lists provider names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// Sources lists the file-backed sources the registry was built from.
func (r *Registry) Sources() []Source {
	return append([]Source(nil), r.sources...)
}

// Empty reports whether no calendars are configured.
func (r *Registry) Empty() bool {
	return len(r.names) == 0
}

// DefaultName resolves the calendar used when an event names none: the
// configured default when set, otherwise the first configured calendar.
func (r *Registry) DefaultName(configured string) string {
	if configured != "" {
		return configured
	}
	if len(r.names) > 0 {
		return r.names[0]
	}
	return ""
}
