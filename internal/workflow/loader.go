package workflow

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

const DefaultTemplateID = "publication"

//go:embed templates/*.yaml
var builtinFS embed.FS

// ParseTemplateYAML decodes and validates one template.
func ParseTemplateYAML(data []byte) (*Template, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("workflow: template payload is empty")
	}
	var tpl Template
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&tpl); err != nil {
		return nil, fmt.Errorf("workflow: decode template: %w", err)
	}
	if err := tpl.Validate(); err != nil {
		return nil, err
	}
	return &tpl, nil
}

func LoadTemplateFile(path string) (*Template, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workflow: read %s: %w", path, err)
	}
	tpl, err := ParseTemplateYAML(content)
	if err != nil {
		return nil, fmt.Errorf("workflow: %s: %w", path, err)
	}
	return tpl, nil
}

// LoadDir loads every *.yaml and *.yml file in dir, sorted by name.
func LoadDir(dir string) ([]*Template, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("workflow: read dir %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	out := make([]*Template, 0, len(names))
	for _, name := range names {
		tpl, err := LoadTemplateFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, tpl)
	}
	return out, nil
}

// Builtin returns the templates compiled into the binary.
func Builtin() ([]*Template, error) {
	entries, err := builtinFS.ReadDir("templates")
	if err != nil {
		return nil, fmt.Errorf("workflow: read builtin templates: %w", err)
	}
	out := make([]*Template, 0, len(entries))
	for _, entry := range entries {
		content, err := builtinFS.ReadFile("templates/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("workflow: read builtin %s: %w", entry.Name(), err)
		}
		tpl, err := ParseTemplateYAML(content)
		if err != nil {
			return nil, fmt.Errorf("workflow: builtin %s: %w", entry.Name(), err)
		}
		out = append(out, tpl)
	}
	return out, nil
}

type Registry struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

func NewRegistry(templates ...*Template) (*Registry, error) {
	r := &Registry{templates: make(map[string]*Template, len(templates))}
	for _, tpl := range templates {
		if err := r.Register(tpl); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// LoadRegistry combines the builtin templates with those found in dir. Files
// in dir replace a builtin template with the same id.
func LoadRegistry(dir string) (*Registry, error) {
	templates, err := Builtin()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(dir) != "" {
		fromDir, err := LoadDir(dir)
		if err != nil {
			return nil, err
		}
		templates = append(templates, fromDir...)
	}
	r := &Registry{templates: make(map[string]*Template, len(templates))}
	for _, tpl := range templates {
		if tpl.index == nil {
			if err := tpl.Validate(); err != nil {
				return nil, err
			}
		}
		r.templates[tpl.ID] = tpl
	}
	return r, nil
}

// Register validates tpl if needed and rejects duplicate ids.
func (r *Registry) Register(tpl *Template) error {
	if tpl == nil {
		return fmt.Errorf("workflow: nil template")
	}
	if tpl.index == nil {
		if err := tpl.Validate(); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.templates[tpl.ID]; exists {
		return &StructuralError{TemplateID: tpl.ID, Reason: "duplicate template id"}
	}
	r.templates[tpl.ID] = tpl
	return nil
}

func (r *Registry) Get(id string) (*Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tpl, ok := r.templates[id]
	if !ok {
		return nil, &UnknownTemplateError{TemplateID: id}
	}
	return tpl, nil
}

func (r *Registry) List() []*Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Template, 0, len(r.templates))
	for _, tpl := range r.templates {
		out = append(out, tpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
