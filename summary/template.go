package summary

import (
	"embed"
	"path"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/teranos/recap/errors"
)

// DefaultTemplate is used when a job names none
const DefaultTemplate = "standard_meeting"

//go:embed templates/*.yaml
var templateFS embed.FS

// TemplateSection describes one section the provider is asked to fill
type TemplateSection struct {
	Key         string `yaml:"key" json:"key"`
	Title       string `yaml:"title" json:"title"`
	Instruction string `yaml:"instruction" json:"instruction"`
	Format      string `yaml:"format" json:"format"` // default block type
}

// Template is a named, ordered set of sections
type Template struct {
	Name        string            `yaml:"name" json:"name"`
	Description string            `yaml:"description" json:"description"`
	Sections    []TemplateSection `yaml:"sections" json:"sections"`
}

// Keys returns section keys in template order
func (t *Template) Keys() []string {
	keys := make([]string, len(t.Sections))
	for i, s := range t.Sections {
		keys[i] = s.Key
	}
	return keys
}

// SectionByKey returns the template section for key
func (t *Template) SectionByKey(key string) (TemplateSection, bool) {
	for _, s := range t.Sections {
		if s.Key == key {
			return s, true
		}
	}
	return TemplateSection{}, false
}

func (t *Template) validate() error {
	if t.Name == "" {
		return errors.New("template has no name")
	}
	if len(t.Sections) == 0 {
		return errors.Newf("template %s has no sections", t.Name)
	}
	seen := make(map[string]bool)
	for _, s := range t.Sections {
		if s.Key == "" || strings.HasPrefix(s.Key, "_") {
			return errors.Newf("template %s: invalid section key %q", t.Name, s.Key)
		}
		if seen[s.Key] {
			return errors.Newf("template %s: duplicate section key %q", t.Name, s.Key)
		}
		seen[s.Key] = true
	}
	return nil
}

// ParseTemplate decodes a YAML template
func ParseTemplate(data []byte) (*Template, error) {
	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, errors.Wrap(err, "failed to parse template")
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	for i := range t.Sections {
		if t.Sections[i].Format == "" {
			t.Sections[i].Format = "bullet"
		}
		if t.Sections[i].Title == "" {
			t.Sections[i].Title = t.Sections[i].Key
		}
	}
	return &t, nil
}

var (
	builtinOnce sync.Once
	builtins    map[string]*Template
	builtinErr  error
)

func loadBuiltins() {
	builtins = make(map[string]*Template)
	entries, err := templateFS.ReadDir("templates")
	if err != nil {
		builtinErr = errors.Wrap(err, "failed to read embedded templates")
		return
	}
	for _, e := range entries {
		data, err := templateFS.ReadFile(path.Join("templates", e.Name()))
		if err != nil {
			builtinErr = errors.Wrapf(err, "failed to read template %s", e.Name())
			return
		}
		t, err := ParseTemplate(data)
		if err != nil {
			builtinErr = errors.Wrapf(err, "embedded template %s", e.Name())
			return
		}
		builtins[t.Name] = t
	}
}

// LoadTemplate returns a built-in template. "" selects DefaultTemplate.
// Unknown names are a ConfigurationError.
func LoadTemplate(name string) (*Template, error) {
	builtinOnce.Do(loadBuiltins)
	if builtinErr != nil {
		return nil, builtinErr
	}
	if name == "" {
		name = DefaultTemplate
	}
	t, ok := builtins[name]
	if !ok {
		return nil, errors.WithHintf(
			errors.NewConfigurationError("template", "unknown template %q", name),
			"available templates: %s", strings.Join(TemplateNames(), ", "))
	}
	return t, nil
}

// TemplateNames lists built-in template names sorted
func TemplateNames() []string {
	builtinOnce.Do(loadBuiltins)
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Templates returns all built-in templates sorted by name
func Templates() []*Template {
	names := TemplateNames()
	out := make([]*Template, 0, len(names))
	for _, n := range names {
		out = append(out, builtins[n])
	}
	return out
}
