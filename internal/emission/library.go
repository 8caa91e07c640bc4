package emission

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// Wildcard is the family value that applies a template to every family.
const Wildcard = "*"

// maxLibraryBytes bounds a template file.
const maxLibraryBytes = 1 << 20

// ErrInvalidTemplate is returned for templates missing an atom or text.
var ErrInvalidTemplate = errors.New("invalid template")

//go:embed templates.toml
var defaultTemplates []byte

// Template is a learned phrase for one atom, optionally scoped to a family.
type Template struct {
	Atom   string `toml:"atom" json:"atom"`
	Family string `toml:"family" json:"family"`
	Text   string `toml:"text" json:"text"`
}

// Render expands {entity}, {atom} and {zone} placeholders.
func (t Template) Render(g Guidance) string {
	entity := "that"
	if len(g.Entities) > 0 {
		entity = g.Entities[0].Key
	}
	r := strings.NewReplacer("{entity}", entity, "{atom}", t.Atom, "{zone}", g.Zone)
	return r.Replace(t.Text)
}

type templateKey struct{ atom, family string }

// Library is a concurrent-safe template index.
type Library struct {
	mu        sync.RWMutex
	templates map[templateKey]Template
}

type libraryFile struct {
	Templates []Template `toml:"template"`
}

// NewLibrary indexes templates. An empty family is treated as Wildcard.
func NewLibrary(templates []Template) (*Library, error) {
	l := &Library{}
	if err := l.Replace(templates); err != nil {
		return nil, err
	}
	return l, nil
}

// DefaultLibrary returns the built-in templates.
func DefaultLibrary() *Library {
	l, err := ParseLibrary(defaultTemplates)
	if err != nil {
		panic(fmt.Sprintf("embedded templates are invalid: %v", err))
	}
	return l
}

// ParseLibrary decodes a TOML template file.
func ParseLibrary(data []byte) (*Library, error) {
	templates, err := decodeTemplates(data)
	if err != nil {
		return nil, err
	}
	return NewLibrary(templates)
}

// LoadLibrary reads a TOML template file from disk.
func LoadLibrary(path string) (*Library, error) {
	templates, err := readTemplates(path)
	if err != nil {
		return nil, err
	}
	return NewLibrary(templates)
}

func readTemplates(path string) ([]Template, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading template file: %w", err)
	}
	if info.Size() > maxLibraryBytes {
		return nil, fmt.Errorf("template file %s exceeds %d bytes", path, maxLibraryBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading template file: %w", err)
	}
	return decodeTemplates(data)
}

func decodeTemplates(data []byte) ([]Template, error) {
	var f libraryFile
	if _, err := toml.NewDecoder(bytes.NewReader(data)).Decode(&f); err != nil {
		return nil, fmt.Errorf("decoding templates: %w", err)
	}
	return f.Templates, nil
}

// Replace swaps the whole library atomically. Nothing changes when any
// template is invalid.
func (l *Library) Replace(templates []Template) error {
	index := make(map[templateKey]Template, len(templates))
	for i, t := range templates {
		t.Atom = strings.TrimSpace(t.Atom)
		t.Family = strings.TrimSpace(t.Family)
		if t.Family == "" {
			t.Family = Wildcard
		}
		if t.Atom == "" || strings.TrimSpace(t.Text) == "" {
			return fmt.Errorf("%w: entry %d needs atom and text", ErrInvalidTemplate, i)
		}
		index[templateKey{t.Atom, t.Family}] = t
	}
	l.mu.Lock()
	l.templates = index
	l.mu.Unlock()
	return nil
}

// Lookup returns the family-specific template for atom, else the wildcard.
func (l *Library) Lookup(atom, family string) (Template, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if family != "" {
		if t, ok := l.templates[templateKey{atom, family}]; ok {
			return t, true
		}
	}
	t, ok := l.templates[templateKey{atom, Wildcard}]
	return t, ok
}

// Len returns the number of templates.
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.templates)
}
