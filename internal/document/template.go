package document

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/michaelbrown/codeshare/internal/protocol"
)

// Template is a starter document.
type Template struct {
	Name     string `yaml:"name"`
	Language string `yaml:"language"`
	Code     string `yaml:"code"`
}

// LoadTemplate reads a template from a YAML file. The name defaults to the
// file's base name.
func LoadTemplate(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading template %s: %w", path, err)
	}

	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing template %s: %w", path, err)
	}
	if t.Name == "" {
		t.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if _, err := t.Lang(); err != nil {
		return nil, fmt.Errorf("template %s: %w", path, err)
	}
	return &t, nil
}

// Lang parses the template's language; empty means JavaScript.
func (t *Template) Lang() (protocol.Language, error) {
	if t.Language == "" {
		return protocol.JavaScript, nil
	}
	return protocol.ParseLanguage(t.Language)
}

// LoadTemplates reads every .yaml and .yml file in dir, sorted by name. A
// missing dir yields no templates.
func LoadTemplates(dir string) ([]*Template, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading templates dir: %w", err)
	}

	var out []*Template
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		t, err := LoadTemplate(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// FindTemplate returns the template called name from dir.
func FindTemplate(dir, name string) (*Template, error) {
	all, err := LoadTemplates(dir)
	if err != nil {
		return nil, err
	}
	for _, t := range all {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, fmt.Errorf("template %q not found in %s", name, dir)
}

// Apply seeds opts with the template's text and language.
func (t *Template) Apply(opts *Options) error {
	lang, err := t.Lang()
	if err != nil {
		return err
	}
	opts.Text = t.Code
	opts.Language = lang
	return nil
}
