// Package agents reads the host's worker definitions: markdown files with
// a YAML frontmatter block naming the worker.
//
//	---
//	name: reviewer
//	description: Reviews diffs
//	tools: Read, Grep
//	---
package agents

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"submon/pkg/protocol"
)

// Definition is one worker definition file.
type Definition struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Tools       ToolList `yaml:"tools"`
	Model       string   `yaml:"model"`
	Path        string   `yaml:"-"`
}

// ToolList accepts either a YAML sequence or a comma separated string.
type ToolList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *ToolList) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.SequenceNode:
		var list []string
		if err := n.Decode(&list); err != nil {
			return err
		}
		*t = list
	case yaml.ScalarNode:
		var out []string
		for _, s := range strings.Split(n.Value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		*t = out
	default:
		return fmt.Errorf("tools: unsupported yaml kind %d", n.Kind)
	}
	return nil
}

// Catalogue is the set of known worker definitions.
type Catalogue struct {
	defs map[string]Definition
	// Invalid maps files that could not be parsed to the reason.
	Invalid map[string]error
}

// Load reads every *.md file in dirs. Missing directories are skipped.
// A definition in a later directory replaces one of the same name from an
// earlier directory, so project definitions override user ones.
func Load(dirs []string) *Catalogue {
	c := &Catalogue{defs: make(map[string]Definition), Invalid: make(map[string]error)}
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				c.Invalid[dir] = err
			}
			continue
		}
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
				continue
			}
			path := filepath.Join(dir, e.Name())
			def, err := ReadFile(path)
			if err != nil {
				c.Invalid[path] = err
				continue
			}
			c.defs[def.Name] = def
		}
	}
	return c
}

// ReadFile parses one definition. A file without a name in its
// frontmatter is named after the file.
func ReadFile(path string) (Definition, error) {
	//nolint:gosec // path comes from a configured agents directory
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read agent definition: %w", err)
	}

	def, err := Parse(data)
	if err != nil {
		return Definition{}, fmt.Errorf("%s: %w", path, err)
	}
	if def.Name == "" {
		def.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	def.Name = protocol.NormalizeWorker(def.Name)
	def.Path = path
	return def, nil
}

var fence = []byte("---")

// Parse decodes the frontmatter of a definition file. Content without a
// frontmatter block yields an empty Definition.
func Parse(data []byte) (Definition, error) {
	var def Definition

	data = bytes.TrimLeft(data, "\ufeff \t\r\n")
	if !bytes.HasPrefix(data, fence) {
		return def, nil
	}
	rest := data[len(fence):]
	end := bytes.Index(rest, append([]byte("\n"), fence...))
	if end < 0 {
		return def, errors.New("unterminated frontmatter")
	}

	if err := yaml.Unmarshal(rest[:end], &def); err != nil {
		return def, fmt.Errorf("parse frontmatter: %w", err)
	}
	return def, nil
}

// Names returns the known worker names, sorted. The host's built-in
// general-purpose worker is always included.
func (c *Catalogue) Names() []string {
	names := []string{protocol.GeneralPurposeWorker}
	for name := range c.defs {
		if name != protocol.GeneralPurposeWorker {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Get returns the definition for name.
func (c *Catalogue) Get(name string) (Definition, bool) {
	d, ok := c.defs[protocol.NormalizeWorker(name)]
	return d, ok
}

// Len reports the number of loaded definitions.
func (c *Catalogue) Len() int { return len(c.defs) }
