package project

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dshills/codelens/internal/lsp"
)

// AppDirName is the dot-directory the broker keeps inside a project
// root and the user's home.
const AppDirName = ".codelens"

// DescriptorName is the project descriptor file under AppDirName.
const DescriptorName = "project.yml"

// Config is the project descriptor. It is the single configuration
// surface besides a handful of environment variables.
type Config struct {
	ProjectName           string   `yaml:"project_name"`
	Languages             []string `yaml:"languages"`
	IgnoredPaths          []string `yaml:"ignored_paths,omitempty"`
	ExcludedTools         []string `yaml:"excluded_tools,omitempty"`
	IncludedOptionalTools []string `yaml:"included_optional_tools,omitempty"`
	ReadOnly              bool     `yaml:"read_only,omitempty"`
	IgnoreGitignoredFiles bool     `yaml:"ignore_all_files_in_gitignore,omitempty"`
	InitialPrompt         string   `yaml:"initial_prompt,omitempty"`
	Encoding              string   `yaml:"encoding,omitempty"`
}

// ErrNoDescriptor indicates the project has no descriptor yet; the
// lazy initializer handles this case.
var ErrNoDescriptor = errors.New("project descriptor not found")

// DescriptorPath returns the descriptor location for a project root.
func DescriptorPath(root string) string {
	return filepath.Join(root, AppDirName, DescriptorName)
}

// LoadConfig reads and validates the descriptor for a project root.
func LoadConfig(root string) (*Config, error) {
	data, err := os.ReadFile(DescriptorPath(root))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoDescriptor
		}
		return nil, fmt.Errorf("read descriptor: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse %s: %w", DescriptorPath(root), err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Save writes the descriptor for a project root, creating AppDirName.
func (c *Config) Save(root string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	dir := filepath.Join(root, AppDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(DescriptorPath(root), data, 0o644)
}

// Validate fails fast on invalid fields with messages that enumerate
// the valid values.
func (c *Config) Validate() error {
	if c.ProjectName == "" {
		return errors.New("descriptor: project_name is required")
	}
	if len(c.Languages) == 0 {
		return errors.New("descriptor: at least one language is required")
	}

	known := lsp.KnownLanguages()
	for _, lang := range c.Languages {
		if !known[lang] {
			valid := make([]string, 0, len(known))
			for l := range known {
				valid = append(valid, l)
			}
			sort.Strings(valid)
			return fmt.Errorf("descriptor: unsupported language %q (valid: %s)",
				lang, strings.Join(valid, ", "))
		}
	}

	if c.Encoding != "" {
		if _, err := lookupEncoding(c.Encoding); err != nil {
			return fmt.Errorf("descriptor: unknown encoding %q (use an IANA name such as utf-8, latin1, shift_jis)", c.Encoding)
		}
	}
	return nil
}
