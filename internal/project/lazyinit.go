package project

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// ErrNoSupportedSource is returned when lazy initialization finds no
// recognized source files. The message is user-visible; individual
// file operations still work without an activated project.
var ErrNoSupportedSource = errors.New(
	"no supported source files found under the project root; " +
		"create .codelens/project.yml manually to declare languages")

// Initializer performs first-use project activation: when a tool call
// arrives and no descriptor exists, it detects the dominant languages,
// writes a minimal descriptor, and activates the project. Exactly one
// goroutine performs the work; the rest observe the completed state.
type Initializer struct {
	root string
	log  *zap.Logger

	mu        sync.Mutex
	attempted bool
	project   *Project
	err       error
}

// NewInitializer creates an initializer for a project root.
func NewInitializer(root string, log *zap.Logger) *Initializer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Initializer{root: root, log: log}
}

// Root returns the project root the initializer serves.
func (i *Initializer) Root() string {
	return i.root
}

// Ensure returns the activated project, performing detection and
// descriptor creation on the first call. Subsequent calls — including
// concurrent ones — observe the first call's outcome.
func (i *Initializer) Ensure() (*Project, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.attempted {
		return i.project, i.err
	}
	i.attempted = true

	i.project, i.err = i.activate()
	return i.project, i.err
}

// activate loads an existing descriptor or detects and writes one.
func (i *Initializer) activate() (*Project, error) {
	config, err := LoadConfig(i.root)
	switch {
	case err == nil:
		// Existing descriptor wins.
	case errors.Is(err, ErrNoDescriptor):
		config, err = i.detectAndWrite()
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	proj, err := Open(i.root, config)
	if err != nil {
		return nil, err
	}
	i.log.Info("project activated",
		zap.String("name", config.ProjectName),
		zap.Strings("languages", config.Languages))
	return proj, nil
}

// detectAndWrite builds a minimal descriptor from the source tree.
func (i *Initializer) detectAndWrite() (*Config, error) {
	languages, err := DetectLanguages(i.root)
	if err != nil {
		return nil, fmt.Errorf("language detection: %w", err)
	}
	if len(languages) == 0 {
		return nil, ErrNoSupportedSource
	}

	config := &Config{
		ProjectName: filepath.Base(i.root),
		Languages:   languages,
	}
	if err := config.Save(i.root); err != nil {
		return nil, fmt.Errorf("write descriptor: %w", err)
	}
	i.log.Info("project descriptor created",
		zap.String("root", i.root), zap.Strings("languages", languages))
	return config, nil
}

// Reset clears the attempted state. Test hook.
func (i *Initializer) Reset() {
	i.mu.Lock()
	i.attempted = false
	i.project = nil
	i.err = nil
	i.mu.Unlock()
}
