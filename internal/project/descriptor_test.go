package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigSaveLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	config := &Config{
		ProjectName:  "demo",
		Languages:    []string{"go", "python"},
		IgnoredPaths: []string{"vendor", "*.gen.go"},
		ReadOnly:     true,
		Encoding:     "utf-8",
	}
	require.NoError(t, config.Save(root))

	loaded, err := LoadConfig(root)
	require.NoError(t, err)
	assert.Equal(t, config.ProjectName, loaded.ProjectName)
	assert.Equal(t, config.Languages, loaded.Languages)
	assert.Equal(t, config.IgnoredPaths, loaded.IgnoredPaths)
	assert.True(t, loaded.ReadOnly)
}

func TestLoadConfigMissing(t *testing.T) {
	_, err := LoadConfig(t.TempDir())
	assert.ErrorIs(t, err, ErrNoDescriptor)
}

func TestConfigValidation(t *testing.T) {
	cases := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{"missing name", Config{Languages: []string{"go"}}, "project_name is required"},
		{"no languages", Config{ProjectName: "x"}, "at least one language"},
		{"unknown language", Config{ProjectName: "x", Languages: []string{"cobol"}}, "unsupported language"},
		{"bad encoding", Config{ProjectName: "x", Languages: []string{"go"}, Encoding: "not-a-charset"}, "unknown encoding"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.config.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestConfigValidationEnumeratesLanguages(t *testing.T) {
	err := (&Config{ProjectName: "x", Languages: []string{"cobol"}}).Validate()
	require.Error(t, err)
	// The message lists valid values so the operator can fix the file.
	assert.Contains(t, err.Error(), "go")
	assert.Contains(t, err.Error(), "python")
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, AppDirName), 0o755))
	require.NoError(t, os.WriteFile(DescriptorPath(root), []byte(":\tnot yaml"), 0o644))

	_, err := LoadConfig(root)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoDescriptor)
}
