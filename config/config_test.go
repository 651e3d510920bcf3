package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "session.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaultsForOmittedFields(t *testing.T) {
	path := writeConfig(t, "process_id: 1234\nentry_address: 0x401000\n")

	session, err := Load(path)
	require.NoError(t, err)

	assert.EqualValues(t, 1234, session.ProcessID)
	assert.EqualValues(t, 0x401000, session.EntryAddress)
	assert.EqualValues(t, -1, session.ThreadID)
	assert.EqualValues(t, -1, session.MaxTraceDepth)
	assert.EqualValues(t, -1, session.Lifetime)
}

func TestLoadRejectsMissingTarget(t *testing.T) {
	path := writeConfig(t, "entry_address: 0x401000\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsAmbiguousEntryPoint(t *testing.T) {
	path := writeConfig(t, "process_id: 1\nentry_symbol: main\nentry_address: 0x401000\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadParsesExcludeModules(t *testing.T) {
	path := writeConfig(t, "process_id: 1\nentry_symbol: main\nexclude_modules: [ntdll.dll, kernel32.dll]\n")

	session, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"ntdll.dll", "kernel32.dll"}, session.ExcludeModules)
}
