package summary

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestPersistWritesNestedPath(t *testing.T) {
	t.Parallel()

	logger, hook := logtest.NewNullLogger()
	path := filepath.Join(t.TempDir(), "nested", "dir", "summary.json")

	require.True(t, Persist(logger, "[test]", path, sample{Name: "store", Count: 2}))

	var got sample
	require.NoError(t, ReadJSONFile(path, &got))
	assert.Equal(t, sample{Name: "store", Count: 2}, got)
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
}

func TestPersistFailureIsAWarning(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	logger, hook := logtest.NewNullLogger()
	ok := Persist(logger, "[test]", filepath.Join(blocker, "summary.json"), sample{})
	require.False(t, ok)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Contains(t, hook.LastEntry().Message, "Failed to write summary")
}

func TestPersistWithoutPath(t *testing.T) {
	t.Parallel()

	logger, hook := logtest.NewNullLogger()
	assert.False(t, Persist(logger, "[test]", "", sample{}))
	assert.Empty(t, hook.AllEntries())
}

func TestEmitIndentsWithoutEscaping(t *testing.T) {
	t.Parallel()

	logger, hook := logtest.NewNullLogger()
	Emit(logger, "[test]", sample{Name: "a&b"})
	assert.Contains(t, hook.LastEntry().Message, `"name": "a&b"`)
}

func TestReadJSONFileRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "s.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"x","extra":1}`), 0o644))
	var got sample
	require.Error(t, ReadJSONFile(path, &got))
}
