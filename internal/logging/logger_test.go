package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerWritesToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.log")

	l, err := NewLogger(Config{Level: INFO, OutputFile: path})
	require.NoError(t, err)
	defer l.Close()

	l.Info("hello", "k", "v")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
	assert.Contains(t, string(data), "k=v")
}

func TestRotateIfOversizeShiftsBackupChain(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.log")
	require.NoError(t, os.WriteFile(path, []byte("old contents"), 0644))
	require.NoError(t, os.WriteFile(path+".1", []byte("gen 1"), 0644))

	l := &Logger{cfg: Config{OutputFile: path, MaxSize: 1, MaxBackups: 3}}
	require.NoError(t, l.rotateIfOversize())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "current log file should have been rotated away")

	gen1, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	assert.Equal(t, "old contents", string(gen1))

	gen2, err := os.ReadFile(path + ".2")
	require.NoError(t, err)
	assert.Equal(t, "gen 1", string(gen2))
}

func TestRotateIfOversizeNegativeMaxBackupsTruncates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pipeline.log")
	require.NoError(t, os.WriteFile(path, []byte("old contents"), 0644))

	l := &Logger{cfg: Config{OutputFile: path, MaxSize: 1, MaxBackups: -1}}
	require.NoError(t, l.rotateIfOversize())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(path + ".1")
	assert.True(t, os.IsNotExist(err), "negative MaxBackups must not keep a generation")
}

func TestForRunFallsBackWithoutInitialize(t *testing.T) {
	l := ForRun("run-123")
	require.NotNil(t, l)
	l.Info("no panic without Initialize")
}
