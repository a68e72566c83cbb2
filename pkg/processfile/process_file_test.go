package processfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/site-analyzer-coordinator/pkg/errors"
	"github.com/core-tools/site-analyzer-coordinator/pkg/logging"
)

func newTestManager(t *testing.T, useSubdirectory bool) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	return NewManager(Config{BaseDirectory: dir, UseSubdirectory: useSubdirectory}, logging.Nop()), dir
}

func TestNewManager_Defaults(t *testing.T) {
	manager := NewManager(Config{}, logging.Nop())

	assert.Equal(t, DefaultAppName, manager.config.AppName)
	assert.Equal(t, UserService, manager.config.ServiceContext)
	assert.NotEmpty(t, manager.Directory())
}

func TestPaths(t *testing.T) {
	manager, dir := newTestManager(t, true)

	assert.Equal(t, filepath.Join(dir, DefaultAppName, "backend.pid"), manager.PIDFilePath("backend"))
	assert.Equal(t, filepath.Join(dir, DefaultAppName, "bridge.port"), manager.PortFilePath("bridge"))
	assert.Equal(t, filepath.Join(dir, "logs", "backend.log"), manager.LogFilePath("backend.log"))

	absolute := filepath.Join(dir, "elsewhere.log")
	assert.Equal(t, absolute, manager.LogFilePath(absolute))
}

func TestPaths_ByServiceContext(t *testing.T) {
	for _, context := range []ServiceContext{SystemService, UserService, SessionService} {
		manager := NewManager(Config{ServiceContext: context, AppName: "test-app", UseSubdirectory: true}, logging.Nop())

		assert.Contains(t, manager.PIDFilePath("backend"), "test-app")
		assert.Contains(t, manager.PIDFilePath("backend"), "backend.pid")
		assert.Contains(t, manager.LogDirectory(), "logs")
	}
}

func TestWriteAndReadFiles(t *testing.T) {
	manager, _ := newTestManager(t, true)

	require.NoError(t, manager.WritePIDFile("backend", 4242))
	require.NoError(t, manager.WritePortFile("bridge", 50051))

	pid, err := manager.ReadPIDFile("backend")
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)

	port, err := manager.ReadPortFile("bridge")
	require.NoError(t, err)
	assert.Equal(t, 50051, port)
}

func TestReadPortFile_Invalid(t *testing.T) {
	manager, _ := newTestManager(t, false)

	_, err := manager.ReadPortFile("bridge")
	assert.True(t, errors.IsIOError(err))

	require.NoError(t, os.WriteFile(manager.PortFilePath("bridge"), []byte("not-a-port\n"), 0644))
	_, err = manager.ReadPortFile("bridge")
	assert.True(t, errors.IsValidationError(err))
}

func TestRemoveFiles(t *testing.T) {
	manager, _ := newTestManager(t, false)

	require.NoError(t, manager.WritePIDFile("backend", 1))
	require.NoError(t, manager.WritePortFile("backend", 2))

	require.NoError(t, manager.RemoveFiles("backend"))
	assert.NoFileExists(t, manager.PIDFilePath("backend"))
	assert.NoFileExists(t, manager.PortFilePath("backend"))

	// nothing left to remove
	assert.NoError(t, manager.RemoveFiles("backend"))
}

func TestValidateFileDirectory(t *testing.T) {
	dir := t.TempDir()

	assert.NoError(t, ValidateFileDirectory(filepath.Join(dir, "nested", "x.pid")))
	assert.DirExists(t, filepath.Join(dir, "nested"))

	file := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	assert.True(t, errors.IsValidationError(ValidateFileDirectory(filepath.Join(file, "x.pid"))))
}

func TestValidateConfig(t *testing.T) {
	assert.NoError(t, ValidateConfig(Config{}))
	assert.NoError(t, ValidateConfig(Config{ServiceContext: SessionService}))
	assert.Error(t, ValidateConfig(Config{ServiceContext: "cluster"}))
	assert.Error(t, ValidateConfig(Config{AppName: "a/b"}))
}

func TestWaitPortFile(t *testing.T) {
	t.Run("already_published", func(t *testing.T) {
		manager, _ := newTestManager(t, false)
		require.NoError(t, manager.WritePortFile("coordinator", 50070))

		port, err := manager.WaitPortFile(context.Background(), "coordinator")
		require.NoError(t, err)
		assert.Equal(t, 50070, port)
	})

	t.Run("published_later", func(t *testing.T) {
		manager, _ := newTestManager(t, true)

		go func() {
			time.Sleep(100 * time.Millisecond)
			_ = manager.WritePortFile("coordinator", 50071)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		port, err := manager.WaitPortFile(ctx, "coordinator")
		require.NoError(t, err)
		assert.Equal(t, 50071, port)
	})

	t.Run("never_published", func(t *testing.T) {
		manager, _ := newTestManager(t, false)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_, err := manager.WaitPortFile(ctx, "coordinator")
		assert.True(t, errors.IsCancelledError(err))
	})
}
