package processfile

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/core-tools/site-analyzer-coordinator/pkg/errors"
)

// WaitPortFile returns the port published under name, waiting for the file to
// be written until ctx is done
func (m *Manager) WaitPortFile(ctx context.Context, name string) (int, error) {
	if port, err := m.ReadPortFile(name); err == nil {
		return port, nil
	}

	dir := m.Directory()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, errors.NewIOError("failed to create process file directory", err).WithContext("path", dir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return 0, errors.NewIOError("failed to create process file watcher", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return 0, errors.NewIOError("failed to watch process file directory", err).WithContext("path", dir)
	}

	// Written between the first read and Add
	if port, err := m.ReadPortFile(name); err == nil {
		return port, nil
	}

	path := filepath.Clean(m.PortFilePath(name))
	m.logger.Infof("Waiting for port file, path: %s", path)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return 0, errors.NewIOError("process file watcher closed", nil)
			}
			if filepath.Clean(event.Name) != path || event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			// A create event can arrive before the content; the write event follows
			if port, err := m.ReadPortFile(name); err == nil {
				return port, nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return 0, errors.NewIOError("process file watcher closed", nil)
			}
			m.logger.Warnf("Process file watcher error: %v", err)
		case <-ctx.Done():
			return 0, errors.NewCancelledError("stopped waiting for port file", ctx.Err()).WithContext("path", path)
		}
	}
}
