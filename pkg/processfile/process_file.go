package processfile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/core-tools/site-analyzer-coordinator/pkg/errors"
	"github.com/core-tools/site-analyzer-coordinator/pkg/logging"
)

const DefaultAppName = "site-analyzer"

// Config controls where PID, port and log files are placed
type Config struct {
	// Base directory for runtime files. If empty, an OS-appropriate default is used
	BaseDirectory string `yaml:"base_directory,omitempty"`

	ServiceContext ServiceContext `yaml:"service_context,omitempty"`

	// Application name for subdirectory creation
	AppName string `yaml:"app_name,omitempty"`

	UseSubdirectory bool `yaml:"use_subdirectory,omitempty"`
}

// ServiceContext defines the context in which the coordinator runs
type ServiceContext string

const (
	SystemService  ServiceContext = "system"
	UserService    ServiceContext = "user"
	SessionService ServiceContext = "session"
)

// Manager writes the runtime files other local processes use to find the coordinator:
// the owned backend's PID file and the Bridge port file.
type Manager struct {
	config Config
	logger logging.Logger
}

func NewManager(config Config, logger logging.Logger) *Manager {
	if config.AppName == "" {
		config.AppName = DefaultAppName
	}
	if config.ServiceContext == "" {
		config.ServiceContext = UserService
	}
	return &Manager{
		config: config,
		logger: logger,
	}
}

func ValidateConfig(config Config) error {
	switch config.ServiceContext {
	case "", SystemService, UserService, SessionService:
	default:
		return errors.NewValidationError("invalid service context: "+string(config.ServiceContext), nil)
	}
	if strings.ContainsAny(config.AppName, `/\`) {
		return errors.NewValidationError("app name cannot contain path separators", nil).WithContext("app_name", config.AppName)
	}
	return nil
}

func (m *Manager) Directory() string {
	baseDir := m.baseDirectory()
	if m.config.UseSubdirectory {
		baseDir = filepath.Join(baseDir, m.config.AppName)
	}
	return baseDir
}

func (m *Manager) PIDFilePath(name string) string {
	return filepath.Join(m.Directory(), name+".pid")
}

func (m *Manager) PortFilePath(name string) string {
	return filepath.Join(m.Directory(), name+".port")
}

func (m *Manager) WritePIDFile(name string, pid int) error {
	return m.writeNumber(m.PIDFilePath(name), "pid", pid)
}

func (m *Manager) WritePortFile(name string, port int) error {
	return m.writeNumber(m.PortFilePath(name), "port", port)
}

func (m *Manager) ReadPIDFile(name string) (int, error) {
	return m.readNumber(m.PIDFilePath(name), "pid")
}

func (m *Manager) ReadPortFile(name string) (int, error) {
	return m.readNumber(m.PortFilePath(name), "port")
}

// RemoveFiles deletes the PID and port files for name. Missing files are not an error.
func (m *Manager) RemoveFiles(name string) error {
	collection := errors.NewErrorCollection()
	for _, path := range []string{m.PIDFilePath(name), m.PortFilePath(name)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			m.logger.Warnf("Failed to remove runtime file, path: %s, error: %v", path, err)
			collection.Add(errors.NewIOError("failed to remove runtime file", err).WithContext("path", path))
		}
	}
	return collection.ToError()
}

// LogDirectory is where relative log output paths are resolved
func (m *Manager) LogDirectory() string {
	if m.config.BaseDirectory != "" {
		return filepath.Join(m.config.BaseDirectory, "logs")
	}
	baseDir := m.logBaseDirectory()
	if m.config.UseSubdirectory {
		return filepath.Join(baseDir, m.config.AppName, "logs")
	}
	return filepath.Join(baseDir, "logs")
}

// LogFilePath resolves path against the log directory unless it is already absolute
func (m *Manager) LogFilePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(m.LogDirectory(), path)
}

func (m *Manager) writeNumber(path string, kind string, value int) error {
	m.logger.Debugf("Writing %s file, value: %d, path: %s", kind, value, path)

	if err := ValidateFileDirectory(path); err != nil {
		m.logger.Errorf("%s file directory validation failed, path: %s, error: %v", kind, path, err)
		return errors.NewIOError(kind+" file directory validation failed", err).WithContext("path", path)
	}

	content := fmt.Sprintf("%d\n", value)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		m.logger.Errorf("Failed to write %s file, path: %s, error: %v", kind, path, err)
		return errors.NewIOError("failed to write "+kind+" file", err).WithContext("path", path)
	}

	m.logger.Infof("Runtime file written, kind: %s, value: %d, path: %s", kind, value, path)
	return nil
}

func (m *Manager) readNumber(path string, kind string) (int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.NewIOError("failed to read "+kind+" file", err).WithContext("path", path)
	}

	text := strings.TrimSpace(string(content))
	value, err := strconv.Atoi(text)
	if err != nil || value <= 0 {
		return 0, errors.NewValidationError("invalid "+kind+" in file", err).
			WithContext("path", path).
			WithContext("content", text)
	}
	return value, nil
}

func (m *Manager) baseDirectory() string {
	if m.config.BaseDirectory != "" {
		return m.config.BaseDirectory
	}

	switch m.config.ServiceContext {
	case SystemService:
		return systemServiceDirectory()
	case SessionService:
		return sessionServiceDirectory()
	default:
		return userServiceDirectory()
	}
}

func (m *Manager) logBaseDirectory() string {
	switch m.config.ServiceContext {
	case SystemService:
		if runtime.GOOS == "windows" {
			return systemServiceDirectory()
		}
		return "/var/log"
	case SessionService:
		return os.TempDir()
	default:
		return userDataDirectory()
	}
}

func systemServiceDirectory() string {
	switch runtime.GOOS {
	case "windows":
		if programData := os.Getenv("PROGRAMDATA"); programData != "" {
			return programData
		}
		return `C:\ProgramData`
	case "darwin":
		return "/var/run"
	default:
		if _, err := os.Stat("/run"); err == nil {
			return "/run"
		}
		return "/var/run"
	}
}

func userServiceDirectory() string {
	switch runtime.GOOS {
	case "windows":
		return localAppData()
	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return os.TempDir()
		}
		return filepath.Join(homeDir, "Library", "Application Support")
	default:
		if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
			return runtimeDir
		}
		return os.TempDir()
	}
}

func sessionServiceDirectory() string {
	if runtime.GOOS == "linux" {
		sessionDir := fmt.Sprintf("/run/user/%d", os.Getuid())
		if _, err := os.Stat(sessionDir); err == nil {
			return sessionDir
		}
	}
	return os.TempDir()
}

func userDataDirectory() string {
	switch runtime.GOOS {
	case "windows":
		return localAppData()
	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return os.TempDir()
		}
		return filepath.Join(homeDir, "Library", "Logs")
	default:
		if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
			return dataHome
		}
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return os.TempDir()
		}
		return filepath.Join(homeDir, ".local", "share")
	}
}

func localAppData() string {
	if dir := os.Getenv("LOCALAPPDATA"); dir != "" {
		return dir
	}
	if userProfile := os.Getenv("USERPROFILE"); userProfile != "" {
		return filepath.Join(userProfile, "AppData", "Local")
	}
	return os.TempDir()
}

// ValidateFileDirectory makes sure the directory of path exists and is writable
func ValidateFileDirectory(path string) error {
	dir := filepath.Dir(path)

	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return errors.NewIOError("failed to access runtime file directory", err).WithContext("directory", dir)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.NewIOError("failed to create runtime file directory", err).WithContext("directory", dir)
		}
	} else if !info.IsDir() {
		return errors.NewValidationError("runtime file path is not a directory", nil).WithContext("path", dir)
	}

	testFile := filepath.Join(dir, ".write_test")
	file, err := os.Create(testFile)
	if err != nil {
		return errors.NewIOError("runtime file directory is not writable", err).WithContext("directory", dir)
	}
	file.Close()
	os.Remove(testFile)

	return nil
}
