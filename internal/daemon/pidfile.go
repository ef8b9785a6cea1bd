package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// pidFilename is the single-instance guard file inside the data directory.
const pidFilename = "screenman.pid"

func pidPath(dataDir string) string {
	return filepath.Join(dataDir, pidFilename)
}

// WritePID records the current process id in the data directory, creating
// the directory when needed.
func WritePID(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory for PID file: %w", err)
	}
	data := strconv.Itoa(os.Getpid()) + "\n"
	if err := os.WriteFile(pidPath(dataDir), []byte(data), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", pidPath(dataDir), err)
	}
	return nil
}

// ReadPID returns the process id recorded in the data directory.
func ReadPID(dataDir string) (int, error) {
	data, err := os.ReadFile(pidPath(dataDir))
	if err != nil {
		return 0, fmt.Errorf("reading PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("PID file %s is corrupt: %w", pidPath(dataDir), err)
	}
	return pid, nil
}

// RemovePID deletes the PID file. A missing file is not an error.
func RemovePID(dataDir string) error {
	if err := os.Remove(pidPath(dataDir)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing PID file: %w", err)
	}
	return nil
}

// IsRunning reports whether the PID file names a live process.
func IsRunning(dataDir string) bool {
	pid, err := ReadPID(dataDir)
	return err == nil && isProcessAlive(pid)
}

// isProcessAlive probes pid with signal 0, which tests for existence
// without delivering anything.
func isProcessAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
