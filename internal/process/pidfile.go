package process

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ReadPIDFile reads a PID file written for the worker.
func ReadPIDFile(path string) (int, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return 0, err
	}
	pidLine, _, _ := strings.Cut(string(b), "\n")
	return strconv.Atoi(strings.TrimSpace(pidLine))
}

func writePIDFile(path string, pid int) error {
	if path == "" || pid <= 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o600)
}

// removePIDFile deletes path only when it still names pid.
func removePIDFile(path string, pid int) {
	if path == "" {
		return
	}
	if cur, err := ReadPIDFile(path); err == nil && cur == pid {
		_ = os.Remove(path)
	}
}
