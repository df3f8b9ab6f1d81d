package process

import (
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/loykin/sidekeeper/internal/logger"
)

// Spec describes the worker to launch.
type Spec struct {
	Name      string            `json:"name" mapstructure:"name"`
	Command   string            `json:"command" mapstructure:"command"`     // executable path or name on PATH; may carry args when Args is empty
	Args      []string          `json:"args" mapstructure:"args"`           // explicit arguments
	WorkDir   string            `json:"work_dir" mapstructure:"workdir"`    // optional working dir
	Env       []string          `json:"env" mapstructure:"env"`             // full merged environment; empty inherits the host's
	PIDFile   string            `json:"pid_file" mapstructure:"pidfile"`    // optional pidfile path
	StopGrace time.Duration     `json:"stop_grace" mapstructure:"stop_grace"` // wait before SIGKILL on terminate; 0 sends SIGTERM only
	Log       logger.FileConfig `json:"log" mapstructure:"-"`
}

// argv splits the spec into executable and arguments. Shell syntax is not
// interpreted; the worker is always exec'd directly.
func (s *Spec) argv() (string, []string) {
	if len(s.Args) > 0 {
		return strings.TrimSpace(s.Command), s.Args
	}
	parts := strings.Fields(s.Command)
	if len(parts) == 0 {
		return "", nil
	}
	return parts[0], parts[1:]
}

// BuildCommand resolves the executable and constructs an *exec.Cmd.
// It returns ErrExecutableNotFound when the command cannot be resolved.
func (s *Spec) BuildCommand() (*exec.Cmd, error) {
	name, args := s.argv()
	if name == "" {
		return nil, fmt.Errorf("%w: empty command", ErrExecutableNotFound)
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrExecutableNotFound, name, err)
	}
	// #nosec G204 -- the worker executable comes from the host's own configuration
	cmd := exec.Command(path, args...)
	if s.WorkDir != "" {
		cmd.Dir = s.WorkDir
	}
	if len(s.Env) > 0 {
		cmd.Env = s.Env
	}
	configureSysProcAttr(cmd)
	return cmd, nil
}

// DisplayName returns Name, falling back to the executable base name.
func (s *Spec) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	name, _ := s.argv()
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		return name[i+1:]
	}
	return name
}
