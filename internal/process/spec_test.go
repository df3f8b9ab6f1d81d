package process

import (
	"errors"
	"runtime"
	"testing"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

func TestBuildCommand_SplitsCommandWhenNoArgs(t *testing.T) {
	requireUnix(t)
	s := Spec{Name: "x", Command: "sleep 1"}
	cmd, err := s.BuildCommand()
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	if len(cmd.Args) != 2 || cmd.Args[1] != "1" {
		t.Fatalf("unexpected argv: %#v", cmd.Args)
	}
	if cmd.SysProcAttr == nil || !cmd.SysProcAttr.Setpgid {
		t.Fatalf("SysProcAttr Setpgid not set")
	}
}

func TestBuildCommand_ExplicitArgsAreNotSplit(t *testing.T) {
	requireUnix(t)
	s := Spec{Command: "sh", Args: []string{"-c", "echo a b"}, WorkDir: "/tmp", Env: []string{"A=1"}}
	cmd, err := s.BuildCommand()
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	if len(cmd.Args) != 3 || cmd.Args[2] != "echo a b" {
		t.Fatalf("args were altered: %#v", cmd.Args)
	}
	if cmd.Dir != "/tmp" || len(cmd.Env) != 1 || cmd.Env[0] != "A=1" {
		t.Fatalf("workdir/env not applied: dir=%q env=%v", cmd.Dir, cmd.Env)
	}
}

func TestBuildCommand_MissingExecutable(t *testing.T) {
	for _, c := range []string{"", "   ", "/definitely/not/here/bridge-server", "no-such-binary-sidekeeper-test"} {
		s := Spec{Command: c}
		if _, err := s.BuildCommand(); !errors.Is(err, ErrExecutableNotFound) {
			t.Fatalf("command %q: expected ErrExecutableNotFound, got %v", c, err)
		}
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		spec Spec
		want string
	}{
		{Spec{Name: "bridge", Command: "/opt/x/server"}, "bridge"},
		{Spec{Command: "/opt/x/bridge-server --port 4001"}, "bridge-server"},
		{Spec{Command: `C:\app\bridge-server.exe`}, "bridge-server.exe"},
		{Spec{}, ""},
	}
	for _, tt := range tests {
		if got := tt.spec.DisplayName(); got != tt.want {
			t.Fatalf("DisplayName(%+v) = %q, want %q", tt.spec, got, tt.want)
		}
	}
}
