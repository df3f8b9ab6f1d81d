//go:build !windows

package process

import "syscall"

// terminateProcess asks pid to exit.
func terminateProcess(pid int) error {
	if pid <= 0 {
		return syscall.ESRCH
	}
	return syscall.Kill(pid, syscall.SIGTERM)
}

// killProcess forces pid to exit.
func killProcess(pid int) error {
	if pid <= 0 {
		return syscall.ESRCH
	}
	return syscall.Kill(pid, syscall.SIGKILL)
}
