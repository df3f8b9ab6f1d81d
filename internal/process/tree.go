package process

import (
	"context"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// ProcInfo is the minimal view of an OS process needed for the descendant scan.
type ProcInfo struct {
	PID  int
	PPID int
}

// ProcessLister enumerates currently running OS processes.
type ProcessLister interface {
	List(ctx context.Context) ([]ProcInfo, error)
}

// SystemLister lists processes through gopsutil.
type SystemLister struct{}

func (SystemLister) List(ctx context.Context) ([]ProcInfo, error) {
	procs, err := gopsproc.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]ProcInfo, 0, len(procs))
	for _, p := range procs {
		ppid, err := p.PpidWithContext(ctx)
		if err != nil {
			// exited between listing and inspection
			continue
		}
		out = append(out, ProcInfo{PID: int(p.Pid), PPID: int(ppid)})
	}
	return out, nil
}

// childrenOf returns the pids whose parent is pid. Only one level is scanned:
// grandchildren are not included.
func childrenOf(procs []ProcInfo, pid int) []int {
	var out []int
	for _, p := range procs {
		if p.PPID == pid && p.PID != pid {
			out = append(out, p.PID)
		}
	}
	return out
}
