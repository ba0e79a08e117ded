package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/process"
)

// ErrNotFound indicates the current process is not among the matched worker processes.
var ErrNotFound = errors.New("current process not found among workers")

// Identity describes the position of the current process among its sibling workers.
type Identity struct {
	ID  int
	PID int
}

// Provider resolves the identity of the current process for a worker type.
type Provider interface {
	Identify(ctx context.Context, workerType string) (Identity, error)
}

type processInfo struct {
	pid     int
	cmdline string
}

// ProcessProvider ranks the current process among all processes whose command
// line contains the worker type name. The lowest matching PID is the
// supervising parent, so worker ids start at zero with the first child.
type ProcessProvider struct {
	pid  int
	list func(ctx context.Context) ([]processInfo, error)
}

// NewProcessProvider returns a provider backed by the OS process table.
func NewProcessProvider() *ProcessProvider {
	return &ProcessProvider{
		pid:  os.Getpid(),
		list: listProcesses,
	}
}

// Identify implements Provider.
func (p *ProcessProvider) Identify(ctx context.Context, workerType string) (Identity, error) {
	if strings.TrimSpace(workerType) == "" {
		return Identity{}, fmt.Errorf("worker type is empty")
	}

	procs, err := p.list(ctx)
	if err != nil {
		return Identity{}, fmt.Errorf("list processes: %w", err)
	}

	pids := make([]int, 0, len(procs))
	for _, proc := range procs {
		if strings.Contains(proc.cmdline, workerType) {
			pids = append(pids, proc.pid)
		}
	}
	slices.Sort(pids)

	idx := slices.Index(pids, p.pid)
	if idx < 0 {
		return Identity{}, ErrNotFound
	}

	return Identity{ID: idx - 1, PID: p.pid}, nil
}

func listProcesses(ctx context.Context) ([]processInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]processInfo, 0, len(procs))
	for _, proc := range procs {
		cmdline, err := proc.CmdlineWithContext(ctx)
		if err != nil {
			// exited between listing and inspection, or not readable
			continue
		}
		out = append(out, processInfo{pid: int(proc.Pid), cmdline: cmdline})
	}
	return out, nil
}

// EnvProvider reads the worker id from an environment variable set by the
// orchestrator (for example a StatefulSet ordinal or a supervisor slot).
type EnvProvider struct {
	Key string
}

// Identify implements Provider.
func (p EnvProvider) Identify(_ context.Context, _ string) (Identity, error) {
	raw := strings.TrimSpace(os.Getenv(p.Key))
	if raw == "" {
		return Identity{}, fmt.Errorf("%s is not set", p.Key)
	}

	id, err := strconv.Atoi(raw)
	if err != nil {
		return Identity{}, fmt.Errorf("parse %s: %w", p.Key, err)
	}

	return Identity{ID: id, PID: os.Getpid()}, nil
}
