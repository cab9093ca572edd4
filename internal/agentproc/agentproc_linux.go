//go:build linux

package agentproc

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
)

// procScanner walks /proc looking for processes running the agent binary,
// either directly or as a script argument under an interpreter.
type procScanner struct {
	root   string
	binary string
}

func newPlatformService(binary string) Service {
	return &procScanner{root: "/proc", binary: binary}
}

type scannedProc struct {
	pid  int
	ppid int
	cmd  string
}

func (s *procScanner) CountAgents(ctx context.Context) (Counts, error) {
	procs, err := s.scan(ctx)
	if err != nil {
		return Counts{}, err
	}
	matching := make(map[int]struct{}, len(procs))
	for _, p := range procs {
		matching[p.pid] = struct{}{}
	}

	var counts Counts
	for _, p := range procs {
		if _, parentIsAgent := matching[p.ppid]; parentIsAgent {
			counts.Subagents++
		} else {
			counts.Sessions++
		}
	}
	return counts, nil
}

// DetectOrphans returns agent processes whose parent went away: they were
// reparented to init or their parent vanished between scans.
func (s *procScanner) DetectOrphans(ctx context.Context) ([]ProcessRef, error) {
	procs, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	var orphans []ProcessRef
	for _, p := range procs {
		if p.ppid == 1 || !s.pidExists(p.ppid) {
			orphans = append(orphans, ProcessRef{PID: p.pid, Command: p.cmd})
		}
	}
	return orphans, nil
}

func (s *procScanner) KillProcesses(ctx context.Context, refs []ProcessRef) (int, error) {
	killed := 0
	for _, ref := range refs {
		if ctx.Err() != nil {
			return killed, ctx.Err()
		}
		if ref.PID <= 1 {
			continue
		}
		if err := syscall.Kill(ref.PID, syscall.SIGTERM); err != nil {
			log.WithError(err).WithField("pid", ref.PID).Debug("could not signal process")
			continue
		}
		killed++
	}
	if killed > 0 {
		log.WithField("count", killed).Info("terminated orphaned agent processes")
	}
	return killed, nil
}

func (s *procScanner) scan(ctx context.Context) ([]scannedProc, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.root, err)
	}
	var procs []scannedProc
	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || !entry.IsDir() {
			continue
		}
		cmd, ok := s.agentCommand(pid)
		if !ok {
			continue
		}
		ppid, err := s.parentPID(pid)
		if err != nil {
			// Process exited mid-scan.
			continue
		}
		procs = append(procs, scannedProc{pid: pid, ppid: ppid, cmd: cmd})
	}
	return procs, nil
}

func (s *procScanner) agentCommand(pid int) (string, bool) {
	raw, err := os.ReadFile(filepath.Join(s.root, strconv.Itoa(pid), "cmdline"))
	if err != nil || len(raw) == 0 {
		return "", false
	}
	args := strings.Split(strings.TrimRight(string(raw), "\x00"), "\x00")
	if len(args) == 0 || args[0] == "" {
		return "", false
	}
	if filepath.Base(args[0]) == s.binary {
		return strings.Join(args, " "), true
	}
	if len(args) > 1 && filepath.Base(args[1]) == s.binary {
		return strings.Join(args, " "), true
	}
	return "", false
}

func (s *procScanner) parentPID(pid int) (int, error) {
	raw, err := os.ReadFile(filepath.Join(s.root, strconv.Itoa(pid), "stat"))
	if err != nil {
		return 0, err
	}
	// The comm field is parenthesized and may itself contain spaces or
	// parentheses; the numeric fields resume after the last ')'.
	text := string(raw)
	i := strings.LastIndexByte(text, ')')
	if i < 0 {
		return 0, fmt.Errorf("malformed stat for pid %d", pid)
	}
	fields := strings.Fields(text[i+1:])
	if len(fields) < 2 {
		return 0, fmt.Errorf("malformed stat for pid %d", pid)
	}
	return strconv.Atoi(fields[1])
}

func (s *procScanner) pidExists(pid int) bool {
	_, err := os.Stat(filepath.Join(s.root, strconv.Itoa(pid)))
	return err == nil
}
