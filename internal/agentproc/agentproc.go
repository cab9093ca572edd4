// Package agentproc enumerates upstream CLI agent processes and terminates
// the ones that lost their parent session.
package agentproc

import (
	"context"
)

// Counts splits running agent processes into interactive sessions and the
// subagents they spawned.
type Counts struct {
	Sessions  int `json:"sessions"`
	Subagents int `json:"subagents"`
}

// ProcessRef identifies one running agent process.
type ProcessRef struct {
	PID     int    `json:"pid"`
	Command string `json:"command"`
}

// Service is the process collaborator consumed by the view layer. The
// daemon itself only sweeps for orphans; counting and killing are driven
// over the API.
type Service interface {
	CountAgents(ctx context.Context) (Counts, error)
	DetectOrphans(ctx context.Context) ([]ProcessRef, error)
	KillProcesses(ctx context.Context, refs []ProcessRef) (int, error)
}

// New returns the platform process scanner.
func New(binary string) Service {
	return newPlatformService(binary)
}
