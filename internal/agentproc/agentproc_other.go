//go:build !linux

package agentproc

import "context"

// Process enumeration is implemented via /proc and is Linux-only. Other
// platforms report an empty view instead of failing callers.
type nullService struct{}

func newPlatformService(string) Service { return nullService{} }

func (nullService) CountAgents(context.Context) (Counts, error) {
	return Counts{}, nil
}

func (nullService) DetectOrphans(context.Context) ([]ProcessRef, error) {
	return nil, nil
}

func (nullService) KillProcesses(context.Context, []ProcessRef) (int, error) {
	return 0, nil
}
