// Package power reacts to host suspend and resume so usage refreshes are
// not attempted while the machine is asleep.
package power

import "context"

// Sleeper receives suspend and resume transitions.
type Sleeper interface {
	PauseForSleep(ctx context.Context)
	ResumeAfterWake(ctx context.Context)
}

// Watch blocks delivering sleep transitions to target until ctx ends. On
// platforms without a detection mechanism it idles until cancelled.
func Watch(ctx context.Context, target Sleeper) error {
	return watch(ctx, target)
}
