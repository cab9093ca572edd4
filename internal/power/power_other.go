//go:build !linux

package power

import "context"

func watch(ctx context.Context, _ Sleeper) error {
	<-ctx.Done()
	return ctx.Err()
}
