package refresh

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"ccwatch/internal/credential"
	"ccwatch/internal/state"
)

// PollLoop repeatedly triggers the orchestrator's automatic path, runs a
// best-effort secondary check, then sleeps for the configured interval.
// It is a single cooperative stream; overlapping automatic refreshes are
// impossible because the orchestrator declines while one is loading.
type PollLoop struct {
	orch     *Orchestrator
	creds    *credential.Store
	session  state.Store
	interval func() time.Duration
	// secondary runs after each refresh trigger; update-availability lives
	// here. Nil disables it.
	secondary func(ctx context.Context)
}

func NewPollLoop(orch *Orchestrator, creds *credential.Store, session state.Store, interval func() time.Duration, secondary func(ctx context.Context)) *PollLoop {
	return &PollLoop{
		orch:      orch,
		creds:     creds,
		session:   session,
		interval:  interval,
		secondary: secondary,
	}
}

// Run blocks until ctx is cancelled. The interval is re-read every
// iteration so a config reload takes effect on the next cycle.
func (p *PollLoop) Run(ctx context.Context) error {
	p.bootstrap(ctx)

	for {
		p.tick(ctx)

		timer := time.NewTimer(p.interval())
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func (p *PollLoop) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	switch p.orch.CurrentState() {
	case StatePausedForSleep, StateWakingUp:
		return
	}

	p.orch.RefreshAuto(ctx)
	if p.secondary != nil {
		p.secondary(ctx)
	}
}

// bootstrap performs one user-permitted attempt when a prior session
// finished setup but no credential survived the restart, so the loop does
// not start wedged in needs_manual_refresh.
func (p *PollLoop) bootstrap(ctx context.Context) {
	if !p.session.GetBool(state.KeySetupComplete) {
		return
	}
	if p.creds.HasEnvOverride() || p.creds.WarmMemory() || p.creds.HasCachedCredential(ctx) {
		return
	}
	log.Info("setup complete but no warm credential, running bootstrap refresh")
	p.orch.RefreshBootstrap(ctx)
}
