//go:build linux

package power

import (
	"context"

	"github.com/godbus/dbus/v5"
	log "github.com/sirupsen/logrus"
)

const (
	login1Interface = "org.freedesktop.login1.Manager"
	login1Path      = dbus.ObjectPath("/org/freedesktop/login1")
	prepareForSleep = "PrepareForSleep"
)

// watch subscribes to logind's PrepareForSleep signal. The signal body is a
// single bool: true right before suspend, false after resume.
func watch(ctx context.Context, target Sleeper) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		// Containers and minimal systems have no system bus; run without
		// sleep detection rather than failing the daemon.
		log.WithError(err).Warn("system bus unavailable, sleep detection disabled")
		<-ctx.Done()
		return ctx.Err()
	}
	defer conn.Close()

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(login1Interface),
		dbus.WithMatchMember(prepareForSleep),
		dbus.WithMatchObjectPath(login1Path),
	); err != nil {
		return err
	}

	signals := make(chan *dbus.Signal, 8)
	conn.Signal(signals)
	log.Debug("sleep watcher attached to logind")

	for {
		select {
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			entering, valid := prepareForSleepBody(sig)
			if !valid {
				continue
			}
			if entering {
				log.Info("host preparing to sleep")
				target.PauseForSleep(ctx)
			} else {
				log.Info("host resumed from sleep")
				target.ResumeAfterWake(ctx)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func prepareForSleepBody(sig *dbus.Signal) (entering, valid bool) {
	if sig == nil || sig.Name != login1Interface+"."+prepareForSleep || len(sig.Body) != 1 {
		return false, false
	}
	entering, valid = sig.Body[0].(bool)
	return entering, valid
}
