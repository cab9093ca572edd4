package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"ccwatch/internal/agentproc"
	"ccwatch/internal/config"
	"ccwatch/internal/constants"
	"ccwatch/internal/credential"
	"ccwatch/internal/events"
	"ccwatch/internal/history"
	"ccwatch/internal/keyring"
	"ccwatch/internal/logging"
	tracing "ccwatch/internal/monitoring/tracing"
	"ccwatch/internal/notify"
	"ccwatch/internal/power"
	"ccwatch/internal/refresh"
	"ccwatch/internal/runtime"
	"ccwatch/internal/server"
	"ccwatch/internal/state"
	"ccwatch/internal/update"
	"ccwatch/internal/upstream"
	"ccwatch/internal/usage"
	"ccwatch/internal/version"
)

func main() {
	args := os.Args[1:]
	if len(args) > 0 {
		switch args[0] {
		case "version":
			fmt.Println(version.Version)
			return
		case "status":
			os.Exit(runStatus(args[1:]))
		case "run":
			args = args[1:]
		}
	}

	flags := flag.NewFlagSet("ccwatch", flag.ExitOnError)
	configPath := flags.String("config", config.DefaultConfigPath(), "Path to configuration file")
	debug := flags.Bool("debug", false, "Enable debug logging")
	_ = flags.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if *debug {
		cfg.Debug = true
	}
	if err := logging.Setup(cfg); err != nil {
		log.WithError(err).Fatal("failed to configure logging")
	}
	if err := os.MkdirAll(cfg.DataDir, constants.SecretDirMode); err != nil {
		log.WithError(err).Fatal("failed to create data directory")
	}

	traceShutdown, err := tracing.Init(context.Background())
	if err != nil {
		log.WithError(err).Warn("failed to initialize tracing")
	}
	if traceShutdown != nil {
		defer func() {
			if err := traceShutdown(context.Background()); err != nil {
				log.WithError(err).Warn("failed to shutdown tracing")
			}
		}()
	}

	log.WithFields(log.Fields{
		"version": version.Version,
		"config":  *configPath,
	}).Info("starting ccwatch")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	secrets := keyring.New()
	session := state.NewFileStore(cfg.StatePath())
	hub := events.NewHub()
	if cfg.Debug {
		hub.Subscribe(events.TopicStateChanged, func(_ context.Context, evt events.Event) {
			log.WithField("topic", evt.Topic).Debugf("state event: %v", evt.Payload)
		})
		hub.Subscribe(events.TopicCredentialResolved, func(_ context.Context, evt events.Event) {
			log.WithField("topic", evt.Topic).Debugf("credential event: %v", evt.Metadata)
		})
	}

	creds := credential.NewStore(cfg, secrets, session, hub)
	cli := upstream.NewCLI(cfg.CLIPath)
	if !cli.Available() {
		log.Warn("upstream CLI not found; unauthorized fetches cannot be repaired automatically")
	}
	client := usage.NewClient(creds, cli.RefreshCredentials)
	orch := refresh.NewOrchestrator(ctx, creds, client, hub)

	detachNotify := notify.NewDispatcher(notify.LogNotifier{}).Attach(hub)
	defer detachNotify()

	agents := agentproc.New(constants.UpstreamBinaryName)
	sweeper := agentproc.NewSweeper(agents, hub)

	var hist *history.Store
	if cfg.HistoryEnabled {
		retention := time.Duration(cfg.HistoryRetentionDays) * 24 * time.Hour
		hist, err = history.Open(cfg.HistoryPath(), retention)
		if err != nil {
			log.WithError(err).Warn("failed to open usage history; continuing without it")
			hist = nil
		} else {
			defer hist.Close()
			unsubscribeHist := hist.Subscribe(hub)
			defer unsubscribeHist()
		}
	}

	checker := update.NewChecker(session, hub)

	// Reloads swap this pointer; loops that re-read it pick changes up on
	// their next cycle. The listen address is bound once at startup.
	var current atomic.Pointer[config.Config]
	current.Store(cfg)

	tasks := runtime.NewTaskManager(ctx)
	startTask := func(name string, fn runtime.TaskFunc) {
		if err := tasks.Start(name, fn); err != nil {
			log.WithError(err).WithField("task", name).Warn("failed to start task")
		}
	}

	poll := refresh.NewPollLoop(orch, creds, session,
		func() time.Duration {
			return time.Duration(current.Load().PollIntervalSec) * time.Second
		},
		func(ctx context.Context) {
			if current.Load().UpdateCheckEnabled {
				checker.MaybeCheck(ctx)
			}
		})
	startTask("poll-loop", poll.Run)

	if hist != nil {
		startTask("history-recorder", hist.Run)
		if err := tasks.StartPeriodic("history-prune", constants.HistoryPruneInterval, func(ctx context.Context) error {
			_, err := hist.Prune(ctx)
			return err
		}); err != nil {
			log.WithError(err).Warn("failed to start history pruning")
		}
	}
	if cfg.WatchUpstreamFile {
		startTask("upstream-watcher", func(ctx context.Context) error {
			creds.WatchUpstreamFile(ctx)
			return nil
		})
	}
	startTask("power-watcher", func(ctx context.Context) error {
		return power.Watch(ctx, orch)
	})
	if err := tasks.StartPeriodic("agent-sweeper", constants.AgentSweepInterval, sweeper.Sweep); err != nil {
		log.WithError(err).Warn("failed to start agent sweeper")
	}
	startTask("config-watcher", func(ctx context.Context) error {
		config.Watch(ctx, *configPath, func(next *config.Config) {
			if next.Listen != current.Load().Listen {
				log.WithField("listen", next.Listen).Warn("listen address changes require a restart")
			}
			if err := logging.Setup(next); err != nil {
				log.WithError(err).Warn("failed to apply logging configuration")
			}
			current.Store(next)
			hub.Publish(ctx, events.TopicConfigReloaded, nil, map[string]string{"path": *configPath})
		})
		return nil
	})

	engine := server.Build(cfg, server.Dependencies{
		Credentials:  creds,
		Orchestrator: orch,
		History:      hist,
		Hub:          hub,
		Tasks:        tasks,
		Agents:       agents,
	})
	srv := &http.Server{Addr: cfg.Listen, Handler: engine}

	go func() {
		log.WithField("listen", cfg.Listen).Info("http api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutdown signal received")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), constants.ServerShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown incomplete")
	}

	cancel()
	tasks.StopAll()
	tasks.Wait()
	log.Info("stopped")
}
