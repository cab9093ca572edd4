// Package runtime supervises the app's long-lived background goroutines:
// the poll loop, file watchers, the history sweeper and the update checker.
package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// TaskStatus is the lifecycle state of one background task.
type TaskStatus string

const (
	TaskRunning  TaskStatus = "running"
	TaskStopped  TaskStatus = "stopped"
	TaskFailed   TaskStatus = "failed"
	TaskCanceled TaskStatus = "canceled"
)

// TaskFunc is a task body. It runs until done or until its context is
// cancelled; a panic is recovered and recorded as a failure.
type TaskFunc func(ctx context.Context) error

// TaskInfo is the externally visible description of a task, reported by the
// status endpoint.
type TaskInfo struct {
	Name      string     `json:"name"`
	StartedAt time.Time  `json:"started_at"`
	Status    TaskStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
}

type task struct {
	info   TaskInfo
	cancel context.CancelFunc
}

// TaskManager owns the lifecycle of named background tasks. StopAll cancels
// every task context; Wait blocks until all bodies have returned.
type TaskManager struct {
	mu     sync.RWMutex
	tasks  map[string]*task
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func NewTaskManager(ctx context.Context) *TaskManager {
	ctx, cancel := context.WithCancel(ctx)
	return &TaskManager{
		tasks:  make(map[string]*task),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches fn under the given name. Names are unique per manager.
func (tm *TaskManager) Start(name string, fn TaskFunc) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if _, exists := tm.tasks[name]; exists {
		return fmt.Errorf("task %s already exists", name)
	}

	taskCtx, taskCancel := context.WithCancel(tm.ctx)
	t := &task{
		info: TaskInfo{
			Name:      name,
			StartedAt: time.Now(),
			Status:    TaskRunning,
		},
		cancel: taskCancel,
	}
	tm.tasks[name] = t

	tm.wg.Add(1)
	go func() {
		defer tm.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(log.Fields{"task": name, "panic": r}).Error("background task panicked")
				tm.setResult(t, TaskFailed, fmt.Errorf("panic: %v", r))
			}
		}()

		log.WithField("task", name).Info("background task started")
		err := fn(taskCtx)

		switch {
		case err != nil && taskCtx.Err() == context.Canceled:
			tm.setResult(t, TaskCanceled, nil)
		case err != nil:
			log.WithFields(log.Fields{"task": name, "error": err}).Error("background task failed")
			tm.setResult(t, TaskFailed, err)
		default:
			log.WithField("task", name).Info("background task stopped")
			tm.setResult(t, TaskStopped, nil)
		}
	}()

	return nil
}

// StartPeriodic runs fn immediately and then on every interval tick.
// Failures are logged and do not stop the schedule.
func (tm *TaskManager) StartPeriodic(name string, interval time.Duration, fn TaskFunc) error {
	return tm.Start(name, func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		if err := fn(ctx); err != nil && ctx.Err() == nil {
			log.WithFields(log.Fields{"task": name, "error": err}).Warn("periodic task run failed")
		}
		for {
			select {
			case <-ticker.C:
				if err := fn(ctx); err != nil && ctx.Err() == nil {
					log.WithFields(log.Fields{"task": name, "error": err}).Warn("periodic task run failed")
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}

// StartDelayed runs fn once after delay, unless cancelled first.
func (tm *TaskManager) StartDelayed(name string, delay time.Duration, fn TaskFunc) error {
	return tm.Start(name, func(ctx context.Context) error {
		select {
		case <-time.After(delay):
			return fn(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// Stop cancels one running task.
func (tm *TaskManager) Stop(name string) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	t, exists := tm.tasks[name]
	if !exists {
		return fmt.Errorf("task %s not found", name)
	}
	if t.info.Status != TaskRunning {
		return fmt.Errorf("task %s is not running", name)
	}
	t.cancel()
	return nil
}

// StopAll cancels every task context.
func (tm *TaskManager) StopAll() {
	tm.cancel()
}

// Wait blocks until every task body has returned.
func (tm *TaskManager) Wait() {
	tm.wg.Wait()
}

// List returns a stable snapshot of all tasks.
func (tm *TaskManager) List() []TaskInfo {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	infos := make([]TaskInfo, 0, len(tm.tasks))
	for _, t := range tm.tasks {
		infos = append(infos, t.info)
	}
	return infos
}

// Running counts tasks currently in the running state.
func (tm *TaskManager) Running() int {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	count := 0
	for _, t := range tm.tasks {
		if t.info.Status == TaskRunning {
			count++
		}
	}
	return count
}

func (tm *TaskManager) setResult(t *task, status TaskStatus, err error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	t.info.Status = status
	if err != nil {
		t.info.Error = err.Error()
	}
}
