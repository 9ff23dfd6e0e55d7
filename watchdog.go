package qudicore

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// Watchdog periodically probes every activated, threaded module to detect
// one whose worker thread has stopped responding to dispatched work,
// supplementing watchdog.py's liveness-probing behavior dropped from the
// distilled spec. A stuck module is logged at critical level; per spec §7
// that also triggers the owning Application's orderly-shutdown hook.
type Watchdog struct {
	cron     *cron.Cron
	manager  *Manager
	probe    func(ctx context.Context, moduleName string) error
	timeout  time.Duration
	log      *Logger
	entryID  cron.EntryID
}

// NewWatchdog constructs a watchdog that runs probe against every
// registered module's snapshot once per tick. probe is expected to
// dispatch a trivial no-op onto the module's worker thread and return
// ErrDispatchTimeout if it doesn't complete within timeout.
func NewWatchdog(manager *Manager, probe func(ctx context.Context, moduleName string) error, timeout time.Duration, log *Logger) *Watchdog {
	return &Watchdog{
		cron:    cron.New(),
		manager: manager,
		probe:   probe,
		timeout: timeout,
		log:     log,
	}
}

// Start schedules the liveness probe at the given cron spec (e.g. "@every
// 30s") and begins running it in the background.
func (w *Watchdog) Start(spec string) error {
	id, err := w.cron.AddFunc(spec, w.tick)
	if err != nil {
		return err
	}
	w.entryID = id
	w.cron.Start()
	return nil
}

// Stop halts the watchdog's background scheduler, waiting for any in-flight
// tick to finish.
func (w *Watchdog) Stop() {
	ctx := w.cron.Stop()
	<-ctx.Done()
}

func (w *Watchdog) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	for _, snap := range w.manager.Snapshot() {
		if snap.State != StateIdle.String() && snap.State != StateLocked.String() {
			continue
		}
		if err := w.probe(ctx, snap.Name); err != nil {
			w.log.Critical("module failed to respond to liveness probe", "module", snap.Name, "error", err)
		}
	}
}
