package query

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nmoshub/queryd/log"
	"github.com/nmoshub/queryd/registry"
	"github.com/nmoshub/queryd/subscription"
	"github.com/nmoshub/queryd/subsystem"
)

const watcherJoinTimeout = 5 * time.Second

// backoff between failed polls; the last step repeats until the adapter
// recovers
var watcherBackoff = []time.Duration{time.Second, 3 * time.Second, 10 * time.Second}

// Watcher owns the adapter's event stream. It forwards each event to the
// fan-out engine and keeps retrying through registry outages.
type Watcher struct {
	started  int32
	shutdown chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	source registry.Watcher
	fanout *Fanout
	store  *subscription.Store
}

// NewWatcher wires an event source to the fan-out engine
func NewWatcher(source registry.Watcher, fanout *Fanout, store *subscription.Store) *Watcher {
	return &Watcher{
		source: source,
		fanout: fanout,
		store:  store,
	}
}

// IsRunning safely checks whether the watcher is running
func (w *Watcher) IsRunning() bool {
	if w == nil {
		return false
	}
	return atomic.LoadInt32(&w.started) == 1
}

// Start runs the event loop
func (w *Watcher) Start() error {
	if w == nil {
		return fmt.Errorf("change watcher %w", subsystem.ErrNil)
	}
	if !atomic.CompareAndSwapInt32(&w.started, 0, 1) {
		return fmt.Errorf("change watcher %w", subsystem.ErrAlreadyStarted)
	}
	w.shutdown = make(chan struct{})
	var ctx context.Context
	ctx, w.cancel = context.WithCancel(context.Background())
	w.wg.Add(1)
	go w.run(ctx)
	log.Debugf(log.WatcherMgr, "Change watcher %s", subsystem.MsgStarted)
	return nil
}

// Stop cancels the in-flight poll, detaches every WebSocket and joins the
// event loop within a bounded timeout
func (w *Watcher) Stop() error {
	if w == nil {
		return fmt.Errorf("change watcher %w", subsystem.ErrNil)
	}
	if atomic.LoadInt32(&w.started) == 0 {
		return fmt.Errorf("change watcher %w", subsystem.ErrNotStarted)
	}
	defer func() {
		log.Debugf(log.WatcherMgr, "Change watcher %s", subsystem.MsgShutdown)
		atomic.CompareAndSwapInt32(&w.started, 1, 0)
	}()
	log.Debugf(log.WatcherMgr, "Change watcher %s", subsystem.MsgShuttingDown)
	close(w.shutdown)
	w.cancel()
	w.store.DetachAll()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(watcherJoinTimeout):
		log.Warnf(log.WatcherMgr, "Change watcher did not stop within %s", watcherJoinTimeout)
	}
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()
	attempt := 0
	for {
		select {
		case <-w.shutdown:
			return
		default:
		}

		events, err := w.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			idx := attempt
			if idx >= len(watcherBackoff) {
				idx = len(watcherBackoff) - 1
			}
			wait := watcherBackoff[idx]
			log.Errorf(log.WatcherMgr, "Change watcher poll failed, retrying in %s: %v", wait, err)
			attempt++
			select {
			case <-w.shutdown:
				return
			case <-time.After(wait):
			}
			continue
		}
		attempt = 0
		for i := range events {
			w.fanout.Dispatch(events[i])
		}
	}
}
