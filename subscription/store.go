package subscription

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid"

	"github.com/nmoshub/queryd/grain"
	"github.com/nmoshub/queryd/log"
	"github.com/nmoshub/queryd/subsystem"
	"github.com/nmoshub/queryd/versions"
)

const (
	defaultGrace    = 10 * time.Second
	defaultQueueLen = 64
	sweepInterval   = 5 * time.Second
)

var errSubscriptionNotFound = errors.New("subscription not found")

// Store is the subscription registry. All mutations happen under one mutex;
// grain delivery runs on one goroutine per subscription so a stalled client
// never blocks another.
type Store struct {
	started  int32
	shutdown chan struct{}
	wg       sync.WaitGroup

	mu       sync.RWMutex
	subs     map[string]*Subscription
	byHash   map[uuid.UUID]string
	grace    time.Duration
	queueLen int
}

// NewStore returns a store reaping idle non-persistent subscriptions after
// grace, with per-subscription queues of queueLen grains
func NewStore(grace time.Duration, queueLen int) *Store {
	if grace <= 0 {
		grace = defaultGrace
	}
	if queueLen <= 0 {
		queueLen = defaultQueueLen
	}
	return &Store{
		subs:     make(map[string]*Subscription),
		byHash:   make(map[uuid.UUID]string),
		grace:    grace,
		queueLen: queueLen,
	}
}

// IsRunning safely checks whether the sweeper is running
func (s *Store) IsRunning() bool {
	if s == nil {
		return false
	}
	return atomic.LoadInt32(&s.started) == 1
}

// Start runs the expiry sweeper
func (s *Store) Start() error {
	if s == nil {
		return fmt.Errorf("subscription store %w", subsystem.ErrNil)
	}
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return fmt.Errorf("subscription store %w", subsystem.ErrAlreadyStarted)
	}
	s.shutdown = make(chan struct{})
	s.wg.Add(1)
	go s.sweeper()
	log.Debugf(log.SubscriptionMgr, "Subscription store %s", subsystem.MsgStarted)
	return nil
}

// Stop halts the sweeper, closes every attached sink and ends delivery
func (s *Store) Stop() error {
	if s == nil {
		return fmt.Errorf("subscription store %w", subsystem.ErrNil)
	}
	if atomic.LoadInt32(&s.started) == 0 {
		return fmt.Errorf("subscription store %w", subsystem.ErrNotStarted)
	}
	defer func() {
		log.Debugf(log.SubscriptionMgr, "Subscription store %s", subsystem.MsgShutdown)
		atomic.CompareAndSwapInt32(&s.started, 1, 0)
	}()
	log.Debugf(log.SubscriptionMgr, "Subscription store %s", subsystem.MsgShuttingDown)
	close(s.shutdown)

	s.mu.Lock()
	for _, sub := range s.subs {
		s.removeLocked(sub)
	}
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *Store) sweeper() {
	defer s.wg.Done()
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-s.shutdown:
			return
		case <-t.C:
			s.reap(time.Now())
		}
	}
}

// Post registers a subscription, or returns the live one an identical
// request already created. The bool reports whether a new subscription was
// created.
func (s *Store) Post(req *Request, ver versions.APIVersion, wsBase string) (*Subscription, bool, error) {
	if err := req.normalize(); err != nil {
		return nil, false, err
	}
	hash, err := req.identity()
	if err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byHash[hash]; ok {
		if existing, live := s.subs[id]; live {
			return existing, false, nil
		}
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, false, err
	}
	sub := &Subscription{
		ID:              id.String(),
		WSHref:          wsHref(wsBase, ver, id.String()),
		MaxUpdateRateMS: *req.MaxUpdateRateMS,
		Persist:         req.Persist,
		ResourcePath:    req.ResourcePath,
		Params:          req.Params,
		version:         ver,
		hash:            hash,
		queue:           make(chan *grain.Grain, s.queueLen),
		done:            make(chan struct{}),
		sinks:           make(map[Sink]struct{}),
	}
	if !sub.Persist {
		// unattached from birth; the grace window starts now
		sub.lastDetach = time.Now()
	}
	s.subs[sub.ID] = sub
	s.byHash[hash] = sub.ID
	s.wg.Add(1)
	go s.deliver(sub)
	log.Debugf(log.SubscriptionMgr, "Subscription %s created for %s", sub.ID, sub.ResourcePath)
	return sub, true, nil
}

// All returns every live subscription ordered by id
func (s *Store) All() []*Subscription {
	s.mu.RLock()
	out := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns the subscription with the given id
func (s *Store) Get(id string) (*Subscription, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[id]
	return sub, ok
}

// Attachments reports how many sinks are currently attached to the
// subscription with the given id
func (s *Store) Attachments(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sub, ok := s.subs[id]; ok {
		return len(sub.sinks)
	}
	return 0
}

// Delete removes a subscription. It reports true when the caller's view
// should be "gone", including for ids that never existed; false means the
// subscription is service-managed and cannot be deleted by clients.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return true
	}
	if !sub.Persist {
		return false
	}
	log.Debugf(log.SubscriptionMgr, "Subscription %s deleted", id)
	s.removeLocked(sub)
	return true
}

// Attach registers a sink for grain delivery and suspends expiry
func (s *Store) Attach(id string, sink Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return fmt.Errorf("%s %w", id, errSubscriptionNotFound)
	}
	sub.sinks[sink] = struct{}{}
	sub.lastDetach = time.Time{}
	return nil
}

// Detach removes a sink; the last detach arms the expiry grace timer
func (s *Store) Detach(id string, sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return
	}
	if _, attached := sub.sinks[sink]; !attached {
		return
	}
	delete(sub.sinks, sink)
	if len(sub.sinks) == 0 {
		sub.lastDetach = time.Now()
	}
}

// DetachAll closes and removes every attached sink, ending all WebSocket
// write loops. Used on shutdown.
func (s *Store) DetachAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if len(sub.sinks) == 0 {
			continue
		}
		for sink := range sub.sinks {
			sink.Close()
		}
		sub.sinks = make(map[Sink]struct{})
		sub.lastDetach = time.Now()
	}
}

// Offer enqueues a grain for delivery without blocking. A false return
// means the subscription's queue is full and the client is too slow.
func (s *Store) Offer(id string, g *grain.Grain) bool {
	s.mu.RLock()
	sub, ok := s.subs[id]
	s.mu.RUnlock()
	if !ok {
		return true
	}
	select {
	case sub.queue <- g:
		return true
	default:
		return false
	}
}

// Terminate drops a subscription that can no longer keep up: every attached
// connection is closed, and non-persistent subscriptions are removed
func (s *Store) Terminate(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return
	}
	log.Warnf(log.SubscriptionMgr, "Subscription %s cannot keep up, dropping its connections", id)
	if !sub.Persist {
		s.removeLocked(sub)
		return
	}
	for sink := range sub.sinks {
		sink.Close()
	}
	sub.sinks = make(map[Sink]struct{})
	sub.lastDetach = time.Now()
}

// reap removes non-persistent subscriptions whose last attachment is older
// than the grace window
func (s *Store) reap(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sub := range s.subs {
		if sub.Persist || len(sub.sinks) > 0 || sub.lastDetach.IsZero() {
			continue
		}
		if now.Sub(sub.lastDetach) > s.grace {
			log.Debugf(log.SubscriptionMgr, "Subscription %s expired", id)
			s.removeLocked(sub)
		}
	}
}

// removeLocked tears one subscription down. Callers hold the write lock.
func (s *Store) removeLocked(sub *Subscription) {
	for sink := range sub.sinks {
		sink.Close()
	}
	sub.sinks = make(map[Sink]struct{})
	close(sub.done)
	delete(s.subs, sub.ID)
	if cur, ok := s.byHash[sub.hash]; ok && cur == sub.ID {
		delete(s.byHash, sub.hash)
	}
}

// deliver drains one subscription's queue, writing each grain to every
// attached sink. Failed sinks are detached and closed.
func (s *Store) deliver(sub *Subscription) {
	defer s.wg.Done()
	for {
		select {
		case <-sub.done:
			return
		case g := <-sub.queue:
			for _, sink := range s.attachedSinks(sub) {
				if err := sink.Send(g); err != nil {
					log.Debugf(log.SubscriptionMgr, "Subscription %s dropping sink: %v", sub.ID, err)
					s.Detach(sub.ID, sink)
					sink.Close()
				}
			}
		}
	}
}

func (s *Store) attachedSinks(sub *Subscription) []Sink {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sinks := make([]Sink, 0, len(sub.sinks))
	for sink := range sub.sinks {
		sinks = append(sinks, sink)
	}
	return sinks
}
