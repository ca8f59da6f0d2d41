package query

import (
	"reflect"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nmoshub/queryd/grain"
	"github.com/nmoshub/queryd/log"
	"github.com/nmoshub/queryd/registry"
	"github.com/nmoshub/queryd/resource"
	"github.com/nmoshub/queryd/subscription"
	"github.com/nmoshub/queryd/versions"
)

// Fanout turns registry change events into per-subscription grains,
// honouring each subscription's version, filter and update rate
type Fanout struct {
	store *subscription.Store

	mu    sync.Mutex
	flows map[string]*flowState
}

// flowState is the pending-delivery state of one subscription
type flowState struct {
	flowID  string
	topic   string
	limiter *rate.Limiter
	pending []grain.Entry
	index   map[string]int
	timer   *time.Timer
}

// NewFanout returns a fan-out engine delivering into store's queues
func NewFanout(store *subscription.Store) *Fanout {
	return &Fanout{
		store: store,
		flows: make(map[string]*flowState),
	}
}

// Dispatch processes one change event against every live subscription
func (f *Fanout) Dispatch(ev registry.Event) {
	if ev.Action == registry.ActionSet && reflect.DeepEqual(ev.Pre, ev.Post) {
		return
	}
	if !resource.ValidType(ev.Type) {
		log.Warnf(log.FanoutMgr, "Invalid type %q in change event", ev.Type)
		return
	}

	subs := f.store.All()
	for _, sub := range subs {
		if !pathCovers(sub.ResourcePath, ev.Type, ev.ID) {
			continue
		}
		entry, ok := entryFor(sub, ev)
		if !ok {
			continue
		}
		f.enqueue(sub, entry)
	}
	f.prune(subs)
}

// pathCovers reports whether a subscription path spans the changed resource
func pathCovers(resourcePath, typeToken, id string) bool {
	token := resource.Translate(resourcePath)
	if token == "" {
		return true
	}
	seg := strings.SplitN(token, "/", 2)
	if seg[0] != typeToken {
		return false
	}
	return len(seg) < 2 || seg[1] == id
}

// entryFor computes the per-subscription pre/post images of one event. The
// false return means the event is invisible to this subscription.
func entryFor(sub *subscription.Subscription, ev registry.Event) (grain.Entry, bool) {
	minAcceptable, _ := downgradeArg(sub.Params)

	var preV, postV resource.Document
	if ev.Pre != nil {
		preV = versions.Downgrade(resource.DeepCopy(ev.Pre), ev.Type, sub.Version(), minAcceptable)
	}
	if ev.Post != nil {
		postV = versions.Downgrade(resource.DeepCopy(ev.Post), ev.Type, sub.Version(), minAcceptable)
	}
	if preV == nil && postV == nil {
		return grain.Entry{}, false
	}
	if preV != nil {
		resource.Summarise(preV)
		if len(preV) == 0 {
			preV = nil
		}
	}
	if postV != nil {
		resource.Summarise(postV)
		if len(postV) == 0 {
			postV = nil
		}
	}

	preMatch := preV != nil && resource.Matches(sub.Params, preV)
	postMatch := postV != nil && resource.Matches(sub.Params, postV)
	path := entryPath(grain.Topic(sub.ResourcePath), ev.Type, ev.ID)

	switch {
	case !preMatch && postMatch:
		// filter entry, surfaced as a create
		return grain.Entry{Path: path, Post: postV}, true
	case preMatch && !postMatch:
		// filter exit, surfaced as a delete
		return grain.Entry{Path: path, Pre: preV}, true
	case preMatch && postMatch:
		if reflect.DeepEqual(preV, postV) {
			return grain.Entry{}, false
		}
		return grain.Entry{Path: path, Pre: preV, Post: postV}, true
	default:
		return grain.Entry{}, false
	}
}

// enqueue adds an entry to the subscription's pending grain and either
// sends it straight away or leaves it for the scheduled flush
func (f *Fanout) enqueue(sub *subscription.Subscription, e grain.Entry) {
	f.mu.Lock()
	fs := f.flows[sub.ID]
	if fs == nil {
		fs = newFlowState(sub)
		f.flows[sub.ID] = fs
	}
	fs.add(e)
	if fs.timer != nil {
		f.mu.Unlock()
		return
	}
	if delay := fs.limiter.Reserve().Delay(); delay > 0 {
		id := sub.ID
		fs.timer = time.AfterFunc(delay, func() { f.flush(id) })
		f.mu.Unlock()
		return
	}
	g := fs.take()
	f.mu.Unlock()
	f.send(sub.ID, g)
}

// flush delivers whatever coalesced during a rate-limit window
func (f *Fanout) flush(id string) {
	f.mu.Lock()
	fs := f.flows[id]
	if fs == nil {
		f.mu.Unlock()
		return
	}
	fs.timer = nil
	g := fs.take()
	f.mu.Unlock()
	f.send(id, g)
}

// send offers one grain to the subscription queue; an overflowing
// subscription is terminated as too slow
func (f *Fanout) send(id string, g *grain.Grain) {
	if g == nil {
		return
	}
	if f.store.Offer(id, g) {
		return
	}
	f.store.Terminate(id)
	f.mu.Lock()
	if fs := f.flows[id]; fs != nil {
		if fs.timer != nil {
			fs.timer.Stop()
		}
		delete(f.flows, id)
	}
	f.mu.Unlock()
}

// prune drops pending state for subscriptions that no longer exist
func (f *Fanout) prune(live []*subscription.Subscription) {
	alive := make(map[string]struct{}, len(live))
	for _, sub := range live {
		alive[sub.ID] = struct{}{}
	}
	f.mu.Lock()
	for id, fs := range f.flows {
		if _, ok := alive[id]; ok {
			continue
		}
		if fs.timer != nil {
			fs.timer.Stop()
		}
		delete(f.flows, id)
	}
	f.mu.Unlock()
}

func newFlowState(sub *subscription.Subscription) *flowState {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if sub.MaxUpdateRateMS > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Duration(sub.MaxUpdateRateMS)*time.Millisecond), 1)
	}
	return &flowState{
		flowID:  sub.ID,
		topic:   grain.Topic(sub.ResourcePath),
		limiter: limiter,
		index:   make(map[string]int),
	}
}

// add coalesces an entry into the pending grain: per path the oldest pre
// and the newest post win, and a neutral net effect cancels out
func (fs *flowState) add(e grain.Entry) {
	i, ok := fs.index[e.Path]
	if !ok {
		fs.index[e.Path] = len(fs.pending)
		fs.pending = append(fs.pending, e)
		return
	}
	merged := grain.Entry{Path: e.Path, Pre: fs.pending[i].Pre, Post: e.Post}
	if reflect.DeepEqual(merged.Pre, merged.Post) {
		fs.pending = append(fs.pending[:i], fs.pending[i+1:]...)
		delete(fs.index, e.Path)
		for path, j := range fs.index {
			if j > i {
				fs.index[path] = j - 1
			}
		}
		return
	}
	fs.pending[i] = merged
}

// take detaches the pending entries as one grain, or nil when empty
func (fs *flowState) take() *grain.Grain {
	if len(fs.pending) == 0 {
		return nil
	}
	entries := fs.pending
	fs.pending = nil
	fs.index = make(map[string]int)
	return grain.New(fs.flowID, fs.topic, entries)
}
