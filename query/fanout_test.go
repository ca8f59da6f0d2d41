package query

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmoshub/queryd/grain"
	"github.com/nmoshub/queryd/registry"
	"github.com/nmoshub/queryd/resource"
	"github.com/nmoshub/queryd/subscription"
	"github.com/nmoshub/queryd/versions"
)

type captureSink struct {
	mu     sync.Mutex
	grains []*grain.Grain
	closed bool
}

func (c *captureSink) Send(g *grain.Grain) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.grains = append(c.grains, g)
	return nil
}

func (c *captureSink) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.grains)
}

func (c *captureSink) grain(i int) *grain.Grain {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.grains[i]
}

func nodeDoc(id, label string) resource.Document {
	return resource.Document{
		"@_apiversion": "v1.3",
		"id":           id,
		"label":        label,
	}
}

func setEvent(id string, pre, post resource.Document) registry.Event {
	if pre == nil {
		pre = resource.Document{}
	}
	return registry.Event{Action: registry.ActionSet, Type: "nodes", ID: id, Pre: pre, Post: post}
}

func deleteEvent(id string, pre resource.Document) registry.Event {
	return registry.Event{Action: registry.ActionDelete, Type: "nodes", ID: id, Pre: pre}
}

// subscribe posts an unlimited-rate subscription and attaches a capture sink
func subscribe(t *testing.T, store *subscription.Store, ver versions.APIVersion, path string, params map[string]string) (*subscription.Subscription, *captureSink) {
	t.Helper()
	rate := 0
	sub, _, err := store.Post(&subscription.Request{
		ResourcePath:    path,
		Params:          params,
		Persist:         true,
		MaxUpdateRateMS: &rate,
	}, ver, "ws://example.com")
	require.NoError(t, err)
	sink := &captureSink{}
	require.NoError(t, store.Attach(sub.ID, sink))
	return sub, sink
}

func TestDispatchCreateUpdateDelete(t *testing.T) {
	t.Parallel()
	store := subscription.NewStore(0, 0)
	f := NewFanout(store)
	sub, sink := subscribe(t, store, versions.V1_3, "/nodes", nil)

	id := "7f1e2d3c-0040-4b5a-9687-0a1b2c3d4e5f"
	f.Dispatch(setEvent(id, nil, nodeDoc(id, "one")))
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)

	g := sink.grain(0)
	assert.Equal(t, "event", g.GrainType)
	assert.Equal(t, sub.ID, g.FlowID)
	assert.Equal(t, "/nodes/", g.Grain.Topic)
	require.Len(t, g.Grain.Data, 1)
	entry := g.Grain.Data[0]
	assert.Equal(t, id, entry.Path)
	assert.Nil(t, entry.Pre, "create carries no pre image")
	require.NotNil(t, entry.Post)
	assert.Equal(t, "one", entry.Post["label"])
	assert.NotContains(t, entry.Post, "@_apiversion")

	f.Dispatch(setEvent(id, nodeDoc(id, "one"), nodeDoc(id, "two")))
	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, 5*time.Millisecond)
	entry = sink.grain(1).Grain.Data[0]
	assert.Equal(t, "one", entry.Pre["label"])
	assert.Equal(t, "two", entry.Post["label"])

	f.Dispatch(deleteEvent(id, nodeDoc(id, "two")))
	require.Eventually(t, func() bool { return sink.count() == 3 }, time.Second, 5*time.Millisecond)
	entry = sink.grain(2).Grain.Data[0]
	assert.Equal(t, "two", entry.Pre["label"])
	assert.Nil(t, entry.Post, "delete carries no post image")
}

func TestDispatchSkipsNoopAndForeignEvents(t *testing.T) {
	t.Parallel()
	store := subscription.NewStore(0, 0)
	f := NewFanout(store)
	_, sink := subscribe(t, store, versions.V1_3, "/flows", nil)

	id := "5e4d3c2b-0041-4a69-8778-695a4b3c2d1e"
	doc := nodeDoc(id, "same")
	f.Dispatch(setEvent(id, doc, resource.DeepCopy(doc)))
	f.Dispatch(setEvent(id, nil, nodeDoc(id, "nodes only")))
	f.Dispatch(registry.Event{Action: registry.ActionSet, Type: "bananas", ID: id, Pre: resource.Document{}, Post: doc})

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, sink.count())
}

func TestDispatchFilterEntryAndExit(t *testing.T) {
	t.Parallel()
	store := subscription.NewStore(0, 0)
	f := NewFanout(store)
	_, sink := subscribe(t, store, versions.V1_3, "/nodes", map[string]string{"label": "A"})

	id := "1c2b3a49-0042-4d5e-8f60-718293a4b5c6"

	// B does not match: nothing emitted
	f.Dispatch(setEvent(id, nil, nodeDoc(id, "B")))
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, sink.count())

	// B -> A enters the filter, surfaced as a create
	f.Dispatch(setEvent(id, nodeDoc(id, "B"), nodeDoc(id, "A")))
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
	entry := sink.grain(0).Grain.Data[0]
	assert.Nil(t, entry.Pre)
	assert.Equal(t, "A", entry.Post["label"])

	// A -> B exits the filter, surfaced as a delete of the old image
	f.Dispatch(setEvent(id, nodeDoc(id, "A"), nodeDoc(id, "B")))
	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, 5*time.Millisecond)
	entry = sink.grain(1).Grain.Data[0]
	assert.Equal(t, "A", entry.Pre["label"])
	assert.Nil(t, entry.Post)
}

func TestDispatchVersionVisibility(t *testing.T) {
	t.Parallel()
	store := subscription.NewStore(0, 0)
	f := NewFanout(store)
	_, modern := subscribe(t, store, versions.V1_3, "/nodes", nil)
	_, admitting := subscribe(t, store, versions.V1_3, "/nodes",
		map[string]string{resource.DowngradeKey: "v1.0"})

	id := "9a8b7c6d-0043-4e5f-8a1b-2c3d4e5f6a7b"
	legacy := resource.Document{"id": id, "label": "legacy"}

	f.Dispatch(setEvent(id, nil, legacy))

	require.Eventually(t, func() bool { return admitting.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, modern.count(), "v1.0 document is invisible without a downgrade override")
	entry := admitting.grain(0).Grain.Data[0]
	assert.Equal(t, "legacy", entry.Post["label"])
}

func TestDispatchSkipsChangesErasedByDowngrade(t *testing.T) {
	t.Parallel()
	store := subscription.NewStore(0, 0)
	f := NewFanout(store)
	_, older := subscribe(t, store, versions.V1_2, "/nodes", nil)
	_, current := subscribe(t, store, versions.V1_3, "/nodes", nil)

	id := "3f2e1d0c-0044-4b5a-9786-0f1e2d3c4b5a"
	pre := nodeDoc(id, "same")
	pre["authorization"] = false
	post := nodeDoc(id, "same")
	post["authorization"] = true

	f.Dispatch(setEvent(id, pre, post))

	require.Eventually(t, func() bool { return current.count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, older.count(), "change confined to a v1.3 field vanishes at v1.2")
}

func TestRateLimitCoalesces(t *testing.T) {
	t.Parallel()
	store := subscription.NewStore(0, 0)
	f := NewFanout(store)
	rateMS := 80
	sub, _, err := store.Post(&subscription.Request{
		ResourcePath:    "/nodes",
		Persist:         true,
		MaxUpdateRateMS: &rateMS,
	}, versions.V1_3, "ws://example.com")
	require.NoError(t, err)
	sink := &captureSink{}
	require.NoError(t, store.Attach(sub.ID, sink))

	id := "6b5a4938-0045-4c7d-8e9f-a0b1c2d3e4f5"
	f.Dispatch(setEvent(id, nil, nodeDoc(id, "v1")))
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)

	// two updates inside the window fold into one grain carrying the oldest
	// pre and the newest post
	f.Dispatch(setEvent(id, nodeDoc(id, "v1"), nodeDoc(id, "v2")))
	f.Dispatch(setEvent(id, nodeDoc(id, "v2"), nodeDoc(id, "v3")))
	require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, 5*time.Millisecond)

	entry := sink.grain(1).Grain.Data[0]
	assert.Equal(t, "v1", entry.Pre["label"])
	assert.Equal(t, "v3", entry.Post["label"])
}

func TestRateLimitDropsNeutralBurst(t *testing.T) {
	t.Parallel()
	store := subscription.NewStore(0, 0)
	f := NewFanout(store)
	rateMS := 60
	sub, _, err := store.Post(&subscription.Request{
		ResourcePath:    "/nodes",
		Persist:         true,
		MaxUpdateRateMS: &rateMS,
	}, versions.V1_3, "ws://example.com")
	require.NoError(t, err)
	sink := &captureSink{}
	require.NoError(t, store.Attach(sub.ID, sink))

	id := "2d3c4b5a-0046-4e6f-8091-a2b3c4d5e6f7"
	f.Dispatch(setEvent(id, nil, nodeDoc(id, "A")))
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)

	f.Dispatch(setEvent(id, nodeDoc(id, "A"), nodeDoc(id, "B")))
	f.Dispatch(setEvent(id, nodeDoc(id, "B"), nodeDoc(id, "A")))

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, sink.count(), "A->B->A inside one window cancels out")
}

func TestSlowSubscriptionTerminated(t *testing.T) {
	t.Parallel()
	store := subscription.NewStore(0, 1)
	f := NewFanout(store)
	rate := 0
	sub, _, err := store.Post(&subscription.Request{
		ResourcePath:    "/nodes",
		MaxUpdateRateMS: &rate,
	}, versions.V1_3, "ws://example.com")
	require.NoError(t, err)

	block := make(chan struct{})
	blocked := &funcSink{send: func(*grain.Grain) error { <-block; return nil }}
	require.NoError(t, store.Attach(sub.ID, blocked))

	id := "8e9f0a1b-0047-4c2d-8e3f-405162738495"
	for i := 0; i < 8; i++ {
		f.Dispatch(setEvent(id, nil, nodeDoc(id, "spam")))
	}

	assert.Eventually(t, func() bool {
		_, ok := store.Get(sub.ID)
		return !ok
	}, time.Second, 5*time.Millisecond, "overflowing non-persistent subscription is dropped")
	close(block)

	f.mu.Lock()
	_, tracked := f.flows[sub.ID]
	f.mu.Unlock()
	assert.False(t, tracked)
}

func TestPruneDropsStateForDeadSubscriptions(t *testing.T) {
	t.Parallel()
	store := subscription.NewStore(0, 0)
	f := NewFanout(store)
	sub, sink := subscribe(t, store, versions.V1_3, "/nodes", nil)

	id := "0a1b2c3d-0048-4e5f-8607-182930a4b5c6"
	f.Dispatch(setEvent(id, nil, nodeDoc(id, "x")))
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)

	require.True(t, store.Delete(sub.ID))
	f.Dispatch(setEvent(id, nodeDoc(id, "x"), nodeDoc(id, "y")))

	f.mu.Lock()
	remaining := len(f.flows)
	f.mu.Unlock()
	assert.Zero(t, remaining)
}

func TestPathCovers(t *testing.T) {
	t.Parallel()
	assert.True(t, pathCovers("/", "nodes", "abc"))
	assert.True(t, pathCovers("/nodes", "nodes", "abc"))
	assert.True(t, pathCovers("/nodes/abc", "nodes", "abc"))
	assert.False(t, pathCovers("/nodes/def", "nodes", "abc"))
	assert.False(t, pathCovers("/node", "nodes", "abc"))
	assert.False(t, pathCovers("/flows", "nodes", "abc"))
}

type funcSink struct {
	send func(*grain.Grain) error
}

func (f *funcSink) Send(g *grain.Grain) error { return f.send(g) }
func (f *funcSink) Close() error              { return nil }
