// Package etcdv2 implements the registry adapter over an etcd v2-style
// watched key/value store. Snapshots are recursive key reads; change events
// come from long-poll watches on the resource tree.
package etcdv2

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/buger/jsonparser"

	"github.com/nmoshub/queryd/log"
	"github.com/nmoshub/queryd/registry"
	"github.com/nmoshub/queryd/resource"
)

const (
	keysPrefix             = "/v2/keys/resource/"
	defaultSnapshotTimeout = 5 * time.Second

	// etcd error code for a watch index that has fallen out of the event
	// window
	codeEventIndexCleared = 401
)

var (
	errRequestFailed = errors.New("etcd request failed")
	errBadStatus     = errors.New("unexpected etcd response status")
)

// Settings configures the adapter
type Settings struct {
	Hosts           []string
	Port            int
	SnapshotTimeout time.Duration
}

// Client talks to one etcd v2 cluster. It satisfies registry.Adapter.
type Client struct {
	endpoints []string
	active    uint32
	snap      *http.Client
	watch     *http.Client
	waitIndex uint64
}

// New validates settings and returns a connected client
func New(s *Settings) (*Client, error) {
	if s == nil {
		return nil, registry.ErrNilSettings
	}
	if len(s.Hosts) == 0 {
		return nil, registry.ErrNoHosts
	}
	timeout := s.SnapshotTimeout
	if timeout <= 0 {
		timeout = defaultSnapshotTimeout
	}
	endpoints := make([]string, len(s.Hosts))
	for i, h := range s.Hosts {
		if strings.Contains(h, "://") {
			endpoints[i] = strings.TrimSuffix(h, "/")
			continue
		}
		endpoints[i] = "http://" + h + ":" + strconv.Itoa(s.Port)
	}
	return &Client{
		endpoints: endpoints,
		snap:      &http.Client{Timeout: timeout},
		// watch requests long-poll; lifetime is governed by the caller's
		// context
		watch: &http.Client{},
	}, nil
}

// Snapshot returns every current document, optionally restricted to one
// collection. The read is a single recursive GET so the view is consistent.
func (c *Client) Snapshot(ctx context.Context, typeToken string) ([]resource.Document, error) {
	path := keysPrefix
	if typeToken != "" {
		path += typeToken
	}
	body, header, status, err := c.do(ctx, c.snap, path+"?recursive=true")
	if err != nil {
		return nil, err
	}
	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		// nothing registered under this key yet
		return []resource.Document{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", errBadStatus, status)
	}

	// seed the watch cursor so no event between snapshot and first poll is
	// lost
	if idx, pErr := strconv.ParseUint(header.Get("X-Etcd-Index"), 10, 64); pErr == nil {
		atomic.CompareAndSwapUint64(&c.waitIndex, 0, idx+1)
	}

	root, _, _, err := jsonparser.Get(body, "node")
	if err != nil {
		if errors.Is(err, jsonparser.KeyPathNotFoundError) {
			return []resource.Document{}, nil
		}
		return nil, fmt.Errorf("decoding etcd snapshot: %w", err)
	}
	docs := make([]resource.Document, 0, 32)
	c.flatten(root, typeToken, &docs)
	return docs, nil
}

// flatten walks an etcd node tree collecting leaf values as documents
func (c *Client) flatten(node []byte, typeToken string, out *[]resource.Document) {
	if dir, _ := jsonparser.GetBoolean(node, "dir"); dir {
		_, _ = jsonparser.ArrayEach(node, func(child []byte, _ jsonparser.ValueType, _ int, _ error) {
			c.flatten(child, typeToken, out)
		}, "nodes")
		return
	}
	key, err := jsonparser.GetString(node, "key")
	if err != nil {
		return
	}
	token, _, ok := registry.ParseKey(key)
	if !ok || (typeToken != "" && token != typeToken) {
		return
	}
	value, err := jsonparser.GetString(node, "value")
	if err != nil {
		return
	}
	doc := decodeDocument(value)
	if doc == nil {
		log.Warnf(log.RegistrySys, "Discarding undecodable document at %s", key)
		return
	}
	*out = append(*out, doc)
}

// Next long-polls the resource tree and returns the next decoded change
// event. Events that are not resource mutations (directory operations,
// unknown actions) are consumed silently.
func (c *Client) Next(ctx context.Context) ([]registry.Event, error) {
	for {
		endpoint := keysPrefix + "?wait=true&recursive=true"
		if idx := atomic.LoadUint64(&c.waitIndex); idx > 0 {
			endpoint += "&waitIndex=" + strconv.FormatUint(idx, 10)
		}
		body, _, status, err := c.do(ctx, c.watch, endpoint)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}

		if status == http.StatusBadRequest {
			// watch window outgrew our cursor; resync from the index etcd
			// reports
			if code, _ := jsonparser.GetInt(body, "errorCode"); code == codeEventIndexCleared {
				if idx, iErr := jsonparser.GetInt(body, "index"); iErr == nil {
					atomic.StoreUint64(&c.waitIndex, uint64(idx)+1)
					continue
				}
			}
			return nil, fmt.Errorf("%w: %d", errBadStatus, status)
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("%w: %d", errBadStatus, status)
		}

		if modified, mErr := jsonparser.GetInt(body, "node", "modifiedIndex"); mErr == nil {
			atomic.StoreUint64(&c.waitIndex, uint64(modified)+1)
		}

		ev, ok := decodeWatchEvent(body)
		if !ok {
			continue
		}
		return []registry.Event{ev}, nil
	}
}

// decodeWatchEvent turns one etcd watch response into a change event
func decodeWatchEvent(body []byte) (registry.Event, bool) {
	action, err := jsonparser.GetString(body, "action")
	if err != nil {
		return registry.Event{}, false
	}
	key, err := jsonparser.GetString(body, "node", "key")
	if err != nil {
		return registry.Event{}, false
	}
	typeToken, id, ok := registry.ParseKey(key)
	if !ok {
		return registry.Event{}, false
	}

	pre := resource.Document{}
	if prevRaw, pErr := jsonparser.GetString(body, "prevNode", "value"); pErr == nil {
		if doc := decodeDocument(prevRaw); doc != nil {
			pre = doc
		}
	}

	switch action {
	case "set":
		post := resource.Document{}
		if postRaw, vErr := jsonparser.GetString(body, "node", "value"); vErr == nil {
			if doc := decodeDocument(postRaw); doc != nil {
				post = doc
			}
		}
		return registry.Event{
			Action: registry.ActionSet,
			Type:   typeToken,
			ID:     id,
			Pre:    pre,
			Post:   post,
		}, true
	case "delete":
		return registry.Event{
			Action: registry.ActionDelete,
			Type:   typeToken,
			ID:     id,
			Pre:    pre,
		}, true
	default:
		return registry.Event{}, false
	}
}

func decodeDocument(raw string) resource.Document {
	var doc resource.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil
	}
	return doc
}

// do issues a GET against the cluster, failing over across endpoints. The
// endpoint that answered becomes preferred for subsequent calls.
func (c *Client) do(ctx context.Context, client *http.Client, path string) ([]byte, http.Header, int, error) {
	var lastErr error
	start := atomic.LoadUint32(&c.active)
	for i := range c.endpoints {
		slot := (start + uint32(i)) % uint32(len(c.endpoints))
		target := c.endpoints[slot] + path
		if _, err := url.Parse(target); err != nil {
			lastErr = err
			continue
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
		if err != nil {
			lastErr = err
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if slot != start {
			atomic.StoreUint32(&c.active, slot)
		}
		return body, resp.Header, resp.StatusCode, nil
	}
	return nil, nil, 0, fmt.Errorf("%w: %v", errRequestFailed, lastErr)
}

// Close releases pooled connections
func (c *Client) Close() error {
	c.snap.CloseIdleConnections()
	c.watch.CloseIdleConnections()
	return nil
}
