// Package registry defines the adapter surface between the query service and
// the external resource store. Implementations provide consistent snapshot
// reads plus a single-consumer stream of change events; everything above
// this interface is backend-neutral.
package registry

import (
	"context"
	"errors"
	"strings"

	"github.com/nmoshub/queryd/resource"
)

var (
	// ErrNilSettings is returned when an adapter is constructed without
	// settings
	ErrNilSettings = errors.New("registry settings are nil")
	// ErrNoHosts is returned when an adapter is constructed with an empty
	// host list
	ErrNoHosts = errors.New("registry host list is empty")
	// ErrUnknownBackend is returned when the configured backend type has no
	// adapter
	ErrUnknownBackend = errors.New("unknown registry backend type")
)

// resourceRoot is the shared key prefix resources live under
const resourceRoot = "resource"

// Action describes what a change event did to a resource
type Action string

// Actions an event can carry
const (
	ActionSet    Action = "set"
	ActionDelete Action = "delete"
)

// Event is one observed registry mutation. Set events carry a post image
// and, when the resource existed before, a pre image; delete events carry
// the pre image only.
type Event struct {
	Action Action
	Type   string
	ID     string
	Pre    resource.Document
	Post   resource.Document
}

// Reader serves consistent point-in-time snapshot reads; an empty typeToken
// selects every collection
type Reader interface {
	Snapshot(ctx context.Context, typeToken string) ([]resource.Document, error)
}

// Watcher delivers change events in observation order. Next blocks until at
// least one event is available, the context ends, or the backend faults.
// There must be exactly one consumer.
type Watcher interface {
	Next(ctx context.Context) ([]Event, error)
}

// Adapter is the full backend surface the service consumes
type Adapter interface {
	Reader
	Watcher
	Close() error
}

// ParseKey extracts the collection token and resource id from a hierarchical
// registry key such as "/resource/nodes/<id>"
func ParseKey(key string) (typeToken, id string, ok bool) {
	parts := strings.Split(strings.Trim(key, "/"), "/")
	if len(parts) != 3 || parts[0] != resourceRoot || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// Key renders the hierarchical registry key for a resource
func Key(typeToken, id string) string {
	return "/" + resourceRoot + "/" + typeToken + "/" + id
}
