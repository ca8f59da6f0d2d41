// Package subscription implements the subscription registry: persistent
// client requests for change notifications, deduplicated by content and
// delivered over attached WebSocket sinks.
package subscription

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"

	"github.com/nmoshub/queryd/grain"
	"github.com/nmoshub/queryd/versions"
)

const defaultMaxUpdateRateMS = 100

var (
	errNoResourcePath     = errors.New("subscription request missing resource_path")
	errNegativeUpdateRate = errors.New("max_update_rate_ms cannot be negative")
)

// Sink receives grains delivered on one attached connection. Send failures
// cause the sink to be detached and closed.
type Sink interface {
	Send(g *grain.Grain) error
	Close() error
}

// Request is the body of a subscription POST
type Request struct {
	ResourcePath    string            `json:"resource_path"`
	Params          map[string]string `json:"params"`
	Persist         bool              `json:"persist"`
	MaxUpdateRateMS *int              `json:"max_update_rate_ms"`
}

// normalize applies request defaults and validates what remains
func (r *Request) normalize() error {
	if r.ResourcePath == "" {
		return errNoResourcePath
	}
	if r.Params == nil {
		r.Params = map[string]string{}
	}
	if r.MaxUpdateRateMS == nil {
		rate := defaultMaxUpdateRateMS
		r.MaxUpdateRateMS = &rate
	}
	if *r.MaxUpdateRateMS < 0 {
		return errNegativeUpdateRate
	}
	return nil
}

// identity derives the content hash of a normalized request. Identical
// requests always map to the same UUID so repeated POSTs land on the same
// subscription.
func (r *Request) identity() (uuid.UUID, error) {
	canonical, err := json.Marshal(struct {
		MaxUpdateRateMS int               `json:"max_update_rate_ms"`
		Params          map[string]string `json:"params"`
		Persist         bool              `json:"persist"`
		ResourcePath    string            `json:"resource_path"`
	}{
		MaxUpdateRateMS: *r.MaxUpdateRateMS,
		Params:          r.Params,
		Persist:         r.Persist,
		ResourcePath:    r.ResourcePath,
	})
	if err != nil {
		return uuid.UUID{}, err
	}
	return uuid.NewV5(uuid.NamespaceOID, string(canonical)), nil
}

// Subscription is one registered request for change notifications. The
// exported fields are the client-visible representation.
type Subscription struct {
	ID              string            `json:"id"`
	WSHref          string            `json:"ws_href"`
	MaxUpdateRateMS int               `json:"max_update_rate_ms"`
	Persist         bool              `json:"persist"`
	ResourcePath    string            `json:"resource_path"`
	Params          map[string]string `json:"params"`

	version    versions.APIVersion
	hash       uuid.UUID
	queue      chan *grain.Grain
	done       chan struct{}
	sinks      map[Sink]struct{}
	lastDetach time.Time
}

// Version returns the API version of the endpoint the subscription was
// created on; grains delivered on it are downgraded to this version.
func (s *Subscription) Version() versions.APIVersion {
	return s.version
}

// wsHref assembles the WebSocket URL a client connects to
func wsHref(base string, ver versions.APIVersion, id string) string {
	return fmt.Sprintf("%s/x-nmos/query/%s/ws/?uid=%s", base, ver, id)
}
