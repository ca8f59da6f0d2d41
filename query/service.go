// Package query implements the read side of the API: snapshot queries
// against the registry, the change watcher and the fan-out engine that turns
// registry change events into grains.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nmoshub/queryd/grain"
	"github.com/nmoshub/queryd/registry"
	"github.com/nmoshub/queryd/resource"
	"github.com/nmoshub/queryd/subscription"
	"github.com/nmoshub/queryd/versions"
)

var (
	// ErrNotFound is returned when no visible resource answers a single-id
	// query
	ErrNotFound = errors.New("resource not found")
	// ErrWrongType is returned when the id exists under a different
	// collection than the one queried
	ErrWrongType = errors.New("resource registered under a different type")
	// ErrBadDowngrade is returned for an unparseable query.downgrade value
	ErrBadDowngrade = errors.New("invalid query.downgrade version")
)

// Service answers snapshot queries. Every request pulls a fresh view from
// the registry adapter; the service itself is stateless.
type Service struct {
	reader registry.Reader
}

// NewService returns a query service reading from r
func NewService(r registry.Reader) *Service {
	return &Service{reader: r}
}

// downgradeArg parses the query.downgrade filter argument; absent means no
// override
func downgradeArg(args map[string]string) (versions.APIVersion, error) {
	raw, ok := args[resource.DowngradeKey]
	if !ok {
		return versions.APIVersion{}, nil
	}
	ver, err := versions.Parse(raw)
	if err != nil {
		return versions.APIVersion{}, fmt.Errorf("%w: %q", ErrBadDowngrade, raw)
	}
	return ver, nil
}

// render runs one document through the version ladder, summarise and the
// filter. A nil return means the document is invisible to this query.
func render(doc resource.Document, typeToken string, target, minAcceptable versions.APIVersion, args map[string]string) resource.Document {
	out := versions.Downgrade(doc, typeToken, target, minAcceptable)
	if out == nil {
		return nil
	}
	resource.Summarise(out)
	if len(out) == 0 {
		return nil
	}
	if !resource.Matches(args, out) {
		return nil
	}
	return out
}

// List returns the resources of one collection visible at ver, after
// filtering. With verbose disabled the result is the matching ids only.
func (s *Service) List(ctx context.Context, ver versions.APIVersion, typeToken string, args map[string]string) (any, error) {
	verbose := args[resource.VerboseKey] != "false"
	minAcceptable, err := downgradeArg(args)
	if err != nil {
		return nil, err
	}

	docs, err := s.reader.Snapshot(ctx, typeToken)
	if err != nil {
		return nil, fmt.Errorf("query service %w", err)
	}

	out := make([]resource.Document, 0, len(docs))
	ids := make([]string, 0, len(docs))
	for i := range docs {
		doc := render(docs[i], typeToken, ver, minAcceptable, args)
		if doc == nil {
			continue
		}
		if verbose {
			out = append(out, doc)
			continue
		}
		if id, ok := resource.ID(doc); ok {
			ids = append(ids, id)
		}
	}
	if verbose {
		return out, nil
	}
	return ids, nil
}

// Get returns one resource by id. ErrNotFound and ErrWrongType discriminate
// between an id that is absent and one registered under another collection.
func (s *Service) Get(ctx context.Context, ver versions.APIVersion, typeToken, id string, args map[string]string) (any, error) {
	verbose := args[resource.VerboseKey] != "false"
	minAcceptable, err := downgradeArg(args)
	if err != nil {
		return nil, err
	}

	docs, err := s.reader.Snapshot(ctx, typeToken)
	if err != nil {
		return nil, fmt.Errorf("query service %w", err)
	}
	for i := range docs {
		rawID, ok := resource.ID(docs[i])
		if !ok || rawID != id {
			continue
		}
		doc := render(docs[i], typeToken, ver, minAcceptable, args)
		if doc == nil {
			// present but invisible at this version or filtered out
			break
		}
		if verbose {
			return doc, nil
		}
		return id, nil
	}

	for _, other := range resource.Types {
		if other == typeToken {
			continue
		}
		others, err := s.reader.Snapshot(ctx, other)
		if err != nil {
			return nil, fmt.Errorf("query service %w", err)
		}
		for i := range others {
			if rawID, ok := resource.ID(others[i]); ok && rawID == id {
				return nil, fmt.Errorf("%s %w", id, ErrWrongType)
			}
		}
	}
	return nil, fmt.Errorf("%s %w", id, ErrNotFound)
}

// Baseline builds the on-connect sync view for one subscription: every
// currently matching resource as a pre==post grain entry
func (s *Service) Baseline(ctx context.Context, sub *subscription.Subscription) ([]grain.Entry, error) {
	types, idFilter := scope(sub.ResourcePath)
	topic := grain.Topic(sub.ResourcePath)
	minAcceptable, _ := downgradeArg(sub.Params)

	entries := make([]grain.Entry, 0, 16)
	for _, typeToken := range types {
		docs, err := s.reader.Snapshot(ctx, typeToken)
		if err != nil {
			return nil, fmt.Errorf("sync %w", err)
		}
		for i := range docs {
			if idFilter != "" {
				if rawID, ok := resource.ID(docs[i]); !ok || rawID != idFilter {
					continue
				}
			}
			doc := render(docs[i], typeToken, sub.Version(), minAcceptable, sub.Params)
			if doc == nil {
				continue
			}
			id, ok := resource.ID(doc)
			if !ok {
				continue
			}
			entries = append(entries, grain.Entry{
				Path: entryPath(topic, typeToken, id),
				Pre:  doc,
				Post: doc,
			})
		}
	}
	return entries, nil
}

// scope translates a subscription resource path into the collections it
// covers and an optional single-resource restriction
func scope(resourcePath string) (types []string, idFilter string) {
	token := resource.Translate(resourcePath)
	if token == "" {
		return resource.Types, ""
	}
	seg := strings.SplitN(token, "/", 2)
	if !resource.ValidType(seg[0]) {
		return nil, ""
	}
	if len(seg) == 2 {
		return []string{seg[0]}, seg[1]
	}
	return []string{seg[0]}, ""
}

// entryPath renders the grain data path of a resource relative to the
// subscription topic, so topic+path always names /<type>/<id>
func entryPath(topic, typeToken, id string) string {
	return strings.TrimPrefix("/"+typeToken+"/"+id, topic)
}
