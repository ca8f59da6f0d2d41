// Package resource models registered NMOS resources as opaque JSON documents
// and implements the path translation, filtering and summarising applied
// before a document leaves the service
package resource

import "strings"

// Document is a registered resource as decoded JSON
type Document = map[string]any

// annotationPrefix marks internal keys stripped before emission
const annotationPrefix = "@_"

// Types lists every collection the query API serves, in endpoint order
var Types = []string{"nodes", "devices", "sources", "flows", "senders", "receivers"}

// ValidType reports whether token names a served collection
func ValidType(token string) bool {
	for i := range Types {
		if Types[i] == token {
			return true
		}
	}
	return false
}

// Translate maps a URL-ish resource path to a collection token; "/" and ""
// mean every collection
func Translate(path string) string {
	return strings.Trim(path, "/")
}

// ID returns the document's id field when present
func ID(doc Document) (string, bool) {
	id, ok := doc["id"].(string)
	return id, ok
}

// Summarise strips top-level annotation keys (those beginning "@_") from the
// document in place and returns it. It does not recurse and is idempotent.
func Summarise(doc Document) Document {
	if doc == nil {
		return nil
	}
	for k := range doc {
		if strings.HasPrefix(k, annotationPrefix) {
			delete(doc, k)
		}
	}
	return doc
}

// DeepCopy clones a document so transforms on the copy cannot leak into the
// shared original
func DeepCopy(doc Document) Document {
	if doc == nil {
		return nil
	}
	c, ok := deepCopyValue(doc).(map[string]any)
	if !ok {
		return nil
	}
	return c
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k := range t {
			out[k] = deepCopyValue(t[k])
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = deepCopyValue(t[i])
		}
		return out
	default:
		return v
	}
}
