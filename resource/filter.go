package resource

import (
	"strconv"
	"strings"
)

// Reserved query keys that never participate in filter matching
const (
	VerboseKey   = "verbose"
	DowngradeKey = "query.downgrade"
	rqlKey       = "query.rql"
	pagingPrefix = "paging."
)

// ReservedKey reports whether k is a control parameter rather than a filter
func ReservedKey(k string) bool {
	switch k {
	case VerboseKey, DowngradeKey, rqlKey:
		return true
	}
	return strings.HasPrefix(k, pagingPrefix)
}

// Matches evaluates the filter args against a document. Every non-reserved
// key is a dotted path into the document; the value found there, rendered as
// a string, must equal the arg value exactly. A missing path fails the
// match; no args means match.
func Matches(args map[string]string, doc Document) bool {
	for k, want := range args {
		if ReservedKey(k) {
			continue
		}
		v, ok := lookup(doc, k)
		if !ok {
			return false
		}
		got, ok := render(v)
		if !ok || got != want {
			return false
		}
	}
	return true
}

// lookup walks a dotted path through nested objects
func lookup(doc Document, path string) (any, bool) {
	var current any = doc
	for _, seg := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		if current, ok = m[seg]; !ok {
			return nil, false
		}
	}
	return current, true
}

// render turns a scalar leaf into its comparison string; composite values
// never match
func render(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	}
	return "", false
}
