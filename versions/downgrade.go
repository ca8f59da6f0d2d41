package versions

// APIVersionKey is the annotation key carrying a document's native version
const APIVersionKey = "@_apiversion"

// step describes one rung of the downgrade ladder: the version reached and
// the fields each resource type loses on the way down to it
type step struct {
	to      APIVersion
	removed map[string][]string
}

// stepDown is keyed by the version a document currently holds
var stepDown = map[APIVersion]step{
	V1_3: {
		to: V1_2,
		removed: map[string][]string{
			"nodes":   {"attached_network_device", "authorization"},
			"devices": {"authorization"},
			"sources": {"event_type"},
			"flows":   {"event_type"},
		},
	},
	V1_2: {
		to: V1_1,
		removed: map[string][]string{
			"nodes":     {"interfaces"},
			"senders":   {"interface_bindings", "caps", "subscription"},
			"receivers": {"interface_bindings"},
		},
	},
	V1_1: {
		to: V1_0,
		removed: map[string][]string{
			"nodes":   {"api", "description", "tags", "clocks"},
			"devices": {"controls", "description", "tags"},
			"sources": {"clock_name", "channels", "grain_rate"},
			"flows": {
				"device_id", "media_type", "colorspace", "components",
				"frame_height", "frame_width", "interlace_mode", "bit_depth",
				"sample_rate", "DID_SDID", "grain_rate",
				"transfer_characteristic",
			},
			"receivers": {"caps"},
		},
	},
}

// DocumentVersion reads a document's native version annotation; documents
// registered before the annotation existed report v1.0
func DocumentVersion(doc map[string]any) APIVersion {
	raw, ok := doc[APIVersionKey].(string)
	if !ok {
		return V1_0
	}
	v, err := Parse(raw)
	if err != nil {
		return V1_0
	}
	return v
}

// Downgrade walks doc down the ladder to target, removing the fields each
// step sheds for the given resource type and rewriting the version
// annotation as it goes. The document is modified in place.
//
// A nil return means the document cannot be presented at target: either the
// target is unsupported, or the document is older than target and
// minAcceptable (the query.downgrade override; zero means unset) does not
// admit it. Documents admitted through minAcceptable are returned unchanged
// at their native version.
func Downgrade(doc map[string]any, resourceType string, target, minAcceptable APIVersion) map[string]any {
	if doc == nil {
		return nil
	}
	if target.After(Latest()) {
		return nil
	}

	current := DocumentVersion(doc)
	doc[APIVersionKey] = current.String()

	for current.After(target) {
		next, ok := stepDown[current]
		if !ok {
			break
		}
		for _, field := range next.removed[resourceType] {
			removeField(doc, field)
		}
		current = next.to
		doc[APIVersionKey] = current.String()
	}

	if current == target {
		return doc
	}
	if !minAcceptable.IsZero() && current.Compare(minAcceptable) >= 0 {
		return doc
	}
	return nil
}

// removeField strips every occurrence of field from the tree, including
// inside lists and sub-objects
func removeField(v any, field string) {
	switch t := v.(type) {
	case map[string]any:
		delete(t, field)
		for k := range t {
			removeField(t[k], field)
		}
	case []any:
		for i := range t {
			removeField(t[i], field)
		}
	}
}
