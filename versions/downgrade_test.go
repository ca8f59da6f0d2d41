package versions

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func copyDoc(t *testing.T, doc map[string]any) map[string]any {
	t.Helper()
	b, err := json.Marshal(doc)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	return out
}

func keysOf(doc map[string]any) map[string]bool {
	out := make(map[string]bool, len(doc))
	for k := range doc {
		out[k] = true
	}
	return out
}

func testFlow() map[string]any {
	return map[string]any{
		APIVersionKey: "v1.3",
		"format":      "urn:x-nmos:format:video",
		"device_id":   "D",
		"event_type":  "E",
		"grain_rate":  map[string]any{"numerator": 25, "denominator": 1},
		"label":       "",
		"parents":     []any{},
		"source_id":   "S",
		"tags":        map[string]any{},
		"version":     "T",
		"id":          "F",
		"description": "",
	}
}

func testNode() map[string]any {
	return map[string]any{
		APIVersionKey: "v1.3",
		"id":          "N",
		"version":     "1:2",
		"label":       "node",
		"description": "d",
		"tags":        map[string]any{},
		"href":        "http://example.com",
		"api":         map[string]any{"versions": []any{"v1.3"}},
		"caps":        map[string]any{},
		"services":    []any{},
		"clocks":      []any{},
		"interfaces": []any{
			map[string]any{
				"name": "eth0",
				"attached_network_device": map[string]any{
					"chassis_id": "x",
				},
			},
		},
		"authorization": false,
	}
}

func TestDowngradeFlowToV1_0(t *testing.T) {
	t.Parallel()
	got := Downgrade(testFlow(), "flows", V1_0, APIVersion{})
	require.NotNil(t, got)
	want := map[string]bool{
		APIVersionKey: true,
		"format":      true,
		"label":       true,
		"version":     true,
		"parents":     true,
		"source_id":   true,
		"id":          true,
		"tags":        true,
		"description": true,
	}
	assert.Equal(t, want, keysOf(got))
	assert.Equal(t, "v1.0", got[APIVersionKey])
}

func TestDowngradeNodeStepByStep(t *testing.T) {
	t.Parallel()
	atV12 := Downgrade(testNode(), "nodes", V1_2, APIVersion{})
	require.NotNil(t, atV12)
	assert.NotContains(t, atV12, "authorization")
	ifaces, ok := atV12["interfaces"].([]any)
	require.True(t, ok, "interfaces should survive at v1.2")
	first, ok := ifaces[0].(map[string]any)
	require.True(t, ok)
	assert.NotContains(t, first, "attached_network_device",
		"nested field removal should reach list elements")
	assert.Contains(t, first, "name")

	atV11 := Downgrade(testNode(), "nodes", V1_1, APIVersion{})
	require.NotNil(t, atV11)
	assert.NotContains(t, atV11, "interfaces")
	assert.Contains(t, atV11, "api")

	atV10 := Downgrade(testNode(), "nodes", V1_0, APIVersion{})
	require.NotNil(t, atV10)
	for _, gone := range []string{"api", "description", "tags", "clocks", "interfaces", "authorization"} {
		assert.NotContainsf(t, atV10, gone, "%s should be dropped by v1.0", gone)
	}
	// node caps are a v1.0 field; only receivers shed caps on that step
	assert.Contains(t, atV10, "caps")
	assert.Contains(t, atV10, "href")
}

func TestDowngradeSenderToV1_1(t *testing.T) {
	t.Parallel()
	sender := map[string]any{
		APIVersionKey:        "v1.3",
		"id":                 "SN",
		"version":            "1:2",
		"label":              "",
		"description":        "d",
		"flow_id":            "F",
		"transport":          "urn:x-nmos:transport:rtp",
		"tags":               map[string]any{},
		"device_id":          "D",
		"manifest_href":      "http://example.com/sdp",
		"interface_bindings": []any{"eth0"},
		"caps":               map[string]any{},
		"subscription":       map[string]any{"receiver_id": nil, "active": true},
	}
	got := Downgrade(sender, "senders", V1_1, APIVersion{})
	require.NotNil(t, got)
	for _, gone := range []string{"interface_bindings", "caps", "subscription"} {
		assert.NotContains(t, got, gone)
	}
	assert.Contains(t, got, "manifest_href")
	assert.Equal(t, "v1.1", got[APIVersionKey])
}

func TestDowngradeKeySubset(t *testing.T) {
	t.Parallel()
	original := testNode()
	for _, target := range All {
		got := Downgrade(copyDoc(t, original), "nodes", target, APIVersion{})
		require.NotNilf(t, got, "downgrade to %s should succeed", target)
		for k := range got {
			assert.Containsf(t, original, k, "no new top-level key at %s", target)
		}
	}
}

func TestDowngradeMonotoneForgetting(t *testing.T) {
	t.Parallel()
	// stepping through an intermediate version must equal going direct
	viaV11 := Downgrade(testNode(), "nodes", V1_1, APIVersion{})
	require.NotNil(t, viaV11)
	stepped := Downgrade(viaV11, "nodes", V1_0, APIVersion{})
	direct := Downgrade(testNode(), "nodes", V1_0, APIVersion{})
	assert.Equal(t, direct, stepped)
}

func TestDowngradeOlderDocument(t *testing.T) {
	t.Parallel()
	doc := map[string]any{
		APIVersionKey: "v1.0",
		"id":          "N",
		"label":       "legacy",
	}

	// invisible at newer endpoints without an override
	assert.Nil(t, Downgrade(copyDoc(t, doc), "nodes", V1_2, APIVersion{}))

	// the query.downgrade override admits it unchanged
	got := Downgrade(copyDoc(t, doc), "nodes", V1_2, V1_0)
	require.NotNil(t, got)
	assert.Equal(t, "v1.0", got[APIVersionKey])
	assert.Equal(t, "legacy", got["label"])

	// an override newer than the document still hides it
	assert.Nil(t, Downgrade(copyDoc(t, doc), "nodes", V1_2, V1_1))
}

func TestDowngradeUnsupportedTarget(t *testing.T) {
	t.Parallel()
	assert.Nil(t, Downgrade(testFlow(), "flows", APIVersion{1, 4}, APIVersion{}))
	assert.Nil(t, Downgrade(nil, "flows", V1_0, APIVersion{}))
}

func TestDowngradeMissingAnnotation(t *testing.T) {
	t.Parallel()
	doc := map[string]any{"id": "N", "label": "x"}
	got := Downgrade(doc, "nodes", V1_0, APIVersion{})
	require.NotNil(t, got)
	assert.Equal(t, "v1.0", got[APIVersionKey])

	assert.Nil(t, Downgrade(map[string]any{"id": "N"}, "nodes", V1_3, APIVersion{}),
		"annotation-free documents are v1.0 and hidden at newer endpoints")
}

func TestDocumentVersion(t *testing.T) {
	t.Parallel()
	assert.Equal(t, V1_0, DocumentVersion(map[string]any{}))
	assert.Equal(t, V1_0, DocumentVersion(map[string]any{APIVersionKey: "garbage"}))
	assert.Equal(t, V1_0, DocumentVersion(map[string]any{APIVersionKey: 12}))
	assert.Equal(t, V1_3, DocumentVersion(map[string]any{APIVersionKey: "v1.3"}))
}
