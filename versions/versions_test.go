package versions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()
	v, err := Parse("v1.2")
	require.NoError(t, err)
	assert.Equal(t, V1_2, v)

	v, err = Parse("v2.11")
	require.NoError(t, err)
	assert.Equal(t, APIVersion{Major: 2, Minor: 11}, v)

	for _, bad := range []string{"", "1.2", "v1", "v1.", "vx.y", "v1.two"} {
		_, err = Parse(bad)
		assert.ErrorIsf(t, err, ErrInvalidVersion, "Parse(%q) should error", bad)
	}
}

func TestString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "v1.0", V1_0.String())
	assert.Equal(t, "v1.3", V1_3.String())
	assert.Equal(t, "v2.11", APIVersion{2, 11}.String())
}

func TestCompare(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0, V1_1.Compare(V1_1))
	assert.Equal(t, -1, V1_0.Compare(V1_1))
	assert.Equal(t, 1, V1_3.Compare(V1_2))
	assert.Equal(t, -1, V1_3.Compare(APIVersion{2, 0}))

	assert.True(t, V1_0.Before(V1_1))
	assert.False(t, V1_1.Before(V1_1))
	assert.True(t, V1_2.After(V1_1))
	assert.False(t, V1_2.After(V1_2))
}

func TestIsSupported(t *testing.T) {
	t.Parallel()
	for _, v := range All {
		assert.Truef(t, v.IsSupported(), "%s should be supported", v)
	}
	assert.False(t, APIVersion{1, 4}.IsSupported())
	assert.False(t, APIVersion{}.IsSupported())
}

func TestLatest(t *testing.T) {
	t.Parallel()
	assert.Equal(t, V1_3, Latest())
}

func TestEnabled(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []APIVersion{V1_0, V1_1, V1_2, V1_3}, Enabled(false))
	assert.Equal(t, []APIVersion{V1_1, V1_2, V1_3}, Enabled(true))
}

func TestMustParse(t *testing.T) {
	t.Parallel()
	assert.Equal(t, V1_1, MustParse("v1.1"))
	assert.Panics(t, func() { MustParse("nope") })
}
