// Package versions handles query API protocol versions and the downgrade
// transforms between them.
//
//   - Versions are registered oldest first and walked one minor step at a
//     time; a downgrade step owns exactly the fields its version introduced
//   - Documents are treated as opaque trees; removal is structural and never
//     consults a per-type schema
package versions

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidVersion is returned when a version string cannot be parsed
	ErrInvalidVersion = errors.New("invalid api version")
	// ErrUnsupportedVersion is returned when a version is outside the
	// supported set
	ErrUnsupportedVersion = errors.New("unsupported api version")
)

// APIVersion is one protocol version of the query API
type APIVersion struct {
	Major int
	Minor int
}

// Supported versions, oldest first
var (
	V1_0 = APIVersion{1, 0}
	V1_1 = APIVersion{1, 1}
	V1_2 = APIVersion{1, 2}
	V1_3 = APIVersion{1, 3}
)

// All enumerates every version this service can expose, oldest first
var All = []APIVersion{V1_0, V1_1, V1_2, V1_3}

// Latest returns the newest supported version
func Latest() APIVersion {
	return All[len(All)-1]
}

// Parse converts a "v<major>.<minor>" string into an APIVersion
func Parse(s string) (APIVersion, error) {
	if !strings.HasPrefix(s, "v") {
		return APIVersion{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}
	major, minor, found := strings.Cut(s[1:], ".")
	if !found {
		return APIVersion{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}
	maj, err := strconv.Atoi(major)
	if err != nil {
		return APIVersion{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}
	min, err := strconv.Atoi(minor)
	if err != nil {
		return APIVersion{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}
	return APIVersion{Major: maj, Minor: min}, nil
}

// MustParse is a Parse convenience for static version strings; it panics on
// malformed input
func MustParse(s string) APIVersion {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String implements the Stringer interface
func (v APIVersion) String() string {
	return "v" + strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor)
}

// IsZero reports whether the version is the unset zero value
func (v APIVersion) IsZero() bool {
	return v.Major == 0 && v.Minor == 0
}

// Compare returns -1, 0 or 1 if v is older than, equal to or newer than o
func (v APIVersion) Compare(o APIVersion) int {
	switch {
	case v.Major != o.Major:
		if v.Major < o.Major {
			return -1
		}
		return 1
	case v.Minor != o.Minor:
		if v.Minor < o.Minor {
			return -1
		}
		return 1
	}
	return 0
}

// Before reports whether v is older than o
func (v APIVersion) Before(o APIVersion) bool {
	return v.Compare(o) < 0
}

// After reports whether v is newer than o
func (v APIVersion) After(o APIVersion) bool {
	return v.Compare(o) > 0
}

// IsSupported reports whether v is one of the versions this service exposes
func (v APIVersion) IsSupported() bool {
	for i := range All {
		if All[i] == v {
			return true
		}
	}
	return false
}

// Enabled returns the versions the client surfaces should expose; v1.0 is
// withheld when the service is https-only
func Enabled(httpsOnly bool) []APIVersion {
	if !httpsOnly {
		return All
	}
	enabled := make([]APIVersion, 0, len(All)-1)
	for _, v := range All {
		if v == V1_0 {
			continue
		}
		enabled = append(enabled, v)
	}
	return enabled
}
