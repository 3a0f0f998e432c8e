package ogc

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a three component protocol version.
type Version struct {
	Major int
	Minor int
	Patch int
}

var (
	// Version111 is the oldest supported version and the default for requests
	// that carry none.
	Version111 = Version{1, 1, 1}
	Version130 = Version{1, 3, 0}
)

// ParseVersion parses "major.minor.patch". An empty string yields Version111.
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version111, nil
	}
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Version{}, NewProtocolError("Badly formatted version number %q.", s)
	}
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, NewProtocolError("Badly formatted version number %q.", s)
		}
		nums[i] = n
	}
	return Version{nums[0], nums[1], nums[2]}, nil
}

// Compare returns -1, 0 or 1.
func (v Version) Compare(o Version) int {
	switch {
	case v.Major != o.Major:
		return sign(v.Major - o.Major)
	case v.Minor != o.Minor:
		return sign(v.Minor - o.Minor)
	default:
		return sign(v.Patch - o.Patch)
	}
}

// AtLeast reports whether v >= o.
func (v Version) AtLeast(o Version) bool {
	return v.Compare(o) >= 0
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}
