package ogc

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var crsPattern = regexp.MustCompile(`(?i)^[a-z]{3,5}:\d+$`)

// CRS identifies a coordinate reference system by authority and code.
type CRS struct {
	Namespace string
	Code      int
}

// ParseCRS parses "AUTH:CODE" and restricts AUTH to one of the allowed
// authorities, compared case-insensitively.
func ParseCRS(s string, authorities []string) (CRS, error) {
	if !crsPattern.MatchString(s) {
		return CRS{}, NewCodedError(CodeInvalidCRS, "Invalid CRS %q requested.", s)
	}
	ns, code, _ := strings.Cut(s, ":")
	allowed := false
	for _, a := range authorities {
		if strings.EqualFold(a, ns) {
			allowed = true
			break
		}
	}
	if !allowed {
		return CRS{}, NewCodedError(CodeInvalidCRS, "Invalid CRS namespace %q requested.", ns)
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		return CRS{}, NewCodedError(CodeInvalidCRS, "Invalid CRS %q requested.", s)
	}
	return CRS{Namespace: strings.ToLower(ns), Code: n}, nil
}

// String renders the lower case form used in map definitions, e.g. "epsg:4326".
func (c CRS) String() string {
	return fmt.Sprintf("%s:%d", c.Namespace, c.Code)
}

// Upper renders the advertised form, e.g. "EPSG:4326".
func (c CRS) Upper() string {
	return strings.ToUpper(c.String())
}

// IsEPSG reports whether the code belongs to the EPSG authority.
func (c CRS) IsEPSG() bool {
	return c.Namespace == "epsg"
}
