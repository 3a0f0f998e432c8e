package utils

import (
	"net"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strings"
)

var envPattern = regexp.MustCompile(`\${([^}]+)}`)

func QueryParamsToLower(queryParams url.Values) url.Values {
	lowercaseParams := url.Values{}

	for key, values := range queryParams {
		lowercaseKey := strings.ToLower(key)
		lowercaseParams[lowercaseKey] = append(lowercaseParams[lowercaseKey], values...)
	}

	return lowercaseParams
}

func QueryParamsContainMultipleKeys(queryParams url.Values) bool {
	params := map[string]bool{}

	for key, values := range queryParams {
		if len(values) > 1 {
			return true
		}

		lowercaseKey := strings.ToLower(key)
		if params[lowercaseKey] {
			return true
		}

		params[lowercaseKey] = true
	}

	return false
}

// FirstValues flattens queryParams to the first value of every key. Keys keep
// their case; when keys differ only in case the one sorting first wins.
func FirstValues(queryParams url.Values) map[string]string {
	keys := make([]string, 0, len(queryParams))
	for key := range queryParams {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	seen := map[string]bool{}
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		lowercaseKey := strings.ToLower(key)
		if seen[lowercaseKey] || len(queryParams[key]) == 0 {
			continue
		}
		seen[lowercaseKey] = true
		out[key] = queryParams[key][0]
	}

	return out
}

func EnvSubst(input string) string {
	return envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := match[2 : len(match)-1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}

		return ""
	})
}

func ReadUserIP(r *http.Request) string {
	forwardedFor := r.Header.Get("X-Forwarded-For")
	if forwardedFor != "" {
		ips := strings.Split(forwardedFor, ",")
		return strings.TrimSpace(ips[0])
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func StringInSlice(a string, list []string) bool {
	for _, b := range list {
		if b == a {
			return true
		}
	}
	return false
}
