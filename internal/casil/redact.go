package casil

import (
	"regexp"
	"strings"
)

// RedactionSentinel replaces matched values/keys during redaction.
const RedactionSentinel = "***REDACTED***"

// redactFieldPaths walks a decoded payload tree, replacing the value at
// any matching field path with RedactionSentinel. A path component of "*"
// matches any key at that depth. Maps are mutated in place; any non-map
// value (including arrays and a non-map root) is returned unchanged and not
// searched.
func redactFieldPaths(v any, paths []string) any {
	if len(paths) == 0 {
		return v
	}
	segments := make([][]string, 0, len(paths))
	for _, p := range paths {
		segments = append(segments, strings.Split(p, "."))
	}
	return redactWalk(v, segments)
}

func redactWalk(v any, paths [][]string) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for key, val := range m {
		var matchedHere bool
		var remaining [][]string
		for _, path := range paths {
			if len(path) == 0 {
				continue
			}
			if path[0] == key || path[0] == "*" {
				if len(path) == 1 {
					matchedHere = true
				} else {
					remaining = append(remaining, path[1:])
				}
			}
		}
		if matchedHere {
			m[key] = RedactionSentinel
			continue
		}
		if len(remaining) > 0 {
			m[key] = redactWalk(val, remaining)
		}
	}
	return m
}

// redactPatterns replaces every match of every pattern in raw with
// RedactionSentinel. Used both standalone (no decodable structure) and as
// a fallback pass over field-path-redacted payloads that still contain
// matches outside the redacted fields (e.g. a secret embedded in free
// text).
func redactPatterns(raw []byte, patterns []*regexp.Regexp) []byte {
	out := raw
	for _, re := range patterns {
		out = re.ReplaceAll(out, []byte(RedactionSentinel))
	}
	return out
}
