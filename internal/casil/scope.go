package casil

import "path/filepath"

// scopeKey computes the `room:channel` key spec.md §4.5 step 2 matches
// against, or a synthetic key for direct (non-room) messages.
func scopeKey(room, channel, toClient string) string {
	if room != "" || channel != "" {
		return room + ":" + channel
	}
	return "direct:" + toClient
}

// inScope applies exclude/include glob patterns: excluded wins over
// included; an empty include list means "match-all when enabled".
func inScope(key string, scope ScopeConfig) bool {
	for _, pattern := range scope.Exclude {
		if globMatch(pattern, key) {
			return false
		}
	}
	if len(scope.Include) == 0 {
		return true
	}
	for _, pattern := range scope.Include {
		if globMatch(pattern, key) {
			return true
		}
	}
	return false
}

func globMatch(pattern, key string) bool {
	ok, err := filepath.Match(pattern, key)
	if err != nil {
		return false
	}
	return ok
}
