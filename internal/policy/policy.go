// Package policy turns the declarative policy document into a normalized Configuration
// and decides, per service, whether a lifecycle action may touch it.
package policy

import "strings"

// MatchesPrefix reports whether name passes the prefix gate.
func MatchesPrefix(name, prefix string) bool {
	return prefix != "" && strings.HasPrefix(name, prefix)
}
