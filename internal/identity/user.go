package identity

import (
	"regexp"
	"strings"
)

var nonPathSafe = regexp.MustCompile(`[^a-z0-9]+`)

// LocalPart returns the portion of email before "@", or email unchanged if
// it contains no "@".
func LocalPart(email string) string {
	if i := strings.IndexByte(email, '@'); i >= 0 {
		return email[:i]
	}
	return email
}

// ShortUserID derives the path-safe identifier used in worktree directory
// names and branch names: the lowercased local-part with every run of
// non [a-z0-9] characters collapsed to a single "-", trimmed of leading and
// trailing "-".
func ShortUserID(email string) string {
	local := strings.ToLower(LocalPart(strings.ToLower(email)))
	collapsed := nonPathSafe.ReplaceAllString(local, "-")
	return strings.Trim(collapsed, "-")
}
