package core

import (
	"regexp"
	"strings"
)

// maskPattern accepts nick!user@host with glob wildcards.
var maskPattern = regexp.MustCompile(`^[a-zA-Z0-9_\*\?\[\]\\\^\{\}~\|-]+![a-zA-Z0-9_\*\?\[\]\\\^\{\}~\|-]+@[a-zA-Z0-9_\*\?\[\]\\\^\{\}~\|\.-]+$`)

// isValidMask checks that a ban mask is well-formed (nick!user@host,
// wildcards allowed). No further validation is performed.
func isValidMask(mask string) bool {
	return maskPattern.MatchString(mask)
}

// matchesMask matches a nick!user@host triple against a ban mask. The host
// section is matched case-insensitively.
func matchesMask(mask, nick, user, host string) bool {
	maskNick, maskUser, maskHost, ok := splitMask(mask)
	if !ok {
		return false
	}

	return globMatch(nick, maskNick) &&
		globMatch(user, maskUser) &&
		globMatch(strings.ToLower(host), strings.ToLower(maskHost))
}

// splitMask breaks a mask into its nick, user, and host sections.
func splitMask(mask string) (nick, user, host string, ok bool) {
	bang := strings.Index(mask, "!")
	if bang < 0 {
		return "", "", "", false
	}
	at := strings.Index(mask[bang+1:], "@")
	if at < 0 {
		return "", "", "", false
	}

	return mask[:bang], mask[bang+1 : bang+1+at], mask[bang+1+at+1:], true
}

// globMatch performs wildcard matching where '*' matches any run of
// characters and '?' matches exactly one.
func globMatch(s, pattern string) bool {
	if pattern == "*" {
		return true
	}

	// Dynamic programming over the pattern; small inputs so the quadratic
	// table is fine.
	prev := make([]bool, len(s)+1)
	curr := make([]bool, len(s)+1)
	prev[0] = true

	for i := 1; i <= len(pattern); i++ {
		p := pattern[i-1]
		curr[0] = prev[0] && p == '*'
		for j := 1; j <= len(s); j++ {
			switch p {
			case '*':
				curr[j] = curr[j-1] || prev[j]
			case '?':
				curr[j] = prev[j-1]
			default:
				curr[j] = prev[j-1] && s[j-1] == p
			}
		}
		prev, curr = curr, prev
	}

	return prev[len(s)]
}
