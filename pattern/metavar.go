package pattern

import "strings"

// IsMetavariable reports whether text is a single-node metavariable token:
// a name beginning with a single leading `$` (binds one node). It returns
// false for the `$...NAME` form (binds an ordered, possibly-empty sequence
// of sibling nodes), which IsEllipsisMetavariable reports. Names are
// case-sensitive (spec §3).
func IsMetavariable(text string) bool {
	return len(text) >= 2 && text[0] == '$' && isMetavarNameByte(text[1])
}

// IsEllipsisMetavariable reports whether text is an ellipsis-binding
// metavariable of the form $...NAME.
func IsEllipsisMetavariable(text string) bool {
	return strings.HasPrefix(text, "$...") && len(text) > 4
}

// MetavarName extracts the bare name (without the $ or $... prefix) from a
// metavariable token. It returns an empty string if text is not a valid
// metavariable token.
func MetavarName(text string) string {
	switch {
	case IsEllipsisMetavariable(text):
		return text[4:]
	case IsMetavariable(text):
		return text[1:]
	default:
		return ""
	}
}

func isMetavarNameByte(b byte) bool {
	return b == '_' || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9')
}

// IsEllipsisToken reports whether text is the bare sequence-ellipsis `...`
// used in statement blocks and argument lists (distinct from a named
// ellipsis metavariable).
func IsEllipsisToken(text string) bool {
	return text == "..."
}
