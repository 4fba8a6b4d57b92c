package bootscript

import "strings"

// quoteValue renders a substitution value as a shell-safe literal. A nil
// value renders as an empty quoted string (spec.md §4.2).
func quoteValue(v Value) string {
	if v == nil {
		return "''"
	}
	return shellQuote(*v)
}

// shellQuote mirrors Python's shlex.quote: a run of POSIX shell-safe bytes
// is returned unquoted; anything else is wrapped in single quotes, with
// embedded single quotes escaped as '"'"'.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if isShellSafe(s) {
		return s
	}
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range s {
		if r == '\'' {
			b.WriteString(`'"'"'`)
		} else {
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

func isShellSafe(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("@%_-+=:,./", r):
		default:
			return false
		}
	}
	return true
}
