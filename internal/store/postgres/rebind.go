package postgres

import (
	"strconv"
	"strings"
)

// Rebind rewrites '?' placeholders as PostgreSQL's $1, $2, ...
//
// Question marks are left alone inside single- or double-quoted text,
// -- line comments, /* */ block comments and $tag$ dollar-quoted bodies.
// "??" is written out as a literal '?', which is how a statement spells the
// jsonb ? operator. Statements that already use $n placeholders pass through
// unchanged.
func Rebind(stmt string) string {
	if !strings.Contains(stmt, "?") {
		return stmt
	}

	var b strings.Builder
	b.Grow(len(stmt) + 8)

	n := 0
	for i := 0; i < len(stmt); {
		c := stmt[i]
		switch {
		case c == '\'' || c == '"':
			end := strings.IndexByte(stmt[i+1:], c)
			i = copySpan(&b, stmt, i, end, i+1, 1)
		case c == '-' && strings.HasPrefix(stmt[i:], "--"):
			end := strings.IndexByte(stmt[i:], '\n')
			i = copySpan(&b, stmt, i, end, i, 1)
		case c == '/' && strings.HasPrefix(stmt[i:], "/*"):
			end := strings.Index(stmt[i+2:], "*/")
			i = copySpan(&b, stmt, i, end, i+2, 2)
		case c == '$':
			tag := dollarTag(stmt[i:])
			if tag == "" {
				b.WriteByte(c)
				i++
				continue
			}
			end := strings.Index(stmt[i+len(tag):], tag)
			i = copySpan(&b, stmt, i, end, i+len(tag), len(tag))
		case c == '?' && strings.HasPrefix(stmt[i:], "??"):
			b.WriteByte('?')
			i += 2
		case c == '?':
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

// copySpan copies stmt[start:] up to and including a terminator of length
// termLen found at offset end from base. A missing terminator (end < 0)
// copies the rest of the statement. It returns the index after the span.
func copySpan(b *strings.Builder, stmt string, start, end, base, termLen int) int {
	stop := len(stmt)
	if end >= 0 {
		stop = base + end + termLen
	}
	b.WriteString(stmt[start:stop])
	return stop
}

// dollarTag returns the opening $tag$ at the start of s, or "" if s does not
// open a dollar-quoted string. $1 style parameters are not tags.
func dollarTag(s string) string {
	for j := 1; j < len(s); j++ {
		c := s[j]
		switch {
		case c == '$':
			return s[:j+1]
		case c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= 0x80:
		case c >= '0' && c <= '9' && j > 1:
		default:
			return ""
		}
	}
	return ""
}
