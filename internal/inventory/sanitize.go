package inventory

import "strings"

// SanitizeName normalizes a constructed group or connection name to the
// restricted identifier character set: ASCII letters, digits and underscore.
// Every invalid character maps to a single underscore. Host identifiers
// rendered from host_format are NOT sanitized; they are used as keys verbatim.
func SanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
