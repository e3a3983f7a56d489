package inventory

import (
	"strings"

	apperrors "kv-inventory.io/kvinv/internal/pkg/errors"
)

// FormatHost renders a host_format template, substituting {namespace},
// {name} and {uid}. An unknown substitution key or an unterminated brace is a
// fatal configuration error; nothing in a VMI can recover it.
func FormatHost(format, namespace, name, uid string) (string, error) {
	var b strings.Builder
	b.Grow(len(format) + len(namespace) + len(name))

	rest := format
	for {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		b.WriteString(rest[:open])
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return "", apperrors.ErrHostFormatf(format, rest[open:])
		}
		switch key := rest[open+1 : open+end]; key {
		case "namespace":
			b.WriteString(namespace)
		case "name":
			b.WriteString(name)
		case "uid":
			b.WriteString(uid)
		default:
			return "", apperrors.ErrHostFormatf(format, key)
		}
		rest = rest[open+end+1:]
	}
}
