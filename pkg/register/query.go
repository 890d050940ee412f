package register

import "strings"

// param is one query-string pair. The remote service signs the query string
// byte-for-byte, so parameters are carried as an ordered slice, never a map.
type param struct {
	k, v string
}

// encodeValue percent-encodes a query value keeping unreserved characters
// and '*' literal, with spaces as %20. A '%' already present in the value is
// preserved, so pre-encoded values pass through untouched.
func encodeValue(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == '-' || c == '_' || c == '.' || c == '~' || c == '*' || c == '%':
			b.WriteByte(c)
		default:
			b.WriteByte('%')
			b.WriteByte(hexUpper[c>>4])
			b.WriteByte(hexUpper[c&0x0f])
		}
	}
	return b.String()
}

const hexUpper = "0123456789ABCDEF"

// encodeQuery renders the ordered parameter list into the exact query string
// sent on the wire and fed to the signer.
func encodeQuery(params []param) string {
	var b strings.Builder
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(p.k)
		b.WriteByte('=')
		b.WriteString(encodeValue(p.v))
	}
	return b.String()
}
