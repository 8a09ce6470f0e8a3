package dcn

import (
	"fmt"
	"strconv"
	"strings"
)

// RunningInstance parameterizes an execute call. The pair is opaque to the
// SDK beyond its encoding: the first component names an instance, the second
// carries a count/weight interpreted server-side.
type RunningInstance struct {
	Instance uint64 `json:"instance"`
	Count    uint64 `json:"count"`
}

// EncodeRunningInstances renders an ordered sequence of pairs as a single
// URL path segment: "[(a;b),(c;d)]". Order is preserved and duplicates are
// allowed. The bracket grammar must reach the server verbatim, so callers
// must never percent-encode the result.
//
// An empty sequence means "no running instances" and is expressed by
// omitting the path segment entirely; it is never encoded as "[]".
func EncodeRunningInstances(pairs []RunningInstance) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('(')
		b.WriteString(strconv.FormatUint(p.Instance, 10))
		b.WriteByte(';')
		b.WriteString(strconv.FormatUint(p.Count, 10))
		b.WriteByte(')')
	}
	b.WriteByte(']')
	return b.String()
}

// DecodeRunningInstances parses the path-segment encoding produced by
// EncodeRunningInstances, reconstructing the same ordered sequence.
func DecodeRunningInstances(s string) ([]RunningInstance, error) {
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("%w: %q is not bracketed", ErrMalformedInstances, s)
	}
	body := s[1 : len(s)-1]
	if body == "" {
		return nil, fmt.Errorf("%w: empty pair list %q", ErrMalformedInstances, s)
	}

	parts := strings.Split(body, ",")
	pairs := make([]RunningInstance, 0, len(parts))
	for _, part := range parts {
		if len(part) < 2 || part[0] != '(' || part[len(part)-1] != ')' {
			return nil, fmt.Errorf("%w: pair %q is not parenthesized", ErrMalformedInstances, part)
		}
		a, b, ok := strings.Cut(part[1:len(part)-1], ";")
		if !ok {
			return nil, fmt.Errorf("%w: pair %q has no separator", ErrMalformedInstances, part)
		}
		instance, err := strconv.ParseUint(a, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: pair %q: %v", ErrMalformedInstances, part, err)
		}
		count, err := strconv.ParseUint(b, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: pair %q: %v", ErrMalformedInstances, part, err)
		}
		pairs = append(pairs, RunningInstance{Instance: instance, Count: count})
	}
	return pairs, nil
}
