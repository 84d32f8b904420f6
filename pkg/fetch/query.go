package fetch

import (
	"net/url"
	"strings"
)

// FilterQuery removes the pairs of rawQuery whose decoded name drop
// reports true. The remaining pairs keep their order and encoding.
func FilterQuery(rawQuery string, drop func(name string) bool) string {
	if rawQuery == "" {
		return ""
	}
	pairs := strings.Split(rawQuery, "&")
	kept := pairs[:0]
	for _, pair := range pairs {
		name, _, _ := strings.Cut(pair, "=")
		if decoded, err := url.QueryUnescape(name); err == nil {
			name = decoded
		}
		if pair != "" && drop(name) {
			continue
		}
		kept = append(kept, pair)
	}
	return strings.Join(kept, "&")
}

// SetQueryParam replaces every name pair of rawQuery with one name=value
// pair appended at the end.
func SetQueryParam(rawQuery, name, value string) string {
	q := FilterQuery(rawQuery, func(n string) bool { return n == name })
	pair := url.QueryEscape(name) + "=" + url.QueryEscape(value)
	if q == "" {
		return pair
	}
	return q + "&" + pair
}
