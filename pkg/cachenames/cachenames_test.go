package cachenames

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNames(t *testing.T) {
	n := New("https://example.com/")
	assert.Equal(t, "swcache-precache-v2-https://example.com/", n.Precache())
	assert.Equal(t, "swcache-runtime-https://example.com/", n.Runtime())
	assert.Equal(t, "swcache-googleAnalytics-https://example.com/", n.GoogleAnalytics())

	n.Update(Details{Prefix: "app", Suffix: "v1"})
	assert.Equal(t, "app-precache-v2-v1", n.Precache())
	assert.Equal(t, "app-offline-fallbacks-v1", n.Name("offline-fallbacks"))
}

func TestJoin_DropsEmptyParts(t *testing.T) {
	tests := []struct {
		parts []string
		want  string
	}{
		{[]string{"a", "b", "c"}, "a-b-c"},
		{[]string{"", "runtime", ""}, "runtime"},
		{[]string{"swcache", "runtime", ""}, "swcache-runtime"},
		{nil, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Join(tt.parts...))
	}
}
