package fetch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterQuery(t *testing.T) {
	utm := func(name string) bool { return strings.HasPrefix(name, "utm_") }

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", "", ""},
		{"order and encoding kept", "b=1&utm_source=x&a=%2F&q=a+b", "b=1&a=%2F&q=a+b"},
		{"encoded name", "utm%5Fmedium=y&z=1", "z=1"},
		{"everything dropped", "utm_a=1&utm_b=2", ""},
		{"bare key", "flag&utm_a=1", "flag"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterQuery(tt.raw, utm))
		})
	}
}

func TestSetQueryParam(t *testing.T) {
	assert.Equal(t, "rev=1", SetQueryParam("", "rev", "1"))
	assert.Equal(t, "b=1&a=2&rev=r%2F2", SetQueryParam("b=1&rev=0&a=2", "rev", "r/2"))
}
