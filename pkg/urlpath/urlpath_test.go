package urlpath

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoin(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		segments []string
		expected string
	}{
		{"no segments", "https://github.com/XTLS/Xray-core/releases", nil, "https://github.com/XTLS/Xray-core/releases"},
		{"plain", "https://github.com/XTLS/Xray-core/releases", []string{"latest"}, "https://github.com/XTLS/Xray-core/releases/latest"},
		{"base trailing slash", "https://h/releases/", []string{"latest"}, "https://h/releases/latest"},
		{"segment leading slash", "https://h/releases", []string{"/latest"}, "https://h/releases/latest"},
		{"both slashes", "https://h/releases/", []string{"/download/", "/v1.7.5/", "Xray-linux-64.zip"}, "https://h/releases/download/v1.7.5/Xray-linux-64.zip"},
		{"empty segment skipped", "http://db", []string{"", "uuid"}, "http://db/uuid"},
		{"kv assignment", "http://db/", []string{"uuid=abc"}, "http://db/uuid=abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Join(tt.base, tt.segments...))
		})
	}
}

func TestLastSegment(t *testing.T) {
	tests := []struct {
		raw      string
		expected string
	}{
		{"https://github.com/XTLS/Xray-core/releases/tag/v1.7.5", "v1.7.5"},
		{"https://github.com/XTLS/Xray-core/releases/tag/v1.7.5/", "v1.7.5"},
		{"https://github.com/", ""},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			u, err := url.Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, LastSegment(u))
		})
	}
}

func TestHostURL(t *testing.T) {
	assert.Equal(t, "https://proxy.alice.repl.co/1234", HostURL("https", []string{"proxy", "alice", "repl.co"}, "1234"))
	assert.Equal(t, "https://proxy.repl.co/1234", HostURL("", []string{"proxy", "", ".repl.co"}, "/1234/"))
	assert.Equal(t, "http://localhost:8080", HostURL("http", []string{"localhost:8080"}))
}
