package proxyconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-proxykeeper/pkg/errors"
)

const expectedJSON = `{"log":{"loglevel":"info"},"dns":{"servers":["https+local://8.8.8.8/dns-query"]},"inbounds":[{"port":7707,"protocol":"trojan","settings":{"clients":[{"password":"123"}]},"streamSettings":{"network":"ws","wsSettings":{"path":"/123"}},"sniffing":{"enabled":true,"destOverride":["http","tls","quic"]}}],"outbounds":[{"protocol":"freedom","tag":"direct","settings":{"domainStrategy":"UseIPv4"}}]}`

func TestNew_MarshalJSON(t *testing.T) {
	data, err := New("123", Options{}).Marshal(FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, expectedJSON, string(data))
}

func TestNew_MarshalYAML(t *testing.T) {
	data, err := New("123", Options{}).Marshal(FormatYAML)
	require.NoError(t, err)

	text := string(data)
	for _, fragment := range []string{
		"loglevel: info",
		"streamSettings:",
		"wsSettings:",
		"path: /123",
		"password: \"123\"",
		"destOverride:",
		"domainStrategy: UseIPv4",
	} {
		assert.Contains(t, text, fragment)
	}
}

func TestRoundTrip(t *testing.T) {
	yamlDoc, err := New("5c1e4b2a-7d1f-4a8e-9b0c-3f2d1e0a9b8c", Options{}).Marshal(FormatYAML)
	require.NoError(t, err)

	tests := []struct {
		format Format
		input  string
	}{
		{FormatJSON, expectedJSON},
		{FormatYAML, string(yamlDoc)},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			doc, err := Unmarshal(tt.format, []byte(tt.input))
			require.NoError(t, err)

			out, err := doc.Marshal(tt.format)
			require.NoError(t, err)
			assert.Equal(t, tt.input, string(out))
		})
	}
}

func TestNew_Options(t *testing.T) {
	doc := New("abc", Options{
		Port:           8080,
		LogLevel:       "warning",
		DNSServers:     []string{"1.1.1.1"},
		DomainStrategy: "AsIs",
	})

	require.Len(t, doc.Inbounds, 1)
	assert.Equal(t, 8080, doc.Inbounds[0].Port)
	assert.Equal(t, "abc", doc.Inbounds[0].Settings.Clients[0].Password)
	assert.Equal(t, "/abc", doc.Inbounds[0].StreamSettings.WSSettings.Path)
	assert.Equal(t, "warning", doc.Log.LogLevel)
	assert.Equal(t, []string{"1.1.1.1"}, doc.DNS.Servers)
	assert.Equal(t, "AsIs", doc.Outbounds[0].Settings.DomainStrategy)
}

func TestUnsupportedFormat(t *testing.T) {
	_, err := New("abc", Options{}).Marshal("toml")
	assert.True(t, errors.IsValidationError(err))

	_, err = Unmarshal("toml", nil)
	assert.True(t, errors.IsValidationError(err))
}

func TestUnmarshal_Malformed(t *testing.T) {
	_, err := Unmarshal(FormatJSON, []byte("{"))
	assert.True(t, errors.IsParseError(err))
}

func TestFormatExtension(t *testing.T) {
	assert.Equal(t, ".json", FormatJSON.Extension())
	assert.Equal(t, ".yml", FormatYAML.Extension())
}
