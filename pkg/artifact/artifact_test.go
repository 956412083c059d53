package artifact

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/core-tools/hsu-proxykeeper/pkg/errors"
	"github.com/core-tools/hsu-proxykeeper/pkg/logging"
	"github.com/core-tools/hsu-proxykeeper/pkg/version"
)

func buildArchive(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestPlatformArchiveName(t *testing.T) {
	tests := []struct {
		goos, goarch string
		expected     string
	}{
		{"linux", "amd64", "Xray-linux-64.zip"},
		{"linux", "386", "Xray-linux-32.zip"},
		{"linux", "arm64", "Xray-linux-arm64-v8a.zip"},
		{"freebsd", "arm", "Xray-freebsd-arm32-v7a.zip"},
		{"linux", "riscv64", "Xray-linux-riscv64.zip"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, PlatformArchiveName(tt.goos, tt.goarch))
	}
}

func TestExtract(t *testing.T) {
	payload := []byte("\x7fELF binary payload")
	archive := buildArchive(t, map[string][]byte{
		"xray":        payload,
		"geoip.dat":   []byte("geoip"),
		"LICENSE":     []byte("license"),
		"sub/xray.sh": []byte("not me"),
	})

	t.Run("present", func(t *testing.T) {
		content, err := Extract(archive, "xray")
		require.NoError(t, err)
		assert.Equal(t, payload, content)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := Extract(archive, "missing")
		require.Error(t, err)
		assert.True(t, errors.IsNotFoundError(err))
	})

	t.Run("exact match only", func(t *testing.T) {
		_, err := Extract(archive, "xra")
		assert.True(t, errors.IsNotFoundError(err))
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := Extract([]byte("definitely not a zip"), "xray")
		require.Error(t, err)
		assert.True(t, errors.IsNotFoundError(err))
	})
}

func TestHTTPSource_Fetch(t *testing.T) {
	archive := buildArchive(t, map[string][]byte{"xray": []byte("bin")})

	var requested string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.Path
		if r.URL.Path != "/releases/download/v1.7.5/Xray-linux-64.zip" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(archive)
	}))
	defer server.Close()

	source := NewHTTPSource(HTTPSourceOptions{
		ReleasesURL: server.URL + "/releases/",
		ArchiveName: "Xray-linux-64.zip",
	}, logging.NewNopLogger())

	data, err := source.Fetch(context.Background(), "v1.7.5")
	require.NoError(t, err)
	assert.Equal(t, archive, data)
	assert.Equal(t, "/releases/download/v1.7.5/Xray-linux-64.zip", requested)

	_, err = source.Fetch(context.Background(), "v0.0.1")
	require.Error(t, err)
	assert.True(t, errors.IsNetworkError(err))
}

func TestFSSource_Fetch(t *testing.T) {
	archive := buildArchive(t, map[string][]byte{"xray": []byte("embedded")})
	fsys := fstest.MapFS{
		"v1.7.5/Xray-linux-64.zip": &fstest.MapFile{Data: archive},
	}

	source := NewFSSource(fsys, "Xray-linux-64.zip")

	data, err := source.Fetch(context.Background(), "v1.7.5")
	require.NoError(t, err)
	assert.Equal(t, archive, data)

	_, err = source.Fetch(context.Background(), "v1.7.4")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

type countingSource struct {
	data  []byte
	calls int
}

func (s *countingSource) Fetch(ctx context.Context, v version.Version) ([]byte, error) {
	s.calls++
	return s.data, nil
}

func TestCachingSource_StoresAndReuses(t *testing.T) {
	dir := t.TempDir()
	upstream := &countingSource{data: buildArchive(t, map[string][]byte{"xray": []byte("binary")})}

	source := NewCachingSource(dir, "Xray-linux-64.zip", upstream, logging.NewNopLogger())

	first, err := source.Fetch(context.Background(), "v1.7.5")
	require.NoError(t, err)
	second, err := source.Fetch(context.Background(), "v1.7.5")
	require.NoError(t, err)

	assert.Equal(t, upstream.data, first)
	assert.Equal(t, upstream.data, second)
	assert.Equal(t, 1, upstream.calls)

	cached, err := os.ReadFile(filepath.Join(dir, "v1.7.5", "Xray-linux-64.zip"))
	require.NoError(t, err)
	assert.Equal(t, upstream.data, cached)
}

func TestCachingSource_DoesNotCacheUnreadableArchive(t *testing.T) {
	dir := t.TempDir()
	upstream := &countingSource{data: []byte("<html>rate limited</html>")}
	fetcher := NewFetcher(NewCachingSource(dir, "Xray-linux-64.zip", upstream, logging.NewNopLogger()), "xray", logging.NewNopLogger())

	for i := 0; i < 2; i++ {
		_, err := fetcher.Fetch(context.Background(), "v1.7.5")
		assert.True(t, errors.IsArchiveError(err))
	}
	assert.Equal(t, 2, upstream.calls, "every fetch goes upstream")

	_, err := os.Stat(filepath.Join(dir, "v1.7.5", "Xray-linux-64.zip"))
	assert.True(t, os.IsNotExist(err))
}

func TestCachingSource_EvictsUnreadableCacheEntry(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "v1.7.5", "Xray-linux-64.zip")
	require.NoError(t, os.MkdirAll(filepath.Dir(cachePath), 0755))
	require.NoError(t, os.WriteFile(cachePath, []byte("truncated"), 0644))

	archive := buildArchive(t, map[string][]byte{"xray": []byte("new binary")})
	upstream := &countingSource{data: archive}
	fetcher := NewFetcher(NewCachingSource(dir, "Xray-linux-64.zip", upstream, logging.NewNopLogger()), "xray", logging.NewNopLogger())

	binary, err := fetcher.Fetch(context.Background(), "v1.7.5")
	require.NoError(t, err)
	assert.Equal(t, []byte("new binary"), binary)
	assert.Equal(t, 1, upstream.calls)

	cached, err := os.ReadFile(cachePath)
	require.NoError(t, err)
	assert.Equal(t, archive, cached)
}

func TestFetcher_Fetch(t *testing.T) {
	archive := buildArchive(t, map[string][]byte{"xray": []byte("new binary")})
	fetcher := NewFetcher(&countingSource{data: archive}, "xray", logging.NewNopLogger())

	binary, err := fetcher.Fetch(context.Background(), "v1.7.5")
	require.NoError(t, err)
	assert.Equal(t, []byte("new binary"), binary)

	wrongMember := NewFetcher(&countingSource{data: archive}, "server", logging.NewNopLogger())
	_, err = wrongMember.Fetch(context.Background(), "v1.7.5")
	require.Error(t, err)
	assert.True(t, errors.IsArchiveError(err))
	assert.True(t, errors.IsNotFoundError(err))
}
