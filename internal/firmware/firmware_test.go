package firmware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/blecfg/internal/ble/ota"
)

func TestLoadFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "app.bin")
	content := bytes.Repeat([]byte{0xE9}, 1500)
	require.NoError(t, os.WriteFile(p, content, 0644))

	img, err := Load(context.Background(), p, nil)
	require.NoError(t, err)
	assert.Equal(t, "app.bin", img.Name)
	assert.Len(t, img.Data, len(content))
	assert.Equal(t, ota.Fingerprint(content), img.Fingerprint)
}

func TestLoadFileRejectsOversize(t *testing.T) {
	p := filepath.Join(t.TempDir(), "big.bin")
	require.NoError(t, os.WriteFile(p, make([]byte, ota.MaxImageSize+10), 0644))

	_, err := Load(context.Background(), p, nil)
	assert.ErrorIs(t, err, ota.ErrImageTooLarge)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := Load(context.Background(), "/nonexistent/app.bin", nil)
	assert.Error(t, err)
}

func TestLoadURL(t *testing.T) {
	content := bytes.Repeat([]byte{1, 2, 3, 4}, 300)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/releases/fw-1.2.bin" {
			http.NotFound(w, r)
			return
		}
		w.Write(content)
	}))
	defer srv.Close()

	var progress bytes.Buffer
	img, err := Load(context.Background(), srv.URL+"/releases/fw-1.2.bin", &progress)
	require.NoError(t, err)
	assert.Equal(t, "fw-1.2.bin", img.Name)
	assert.Equal(t, content, img.Data)
	assert.Contains(t, progress.String(), "fw-1.2.bin")

	_, err = Load(context.Background(), srv.URL+"/missing.bin", nil)
	assert.Error(t, err, "HTTP 404")
}

func TestLoadURLRejectsDeclaredOversize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write(make([]byte, ota.MaxImageSize+1))
	}))
	defer srv.Close()

	_, err := Load(context.Background(), srv.URL+"/big.bin", nil)
	assert.ErrorIs(t, err, ota.ErrImageTooLarge)
}

func TestProgressWriterUnknownTotal(t *testing.T) {
	var out bytes.Buffer
	pw := &progressWriter{out: &out, total: -1, label: "fw.bin"}
	n, err := pw.Write(make([]byte, 2048))
	require.NoError(t, err)
	assert.Equal(t, 2048, n)
	assert.Contains(t, out.String(), "2.0 KB downloaded")
}
