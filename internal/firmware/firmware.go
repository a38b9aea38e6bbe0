// Package firmware loads OTA images from disk or over HTTP.
package firmware

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/chaz8081/blecfg/internal/ble/ota"
)

// Image is a firmware image ready for upload.
type Image struct {
	Name        string
	Source      string
	Data        []byte
	Fingerprint string
}

// Load reads the image at src, which is either a local path or an
// http(s) URL. Download progress is written to progress when it is
// non-nil. Images over ota.MaxImageSize are rejected without reading the
// rest of the body.
func Load(ctx context.Context, src string, progress io.Writer) (Image, error) {
	var (
		name string
		data []byte
		err  error
	)
	if isURL(src) {
		name, data, err = download(ctx, src, progress)
	} else {
		name = filepath.Base(src)
		data, err = readFile(src)
	}
	if err != nil {
		return Image{}, err
	}
	if err := ota.Check(data); err != nil {
		return Image{}, err
	}
	return Image{
		Name:        name,
		Source:      src,
		Data:        data,
		Fingerprint: ota.Fingerprint(data),
	}, nil
}

func isURL(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

func readFile(p string) ([]byte, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("firmware: open: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, ota.MaxImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("firmware: read %s: %w", p, err)
	}
	return data, nil
}

func download(ctx context.Context, rawURL string, progress io.Writer) (string, []byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", nil, fmt.Errorf("firmware: parse url: %w", err)
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		name = u.Host
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", nil, fmt.Errorf("firmware: build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("firmware: download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("firmware: download failed: HTTP %d", resp.StatusCode)
	}
	if resp.ContentLength > ota.MaxImageSize {
		return "", nil, fmt.Errorf("firmware: %d bytes: %w", resp.ContentLength, ota.ErrImageTooLarge)
	}

	var body io.Reader = io.LimitReader(resp.Body, ota.MaxImageSize+1)
	if progress != nil {
		body = io.TeeReader(body, &progressWriter{out: progress, total: resp.ContentLength, label: name})
	}
	data, err := io.ReadAll(body)
	if progress != nil {
		fmt.Fprintln(progress)
	}
	if err != nil {
		return "", nil, fmt.Errorf("firmware: reading body: %w", err)
	}
	return name, data, nil
}

// progressWriter counts bytes passing through and prints download progress.
type progressWriter struct {
	out     io.Writer
	total   int64
	written int64
	label   string
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	pw.written += int64(len(p))
	if pw.total > 0 {
		pct := float64(pw.written) / float64(pw.total) * 100
		fmt.Fprintf(pw.out, "\r  %s: %.1f KB / %.1f KB (%.0f%%)",
			pw.label,
			float64(pw.written)/1024,
			float64(pw.total)/1024,
			pct)
	} else {
		fmt.Fprintf(pw.out, "\r  %s: %.1f KB downloaded", pw.label, float64(pw.written)/1024)
	}
	return len(p), nil
}
