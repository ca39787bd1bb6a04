// Package processing moves scan images in and out of the pipeline: it
// reads uploads, encodes artifacts and renders debug overlays.
package processing

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// maxDownload caps remote uploads well above the upload gate limit so the
// gate, not the reader, produces the size error.
const maxDownload = 64 << 20

// Processor reads uploads and encodes scan artifacts.
type Processor struct {
	httpClient *http.Client
}

func NewProcessor() *Processor {
	return &Processor{httpClient: &http.Client{Timeout: 30 * time.Second}}
}

// ReadSource reads raw upload bytes from a local path or an http(s) URL.
// The returned name is what the upload gate checks the extension of.
func (p *Processor) ReadSource(ctx context.Context, source string) ([]byte, string, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return p.ReadFromURL(ctx, source)
	}
	return p.ReadFile(source)
}

// ReadFile reads an upload from disk.
func (p *Processor) ReadFile(name string) ([]byte, string, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, "", err
	}
	return data, filepath.Base(name), nil
}

// ReadFromURL downloads an upload. Only image content types are accepted.
func (p *Processor) ReadFromURL(ctx context.Context, rawURL string) ([]byte, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, "", fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", "nailscan/1.0")
	req.Header.Set("Accept", "image/jpeg, image/png")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download failed: %s", resp.Status)
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if !strings.HasPrefix(mediaType, "image/") {
		return nil, "", fmt.Errorf("%s is not an image (content type %q)", rawURL, mediaType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownload))
	if err != nil {
		return nil, "", fmt.Errorf("download failed: %w", err)
	}
	return data, path.Base(u.Path), nil
}
