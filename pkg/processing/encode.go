package processing

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

// dataURIQuality is the jpeg quality of inline artifacts.
const dataURIQuality = 90

var errNotDataURI = errors.New("not a base64 data URI")

// encode writes img in the named format. Unknown formats fall back to jpeg.
func encode(w io.Writer, img image.Image, format string, quality int, lossless bool) error {
	switch strings.ToLower(format) {
	case "webp":
		return webp.Encode(w, img, &webp.Options{Lossless: lossless, Quality: float32(quality)})
	case "png":
		return imaging.Encode(w, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestSpeed))
	default:
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	}
}

// Encode serializes an image as png, webp or jpeg.
func (p *Processor) Encode(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, img, format, quality, false); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// PrepareImageForModel shrinks img to fit maxDim and returns it base64
// encoded, the form the vision backends take.
func (p *Processor) PrepareImageForModel(img image.Image, format string, maxDim int, quality int) (string, error) {
	if maxDim > 0 {
		img = imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
	}
	data, err := p.Encode(img, format, quality)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// EncodeDataURI renders an artifact inline. Photos go out as jpeg, masks
// and overlays as png.
func (p *Processor) EncodeDataURI(img image.Image, format string) (string, error) {
	out, mimeType := "png", "image/png"
	if f := strings.ToLower(format); f == "jpg" || f == "jpeg" {
		out, mimeType = "jpeg", "image/jpeg"
	}
	data, err := p.Encode(img, out, dataURIQuality)
	if err != nil {
		return "", err
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// DecodeDataURI reverses EncodeDataURI.
func (p *Processor) DecodeDataURI(uri string) (image.Image, error) {
	if !strings.HasPrefix(uri, "data:") {
		return nil, errNotDataURI
	}
	_, payload, ok := strings.Cut(uri, ";base64,")
	if !ok {
		return nil, errNotDataURI
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode data URI: %w", err)
	}
	return imaging.Decode(bytes.NewReader(data))
}

// SaveImage writes img to path. Quality applies to jpeg and lossy webp.
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return encode(f, img, format, quality, lossless)
}
