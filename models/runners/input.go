// Package runners holds the built-in model pipelines.
package runners

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"

	// Input decoders for the built-in image pipelines.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// ErrMissingImage is the client error for inputs with neither
// image_url nor image_base64.
var ErrMissingImage = errors.New("either image_url or image_base64 must be provided")

const fetchTimeout = 30 * time.Second

var fetchClient = &http.Client{Timeout: fetchTimeout}

// fetchImage resolves the input contract shared by all image runners:
// image_url is fetched over HTTP, image_base64 is decoded inline.
func fetchImage(ctx context.Context, input map[string]any) ([]byte, error) {
	if raw, ok := input["image_url"].(string); ok && raw != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
		if err != nil {
			return nil, fmt.Errorf("invalid image_url: %w", err)
		}
		resp, err := fetchClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch image_url: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch image_url: status %d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	}

	if raw, ok := input["image_base64"].(string); ok && raw != "" {
		data, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("decode image_base64: %w", err)
		}
		return data, nil
	}

	return nil, ErrMissingImage
}

// decodeImage parses image bytes and reports the source format
// ("png", "jpeg", ...).
func decodeImage(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}

// toCHW converts an image to a float32 CHW tensor scaled to [0,1].
func toCHW(img image.Image) ([]float32, int, int) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	data := make([]float32, 3*h*w)
	plane := h * w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			idx := y*w + x
			data[idx] = float32(r>>8) / 255.0
			data[plane+idx] = float32(g>>8) / 255.0
			data[2*plane+idx] = float32(bl>>8) / 255.0
		}
	}
	return data, w, h
}
