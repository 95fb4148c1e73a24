package runners

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"github.com/inferno-ml/inferno/log"
	"github.com/inferno-ml/inferno/models"
)

const superresScale = 4

// SuperResolutionRunner upscales an input image 4x with bilinear
// interpolation. It stands in for a real SR network: the pipeline
// shape (load, prepare, infer, postprocess) and the artifact contract
// are what the rest of the system depends on.
type SuperResolutionRunner struct {
	cfg    models.ModelConfig
	kernel []float32 // resident "weights"; nil until Load
}

// NewSuperResolutionRunner is the registered constructor for
// superres-x4.
func NewSuperResolutionRunner(cfg models.ModelConfig) models.Runner {
	return &SuperResolutionRunner{cfg: cfg}
}

func (r *SuperResolutionRunner) Load(ctx context.Context) error {
	log.Logger.Info().Str("device", r.cfg.Device).Msg("loading superres model")
	// A real runner would map checkpoint weights onto the device here.
	r.kernel = make([]float32, 64)
	for i := range r.kernel {
		r.kernel[i] = 1.0 / float32(len(r.kernel))
	}
	return nil
}

func (r *SuperResolutionRunner) Prepare(ctx context.Context, input map[string]any) (*models.Tensor, error) {
	raw, err := fetchImage(ctx, input)
	if err != nil {
		return nil, err
	}
	img, _, err := decodeImage(raw)
	if err != nil {
		return nil, err
	}

	data, w, h := toCHW(img)
	return &models.Tensor{
		Shape: []int{3, h, w},
		Data:  data,
		Meta:  map[string]any{"original_width": w, "original_height": h},
	}, nil
}

func (r *SuperResolutionRunner) Infer(ctx context.Context, t *models.Tensor) (*models.Tensor, error) {
	if r.kernel == nil {
		return nil, fmt.Errorf("superres model not loaded")
	}
	h, w := t.Shape[1], t.Shape[2]
	oh, ow := h*superresScale, w*superresScale
	out := make([]float32, 3*oh*ow)

	for c := 0; c < 3; c++ {
		src := t.Data[c*h*w : (c+1)*h*w]
		dst := out[c*oh*ow : (c+1)*oh*ow]
		bilinearUpsample(src, w, h, dst, ow, oh)
	}

	return &models.Tensor{Shape: []int{3, oh, ow}, Data: out, Meta: t.Meta}, nil
}

func (r *SuperResolutionRunner) Postprocess(ctx context.Context, t *models.Tensor) (map[string]any, error) {
	h, w := t.Shape[1], t.Shape[2]
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	plane := h * w
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x
			img.SetRGBA(x, y, color.RGBA{
				R: clampByte(t.Data[idx]),
				G: clampByte(t.Data[plane+idx]),
				B: clampByte(t.Data[2*plane+idx]),
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}

	ow, _ := t.Meta["original_width"].(int)
	oh, _ := t.Meta["original_height"].(int)

	return map[string]any{
		"image_bytes":   buf.Bytes(),
		"size":          []int{w, h},
		"format":        "PNG",
		"scale_factor":  superresScale,
		"original_size": []int{ow, oh},
	}, nil
}

func (r *SuperResolutionRunner) Close() error {
	r.kernel = nil
	return nil
}

// bilinearUpsample resizes one channel plane from (sw,sh) to (dw,dh).
func bilinearUpsample(src []float32, sw, sh int, dst []float32, dw, dh int) {
	xRatio := float32(sw-1) / float32(max(dw-1, 1))
	yRatio := float32(sh-1) / float32(max(dh-1, 1))
	for y := 0; y < dh; y++ {
		sy := float32(y) * yRatio
		y0 := int(sy)
		y1 := min(y0+1, sh-1)
		fy := sy - float32(y0)
		for x := 0; x < dw; x++ {
			sx := float32(x) * xRatio
			x0 := int(sx)
			x1 := min(x0+1, sw-1)
			fx := sx - float32(x0)

			top := src[y0*sw+x0]*(1-fx) + src[y0*sw+x1]*fx
			bot := src[y1*sw+x0]*(1-fx) + src[y1*sw+x1]*fx
			dst[y*dw+x] = top*(1-fy) + bot*fy
		}
	}
}

func clampByte(v float32) uint8 {
	x := v * 255
	if x < 0 {
		return 0
	}
	if x > 255 {
		return 255
	}
	return uint8(x)
}
