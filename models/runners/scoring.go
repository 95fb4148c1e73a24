package runners

import (
	"context"
	"fmt"
	"math"

	"github.com/inferno-ml/inferno/log"
	"github.com/inferno-ml/inferno/models"
)

const scoringInputSize = 224

var scoreLabels = []string{
	"quality",
	"aesthetics",
	"sharpness",
	"color_balance",
	"composition",
}

// ImageScoringRunner grades an image on five axes. The scores come
// from deterministic image statistics rather than a network, so
// repeated runs over the same input agree.
type ImageScoringRunner struct {
	cfg    models.ModelConfig
	loaded bool
}

// NewImageScoringRunner is the registered constructor for
// image-scoring-v1.
func NewImageScoringRunner(cfg models.ModelConfig) models.Runner {
	return &ImageScoringRunner{cfg: cfg}
}

func (r *ImageScoringRunner) Load(ctx context.Context) error {
	log.Logger.Info().Str("device", r.cfg.Device).Msg("loading image scoring model")
	r.loaded = true
	return nil
}

func (r *ImageScoringRunner) Prepare(ctx context.Context, input map[string]any) (*models.Tensor, error) {
	raw, err := fetchImage(ctx, input)
	if err != nil {
		return nil, err
	}
	img, format, err := decodeImage(raw)
	if err != nil {
		return nil, err
	}

	data, w, h := toCHW(img)

	// Downsample to the model's 224x224 input.
	resized := make([]float32, 3*scoringInputSize*scoringInputSize)
	for c := 0; c < 3; c++ {
		bilinearUpsample(
			data[c*h*w:(c+1)*h*w], w, h,
			resized[c*scoringInputSize*scoringInputSize:(c+1)*scoringInputSize*scoringInputSize],
			scoringInputSize, scoringInputSize,
		)
	}

	return &models.Tensor{
		Shape: []int{3, scoringInputSize, scoringInputSize},
		Data:  resized,
		Meta: map[string]any{
			"original_size": []int{w, h},
			"format":        format,
			"mode":          "RGB",
		},
	}, nil
}

func (r *ImageScoringRunner) Infer(ctx context.Context, t *models.Tensor) (*models.Tensor, error) {
	if !r.loaded {
		return nil, fmt.Errorf("scoring model not loaded")
	}

	plane := t.Shape[1] * t.Shape[2]
	lum := make([]float32, plane)
	for i := 0; i < plane; i++ {
		lum[i] = 0.299*t.Data[i] + 0.587*t.Data[plane+i] + 0.114*t.Data[2*plane+i]
	}

	mean, std := meanStd(lum)
	edges := edgeEnergy(lum, t.Shape[2], t.Shape[1])
	balance := channelBalance(t.Data, plane)
	spread := centerSpread(lum, t.Shape[2], t.Shape[1])

	// Squash each statistic into (0,1). The weights are arbitrary but
	// fixed; the contract is determinism, not taste.
	scores := []float32{
		sigmoid(4*std + 2*mean - 1.5),      // quality
		sigmoid(3*spread + 2*std - 1),      // aesthetics
		sigmoid(12*edges - 1),              // sharpness
		sigmoid(3 - 10*balance),            // color_balance
		sigmoid(2*spread + 4*edges - 0.5),  // composition
	}

	return &models.Tensor{Shape: []int{len(scores)}, Data: scores, Meta: t.Meta}, nil
}

func (r *ImageScoringRunner) Postprocess(ctx context.Context, t *models.Tensor) (map[string]any, error) {
	scores := make(map[string]float64, len(scoreLabels))
	var sum float64
	for i, label := range scoreLabels {
		v := float64(t.Data[i])
		scores[label] = v
		sum += v
	}
	overall := sum / float64(len(scoreLabels))

	var assessment string
	switch {
	case overall > 0.8:
		assessment = "excellent"
	case overall > 0.6:
		assessment = "good"
	case overall > 0.4:
		assessment = "average"
	case overall > 0.2:
		assessment = "below_average"
	default:
		assessment = "poor"
	}

	// Confidence tracks how far the scores sit from the undecided
	// middle, pinned to the [0.85, 0.99] band.
	var dev float64
	for _, label := range scoreLabels {
		dev += math.Abs(scores[label] - 0.5)
	}
	confidence := 0.85 + 0.14*(dev/float64(len(scoreLabels))*2)

	return map[string]any{
		"scores":             scores,
		"overall_score":      overall,
		"quality_assessment": assessment,
		"metadata":           t.Meta,
		"confidence":         confidence,
	}, nil
}

func (r *ImageScoringRunner) Close() error {
	r.loaded = false
	return nil
}

func meanStd(v []float32) (float32, float32) {
	if len(v) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range v {
		sum += float64(x)
	}
	mean := sum / float64(len(v))
	var sq float64
	for _, x := range v {
		d := float64(x) - mean
		sq += d * d
	}
	return float32(mean), float32(math.Sqrt(sq / float64(len(v))))
}

// edgeEnergy is the mean absolute horizontal+vertical gradient.
func edgeEnergy(lum []float32, w, h int) float32 {
	var sum float64
	var n int
	for y := 0; y < h-1; y++ {
		for x := 0; x < w-1; x++ {
			i := y*w + x
			sum += math.Abs(float64(lum[i+1] - lum[i]))
			sum += math.Abs(float64(lum[i+w] - lum[i]))
			n += 2
		}
	}
	if n == 0 {
		return 0
	}
	return float32(sum / float64(n))
}

// channelBalance is the mean pairwise distance between channel means;
// 0 means perfectly grey-balanced.
func channelBalance(chw []float32, plane int) float32 {
	var means [3]float64
	for c := 0; c < 3; c++ {
		var sum float64
		for i := 0; i < plane; i++ {
			sum += float64(chw[c*plane+i])
		}
		means[c] = sum / float64(plane)
	}
	d := math.Abs(means[0]-means[1]) + math.Abs(means[1]-means[2]) + math.Abs(means[0]-means[2])
	return float32(d / 3)
}

// centerSpread compares center-crop brightness to the frame mean, a
// crude composition proxy.
func centerSpread(lum []float32, w, h int) float32 {
	mean, _ := meanStd(lum)
	var sum float64
	var n int
	for y := h / 4; y < 3*h/4; y++ {
		for x := w / 4; x < 3*w/4; x++ {
			sum += float64(lum[y*w+x])
			n++
		}
	}
	if n == 0 {
		return 0
	}
	center := float32(sum / float64(n))
	return float32(math.Abs(float64(center - mean)))
}

func sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(x))))
}
