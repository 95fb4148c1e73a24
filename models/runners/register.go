package runners

import "github.com/inferno-ml/inferno/models"

// RegisterAll attaches every built-in runner to a registry. Called
// explicitly at startup; there is no import-side-effect registration.
func RegisterAll(reg *models.Registry) {
	reg.Register("superres-x4", NewSuperResolutionRunner)
	reg.Register("image-scoring-v1", NewImageScoringRunner)
}
