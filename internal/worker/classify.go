// Package worker runs the job dispatcher: it claims pending jobs, calls the
// inference endpoints, stores the artifacts, and finalizes job state.
package worker

import (
	"strings"

	"github.com/pixelforge-ai/pixelforge-api/internal/models"
)

// Workflow types sent to the video endpoints.
const (
	WorkflowTextToVideo  = "text-to-video"
	WorkflowImageToVideo = "image-to-video"
)

// Fixed weights filenames the video endpoints expect per workflow.
const (
	weightsImageToVideo = "wan2.2_i2v_high_noise_14B_fp16.safetensors"
	weightsTextToVideo  = "wan2.2_t2v_high_noise_14B_fp8_scaled.safetensors"
)

// videoModelSubstrings mark a model name as a video model. Checked in
// order; "wan" last so the specific variants match first.
var videoModelSubstrings = []string{
	"ltx-video-13b",
	"ltx-video",
	"wan22-animate-14b",
	"wan2.2",
	"wan",
}

// Classification is the pure routing decision for one job.
type Classification struct {
	// Video selects the video pipeline.
	Video bool
	// QwenEdit selects the image-edit pipeline. Requires an input image.
	QwenEdit bool
	// WorkflowType and WeightsFile are set for video jobs only.
	WorkflowType string
	WeightsFile  string
}

// IsVideoModel reports whether the model name names a video model.
func IsVideoModel(model string) bool {
	lower := strings.ToLower(model)
	for _, sub := range videoModelSubstrings {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}

// isQwenModel reports whether the model name is a Qwen image-edit model.
func isQwenModel(model string) bool {
	return strings.Contains(strings.ToLower(model), "qwen")
}

// Classify routes a job from its declared type, model name, and metadata.
// The declared type wins: a job submitted as video runs the video pipeline
// even when its model name is not a recognised video model.
func Classify(job *models.Job) Classification {
	if job.Type == models.JobTypeVideo || IsVideoModel(job.Model) {
		c := Classification{Video: true}
		if job.InputImageURL() != "" {
			c.WorkflowType = WorkflowImageToVideo
			c.WeightsFile = weightsImageToVideo
		} else {
			c.WorkflowType = WorkflowTextToVideo
			c.WeightsFile = weightsTextToVideo
		}
		return c
	}

	// Qwen edits only make sense with an input image; without one the job
	// runs as a plain image generation.
	if isQwenModel(job.Model) && job.InputImageURL() != "" {
		return Classification{QwenEdit: true}
	}

	return Classification{}
}
