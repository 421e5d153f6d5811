package worker

import (
	"github.com/pixelforge-ai/pixelforge-api/internal/models"
)

// defaultVideoDuration is used when the job carries no duration.
const defaultVideoDuration = 5

// videoFPS is fixed; the endpoints generate at 25fps.
const videoFPS = 25

// Qwen image-edit companion weights, fixed per endpoint deployment.
const (
	qwenModelFile       = "qwen_image_edit_fp8_e4m3fn.safetensors"
	qwenVAEFile         = "qwen_image_vae.safetensors"
	qwenTextEncoderFile = "qwen_2.5_vl_7b_fp8_scaled.safetensors"
)

// aspectDimensions maps an aspect ratio to the resolution the video models
// support. Unknown ratios fall back to 16:9 landscape.
func aspectDimensions(aspectRatio string) (width, height int) {
	switch aspectRatio {
	case "16:9":
		return 1024, 576
	case "1:1":
		return 768, 768
	case "9:16":
		return 576, 1024
	default:
		return 1024, 576
	}
}

// BuildPayload assembles the generation request for a classified job.
func BuildPayload(job *models.Job, c Classification) map[string]any {
	if c.Video {
		return buildVideoPayload(job, c)
	}
	if c.QwenEdit {
		return buildQwenPayload(job)
	}

	payload := map[string]any{
		"prompt":       job.Prompt,
		"aspect_ratio": defaultString(job.AspectRatio, "1:1"),
		"model":        job.Model,
	}
	if job.NegativePrompt != "" {
		payload["negative_prompt"] = job.NegativePrompt
	}
	return payload
}

func buildQwenPayload(job *models.Job) map[string]any {
	payload := map[string]any{
		"prompt":            job.Prompt,
		"aspect_ratio":      defaultString(job.AspectRatio, "1:1"),
		"model":             job.Model,
		"input_image_url":   job.InputImageURL(),
		"steps":             20,
		"cfg":               2.5,
		"is_qwen":           true,
		"qwen_model":        qwenModelFile,
		"qwen_vae":          qwenVAEFile,
		"qwen_text_encoder": qwenTextEncoderFile,
	}
	if job.NegativePrompt != "" {
		payload["negative_prompt"] = job.NegativePrompt
	}
	return payload
}

func buildVideoPayload(job *models.Job, c Classification) map[string]any {
	width, height := aspectDimensions(job.AspectRatio)

	duration := job.DurationSeconds
	if duration <= 0 {
		duration = defaultVideoDuration
	}

	payload := map[string]any{
		"type":          "video",
		"prompt":        job.Prompt,
		"model":         c.WeightsFile,
		"workflow_type": c.WorkflowType,
		"width":         width,
		"height":        height,
		"duration":      duration,
		"fps":           videoFPS,
	}
	if url := job.InputImageURL(); url != "" {
		payload["input_image_url"] = url
	}
	return payload
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
