package preflight

import (
	"context"
	"fmt"

	"reverie/internal/config"
	"reverie/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDirectoryAccess("Audio directory", cfg.Paths.AudioDir),
		CheckLLM(ctx, "LLM", cfg.GetLLM()),
	}

	if cfg.Transcription.Backend == "whisperx" {
		for _, status := range CheckSystemDeps(cfg) {
			results = append(results, fromDependency(status))
		}
	} else {
		results = append(results, CheckEndpoint(ctx, "Transcription API", cfg.Transcription.BaseURL, cfg.Transcription.APIKey))
	}

	if cfg.Image.Enabled {
		results = append(results, CheckEndpoint(ctx, "Image API", cfg.Image.BaseURL, cfg.Image.APIKey))
	}
	if cfg.Video.Enabled {
		results = append(results, CheckEndpoint(ctx, "Video API", cfg.Video.BaseURL+"/jobs", cfg.Video.APIKey))
	}

	return results
}

// Failed returns the checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}

func fromDependency(status deps.Status) Result {
	if status.Available {
		return Result{Name: status.Name, Passed: true, Detail: status.Command}
	}
	detail := status.Detail
	if status.Description != "" {
		detail = fmt.Sprintf("%s (%s)", detail, status.Description)
	}
	return Result{Name: status.Name, Passed: status.Optional, Detail: detail}
}
