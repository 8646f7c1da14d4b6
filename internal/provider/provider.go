// Package provider integrates with the remote GPU compute service that
// executes image-to-HDRI conversions. Two client variants satisfy the same
// contract: a network-backed client and a self-contained simulator whose
// status advances purely as a function of elapsed time.
package provider

import (
	"context"

	"github.com/envlight/hdrid/internal/config"
	"github.com/envlight/hdrid/internal/job"
)

// Provider status vocabulary, as reported by the compute service.
const (
	StatusInQueue    = "IN_QUEUE"
	StatusInProgress = "IN_PROGRESS"
	StatusCompleted  = "COMPLETED"
	StatusFailed     = "FAILED"
	StatusCancelled  = "CANCELLED"
)

// Output is the result section of a terminal provider status.
type Output struct {
	ResultURLs []string       `json:"result_urls,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// JobStatus is one status observation for a submitted job.
type JobStatus struct {
	ID     string  `json:"id"`
	Status string  `json:"status"`
	Output *Output `json:"output,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// Terminal reports whether the provider status permits no further change.
func (s *JobStatus) Terminal() bool {
	switch s.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Request is the prepared submission payload.
type Request struct {
	WorkflowType  string         `json:"workflow_type"`
	InputImageURL string         `json:"input_image_url"`
	Configuration map[string]any `json:"configuration"`
	OutputSettings map[string]any `json:"output_settings,omitempty"`
}

// Client is the compute provider contract consumed by the core.
type Client interface {
	// Available reports whether the client can accept submissions.
	Available() bool
	// Submit sends a prepared request and returns the external reference.
	Submit(ctx context.Context, req *Request) (string, error)
	// Status polls one job; (nil, nil) means the reference is unknown.
	Status(ctx context.Context, externalID string) (*JobStatus, error)
	// Cancel requests cancellation; best effort.
	Cancel(ctx context.Context, externalID string) bool
}

// BuildRequest constructs the submission payload for a job configuration.
func BuildRequest(imageURL string, cfg job.Config, webhookURL string) *Request {
	req := &Request{
		WorkflowType:  "diffusionlight",
		InputImageURL: imageURL,
		Configuration: map[string]any{
			"resolution":    cfg.Resolution,
			"output_format": cfg.OutputFormat,
			"anti_aliasing": cfg.AntiAliasing,
			"preset":        cfg.Preset,
		},
	}
	if webhookURL != "" {
		req.OutputSettings = map[string]any{
			"return_urls": true,
			"webhook_url": webhookURL,
		}
	}
	return req
}

// NewClient returns the network-backed client when api key and endpoint
// id are configured, nil otherwise. Without a client, jobs are accepted
// with no external reference and run through the local processing path,
// which synthesizes artifacts instead of harvesting remote URLs.
func NewClient(cfg *config.Provider) Client {
	if cfg.Available() {
		return NewRunPodClient(cfg)
	}
	return nil
}
