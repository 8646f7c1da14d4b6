// Package job defines the job record and the lifecycle state machine that
// governs every status mutation.
package job

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Result file type tags.
const (
	FileTypeHDRI     = "hdri"
	FileTypeResult   = "result"
	FileTypePreview  = "preview"
	FileTypeMetadata = "metadata"
)

// Config describes the requested transformation. Set once at creation.
type Config struct {
	Resolution   int    `json:"resolution" validate:"omitempty,oneof=512 1024 2048 4096"`
	OutputFormat string `json:"output_format" validate:"omitempty,oneof=hdr exr"`
	AntiAliasing string `json:"anti_aliasing" validate:"omitempty,oneof=1 2 4 8"`
	Preset       string `json:"preset" validate:"omitempty,max=64"`
}

var validate = validator.New()

// ApplyDefaults fills unset fields with the processing defaults.
func (c *Config) ApplyDefaults() {
	if c.Resolution == 0 {
		c.Resolution = 1024
	}
	if c.OutputFormat == "" {
		c.OutputFormat = "hdr"
	}
	if c.AntiAliasing == "" {
		c.AntiAliasing = "4"
	}
	if c.Preset == "" {
		c.Preset = "automotivo"
	}
}

// Validate checks the configuration against its constraints.
func (c *Config) Validate() error {
	return validate.Struct(c)
}

// ResultFile is one harvested artifact reference.
type ResultFile struct {
	Filename    string `json:"filename"`
	StoragePath string `json:"storage_path,omitempty"`
	DownloadURL string `json:"download_url,omitempty"`
	Type        string `json:"type"`
	Format      string `json:"format"`
	Size        int64  `json:"size,omitempty"`
	Resolution  string `json:"resolution,omitempty"`
}

// Job is one requested transformation run, tracked end to end.
type Job struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Status         Status       `json:"status"`
	Progress       int          `json:"progress"`
	ExternalID     string       `json:"external_id,omitempty"`
	InputFileID    string       `json:"input_file_id"`
	InputFileName  string       `json:"input_file_name"`
	InputFileURL   string       `json:"input_file_url,omitempty"`
	Config         Config       `json:"configuration"`
	CreatedAt      time.Time    `json:"created_at"`
	StartedAt      *time.Time   `json:"started_at,omitempty"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	ProcessingTime float64      `json:"processing_time,omitempty"` // seconds
	ErrorMessage   string       `json:"error_message,omitempty"`
	ResultFiles    []ResultFile `json:"result_files"`
}

// New creates a pending job for the given input file.
func New(name, inputFileID, inputFileName, inputFileURL string, cfg Config) *Job {
	cfg.ApplyDefaults()
	return &Job{
		ID:            uuid.New().String(),
		Name:          name,
		Status:        StatusPending,
		Progress:      0,
		InputFileID:   inputFileID,
		InputFileName: inputFileName,
		InputFileURL:  inputFileURL,
		Config:        cfg,
		CreatedAt:     time.Now().UTC(),
		ResultFiles:   []ResultFile{},
	}
}

// Terminal reports whether the job reached a final state.
func (j *Job) Terminal() bool {
	return j.Status.Terminal()
}
