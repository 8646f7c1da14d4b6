// Package harvest downloads finished conversion artifacts from the compute
// provider's result URLs and persists them into durable storage.
package harvest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/envlight/hdrid/internal/job"
	"github.com/envlight/hdrid/internal/logging/logger"
	"github.com/envlight/hdrid/internal/provider"
	"github.com/envlight/hdrid/internal/storage"
)

// downloadTimeout bounds one artifact fetch.
const downloadTimeout = 60 * time.Second

// Harvester collects result artifacts for completed jobs.
type Harvester struct {
	store      storage.Interface
	httpClient *http.Client
}

// New creates a harvester backed by the given storage.
func New(store storage.Interface) *Harvester {
	return &Harvester{
		store:      store,
		httpClient: &http.Client{Timeout: downloadTimeout},
	}
}

// Collect downloads every artifact referenced by the provider output and
// stores each under results/<jobID>/. Individual artifact failures are
// logged and skipped; Collect fails only when nothing could be stored at
// all for a non-empty output.
func (h *Harvester) Collect(ctx context.Context, jobID string, out *provider.Output) ([]job.ResultFile, error) {
	if out == nil {
		return []job.ResultFile{}, nil
	}

	files := make([]job.ResultFile, 0, len(out.ResultURLs)+1)
	for i, rawURL := range out.ResultURLs {
		rf, err := h.fetchOne(ctx, jobID, rawURL, i)
		if err != nil {
			logger.Warnf(ctx, "harvest artifact %s for job %s failed: %v", rawURL, jobID, err)
			continue
		}
		files = append(files, *rf)
	}

	if len(out.ResultURLs) > 0 && len(files) == 0 {
		return nil, fmt.Errorf("no artifacts could be harvested for job %s", jobID)
	}

	if len(out.Metadata) > 0 {
		if rf, err := h.storeMetadata(jobID, out.Metadata); err != nil {
			logger.Warnf(ctx, "store metadata for job %s failed: %v", jobID, err)
		} else {
			files = append(files, *rf)
		}
	}

	return files, nil
}

// fetchOne downloads a single artifact and stores it.
func (h *Harvester) fetchOne(ctx context.Context, jobID, rawURL string, index int) (*job.ResultFile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	res, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download returned status %d", res.StatusCode)
	}

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	filename := filenameFromURL(rawURL, index)
	storagePath := fmt.Sprintf("results/%s/%s", jobID, filename)

	obj, err := h.store.Put(storagePath, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("store artifact: %w", err)
	}

	downloadURL, err := h.store.GetURL(storagePath)
	if err != nil {
		downloadURL = storagePath
	}

	format := formatFromFilename(filename)
	if format == "bin" {
		if ct := formatFromContentType(res.Header.Get("Content-Type")); ct != "" {
			format = ct
		}
	}
	return &job.ResultFile{
		Filename:    filename,
		StoragePath: storagePath,
		DownloadURL: downloadURL,
		Type:        typeForFormat(format),
		Format:      format,
		Size:        obj.Size,
	}, nil
}

// storeMetadata writes the provider metadata as a sidecar artifact.
func (h *Harvester) storeMetadata(jobID string, meta map[string]any) (*job.ResultFile, error) {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	storagePath := fmt.Sprintf("results/%s/metadata.json", jobID)
	obj, err := h.store.Put(storagePath, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("store metadata: %w", err)
	}

	downloadURL, err := h.store.GetURL(storagePath)
	if err != nil {
		downloadURL = storagePath
	}

	rf := &job.ResultFile{
		Filename:    "metadata.json",
		StoragePath: storagePath,
		DownloadURL: downloadURL,
		Type:        job.FileTypeMetadata,
		Format:      "json",
		Size:        obj.Size,
	}
	if res, ok := meta["resolution"]; ok {
		rf.Resolution = resolutionString(res)
	}
	return rf, nil
}

// filenameFromURL extracts the last path element, falling back to a
// positional name when the URL carries none.
func filenameFromURL(rawURL string, index int) string {
	if u, err := url.Parse(rawURL); err == nil {
		if name := path.Base(u.Path); name != "" && name != "." && name != "/" {
			return name
		}
	}
	return fmt.Sprintf("result_%d", index)
}

func formatFromFilename(filename string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(filename)), ".")
	switch ext {
	case "hdr", "exr", "jpg", "jpeg", "png", "json":
		return ext
	case "":
		return "bin"
	}
	return ext
}

// formatFromContentType maps a response content type onto an artifact
// format. Consulted only when the URL carries no usable extension.
func formatFromContentType(ct string) string {
	ct = strings.ToLower(ct)
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch {
	case strings.Contains(ct, "radiance"):
		return "hdr"
	case strings.Contains(ct, "exr"):
		return "exr"
	case strings.Contains(ct, "jpeg") || strings.Contains(ct, "jpg"):
		return "jpg"
	case strings.Contains(ct, "png"):
		return "png"
	case strings.Contains(ct, "json"):
		return "json"
	}
	return ""
}

func typeForFormat(format string) string {
	switch format {
	case "hdr", "exr":
		return job.FileTypeHDRI
	case "jpg", "jpeg", "png":
		return job.FileTypePreview
	case "json":
		return job.FileTypeMetadata
	}
	return job.FileTypeResult
}

func resolutionString(v any) string {
	switch r := v.(type) {
	case string:
		return r
	case float64:
		return strconv.Itoa(int(r))
	case int:
		return strconv.Itoa(r)
	}
	return ""
}
