// Package storage provides the durable object storage collaborator used
// for harvested result artifacts.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/envlight/hdrid/internal/config"
)

// Interface represents the common interface for storage
type Interface interface {
	Get(path string) (*os.File, error)
	GetStream(path string) (io.ReadCloser, error)
	Put(path string, reader io.Reader) (*Object, error)
	Delete(path string) error
	List(path string) ([]*Object, error)
	GetURL(path string) (string, error)
	GetEndpoint() string
}

// Object represents a storage object
type Object struct {
	Path             string
	Name             string
	LastModified     *time.Time
	Size             int64
	StorageInterface Interface
}

// Get retrieves object's content
func (object Object) Get() (*os.File, error) {
	return object.StorageInterface.Get(object.Path)
}

// Validate validates the storage configuration.
func Validate(c *config.Storage) error {
	if c == nil || c.Provider == "" {
		return errors.New("storage provider is required")
	}

	switch c.Provider {
	case "filesystem":
		if c.Bucket == "" {
			return errors.New("bucket (local path) is required for filesystem storage")
		}
	case "minio", "aws-s3":
		if c.ID == "" || c.Secret == "" || c.Bucket == "" {
			return errors.New("id, secret, and bucket are required for cloud storage")
		}
		if c.Provider == "minio" && c.Endpoint == "" {
			return errors.New("endpoint is required for minio storage")
		}
	default:
		return fmt.Errorf("unsupported storage provider: %s", c.Provider)
	}

	return nil
}

// NewStorage creates a new storage instance
func NewStorage(c *config.Storage) (Interface, error) {
	if err := Validate(c); err != nil {
		return nil, fmt.Errorf("invalid storage config: %w", err)
	}

	switch c.Provider {
	case "filesystem":
		return NewFileSystem(c.Bucket), nil
	case "minio":
		return NewMinio(c)
	case "aws-s3":
		return NewS3(c), nil
	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", c.Provider)
	}
}
