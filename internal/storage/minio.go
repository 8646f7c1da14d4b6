package storage

import (
	"fmt"

	aws3 "github.com/aws/aws-sdk-go/service/s3"
	"github.com/casdoor/oss/s3"

	"github.com/envlight/hdrid/internal/config"
)

// NewMinio creates new minio client
func NewMinio(c *config.Storage) (Interface, error) {
	if c.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required for Minio")
	}
	if c.ID == "" || c.Secret == "" {
		return nil, fmt.Errorf("access ID and secret are required for Minio")
	}
	if c.Bucket == "" {
		return nil, fmt.Errorf("bucket is required for Minio")
	}

	region := c.Region
	if region == "" {
		region = "us-east-1"
	}

	client := s3.New(&s3.Config{
		AccessID:         c.ID,
		AccessKey:        c.Secret,
		Region:           region,
		Bucket:           c.Bucket,
		Endpoint:         c.Endpoint,
		S3Endpoint:       c.Endpoint,
		ACL:              aws3.BucketCannedACLPublicRead,
		S3ForcePathStyle: true,
	})

	return NewOSSAdapter(client), nil
}

// NewS3 creates new aws s3 client
func NewS3(c *config.Storage) Interface {
	client := s3.New(&s3.Config{
		AccessID:   c.ID,
		AccessKey:  c.Secret,
		Region:     c.Region,
		Bucket:     c.Bucket,
		Endpoint:   c.Endpoint,
		S3Endpoint: c.Endpoint,
		ACL:        aws3.BucketCannedACLPublicRead,
	})
	return NewOSSAdapter(client)
}
