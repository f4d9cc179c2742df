// Package storage places packaged files at their copy destination: a local
// directory or an S3-compatible bucket.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound is returned when a key does not exist at the destination
var ErrObjectNotFound = errors.New("object not found")

// Object represents a placed file
type Object struct {
	Key          string    `json:"key" yaml:"key"`
	Size         int64     `json:"size" yaml:"size"`
	ContentType  string    `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	LastModified time.Time `json:"last_modified" yaml:"last_modified"`
	ETag         string    `json:"etag,omitempty" yaml:"etag,omitempty"`
}

// UploadOptions contains options for uploading files
type UploadOptions struct {
	ContentType     string
	CacheControl    string
	ContentEncoding string
}

// Destination is where packaged files end up. Keys are forward-slash paths
// relative to the destination root.
type Destination interface {
	// Upload writes data under key, replacing any existing object
	Upload(ctx context.Context, key string, data io.Reader, size int64, opts *UploadOptions) (*Object, error)

	// Delete removes key
	Delete(ctx context.Context, key string) error

	// Exists checks if key exists
	Exists(ctx context.Context, key string) (bool, error)

	// Name returns the provider name
	Name() string

	// String describes the destination location
	String() string
}
