package storage

import (
	"context"
	"errors"
	"io"

	"github.com/any-hub/any-registry/internal/config"
)

var (
	// ErrNotFound 表示包或文件不存在（本地与上游均未命中）。
	ErrNotFound = errors.New("storage: not found")
	// ErrNotInitialized 表示在 Init 完成前调用了读写接口。
	ErrNotInitialized = errors.New("storage: not initialized")
	// ErrAlreadyInitialized 表示 Init 被调用了不止一次。
	ErrAlreadyInitialized = errors.New("storage: already initialized")
	// ErrUplinkUnavailable 表示上游不可达且本地没有可用副本。
	ErrUplinkUnavailable = errors.New("storage: uplink unavailable")
	// ErrInvalidName 表示包名或文件名包含非法路径片段。
	ErrInvalidName = errors.New("storage: invalid name")
)

// MetadataFilter transforms a manifest at read time. Implementations must not
// mutate shared state; storage hands each filter its own copy.
type MetadataFilter interface {
	FilterMetadata(ctx context.Context, manifest *Manifest) (*Manifest, error)
}

// Storage is the handle passed to the core API, the web UI and middleware plugins.
type Storage interface {
	// Init prepares the backend and records filters. It must be called exactly once.
	Init(ctx context.Context, cfg *config.Config, filters []MetadataFilter) error

	// GetPackage returns the filtered manifest, consulting the uplink on a miss.
	GetPackage(ctx context.Context, name string) (*Manifest, error)

	// ReadPackage returns the stored manifest as-is: no filters, no uplink.
	ReadPackage(ctx context.Context, name string) (*Manifest, error)

	// SavePackage stores a manifest published to this registry.
	SavePackage(ctx context.Context, name string, manifest *Manifest) error

	// GetTarball opens a tarball, downloading it from the uplink when missing.
	GetTarball(ctx context.Context, name, filename string) (*Tarball, error)

	// PutTarball writes a tarball atomically.
	PutTarball(ctx context.Context, name, filename string, body io.Reader) error

	// ListPackages returns the names of packages known locally, sorted.
	ListPackages(ctx context.Context) ([]string, error)

	// Search matches text against local package names and descriptions.
	Search(ctx context.Context, text string) ([]SearchResult, error)
}

// Tarball is an open tarball stream.
type Tarball struct {
	Reader    io.ReadSeekCloser
	SizeBytes int64
}

// SearchResult is one hit returned by Search.
type SearchResult struct {
	Name        string
	Version     string
	Description string
}
