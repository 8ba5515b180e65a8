package domain

import (
	"context"
)

// SourceHandler is the capability set one installer format implements.
// Exactly one concrete handler is selected per invocation by explicit
// configuration.
type SourceHandler interface {
	Kind() SourceKind

	// ResolveLatest queries the vendor distribution endpoint and
	// returns the latest version plus the resolved download URL.
	// Never retried internally; retry belongs to the caller's fetch
	// policy.
	ResolveLatest(ctx context.Context) (Version, string, error)

	// Fetch returns a digest-verified installer for version, reusing
	// the artifact cache when it already holds a valid entry.
	Fetch(ctx context.Context, version Version, url string) (Artifact, error)

	// Extract unpacks the installer into workDir under a bounded
	// timeout and returns the normalized tree.
	Extract(ctx context.Context, artifact Artifact, workDir string) (ExtractedTree, error)

	// DetectVersions reads the application and runtime versions from
	// manifests inside the tree.
	DetectVersions(ctx context.Context, tree ExtractedTree) (app Version, runtime Version, err error)
}

type Cache interface {
	Get(source SourceKind, version Version) (Artifact, bool)
	Store(source SourceKind, version Version, srcPath, expectedSHA256 string) (Artifact, error)
	Invalidate(source SourceKind, version Version) error
	Size() (int64, error)
	Clear() error
}

type Fetcher interface {
	// Download writes url to dest and returns the content digest.
	// When expectedSHA256 is non-empty a persistent mismatch after
	// retry exhaustion reports ErrIntegrity.
	Download(ctx context.Context, url, dest, expectedSHA256 string) (string, error)
}

type BindingBuilder interface {
	// Build compiles a native binding matching the runtime ABI and
	// returns the path of the emitted module file.
	Build(ctx context.Context, runtime Version) (string, error)
}

type StateStore interface {
	Record(rec BuildRecord) error
	LastBuilt(source SourceKind) (*BuildRecord, error)
	Close() error
}
