package attestation

import "context"

// Resolver port (maps an opaque dataset reference to a directory inside the sandbox)
type Resolver interface {
	Resolve(ref string) string
	Exists(path string) bool
}

// SnapshotCache port (isolated read-only copy per execution)
type SnapshotCache interface {
	Snapshot(source string, id ExecutionID) (string, error)
}

// Scanner port (compliance findings over a snapshot)
type Scanner interface {
	Scan(ctx context.Context, root string) ([]ComplianceFinding, error)
}

// ContentAddresser port (walrus://0x<hash> handle for a snapshot)
type ContentAddresser interface {
	Derive(root string, id ExecutionID) (string, error)
}

// Signer port (enclave key)
type Signer interface {
	PublicKeyHex() string
	Sign(v any) (string, error)
}

// Repository port (audit trail of assembled envelopes)
type Repository interface {
	Save(ctx context.Context, r *Record) error
	Get(ctx context.Context, id ExecutionID) (*Record, error)
	Latest(ctx context.Context, datasetID string, limit int) ([]*Record, error)
}

// ArtifactStore port (archive of envelope + snapshot tarball)
type ArtifactStore interface {
	Archive(ctx context.Context, resp *AnalyzeDatasetResponse, id ExecutionID, snapshotPath string) (string, error)
}
