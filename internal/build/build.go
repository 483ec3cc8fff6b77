// Package build contains build information that is linked into the binary
// at release time.
package build

const ProjectName = "credmesh"

// These values are dynamically set at build time via ldflags.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// MinimumSupportedDatastoreSchemaRevision is the minimum schema version this
// release can run against. The server refuses to start against older schemas
// until `credmesh migrate` has been run.
const MinimumSupportedDatastoreSchemaRevision int64 = 1
