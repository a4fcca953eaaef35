package types

import "errors"

// Error taxonomy. Every surfaced error carries a concrete next action via
// Remediation rather than a bare internal trace.
var (
	// ErrConfigurationMissing means the project has never been initialized.
	ErrConfigurationMissing = errors.New("project not initialized")

	// ErrProviderAuth means the embedding or rerank provider rejected the
	// configured credential or model.
	ErrProviderAuth = errors.New("provider authentication failed")

	// ErrProviderUnavailable covers network failures and rate limiting.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrIndexNotReady means a search index exists but is still building.
	// Queries fall back to degraded merging rather than failing.
	ErrIndexNotReady = errors.New("search index not ready")

	// ErrDimensionMismatch means the provider returned a different number of
	// vectors than requested, or vectors of the wrong dimensionality.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrFusionUnsupported means a store backend cannot serve one of the
	// fused-mode pipelines. Same fallback path as ErrIndexNotReady.
	ErrFusionUnsupported = errors.New("fusion unsupported by store backend")

	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
)

// Remediation returns the actionable next step for a taxonomy error, or an
// empty string for errors outside the taxonomy.
func Remediation(err error) string {
	switch {
	case errors.Is(err, ErrConfigurationMissing):
		return "Run the index_project tool against the project root to initialize it."
	case errors.Is(err, ErrProviderAuth):
		return "Check that the provider API key environment variable is set to a valid credential and the model name is correct."
	case errors.Is(err, ErrProviderUnavailable):
		return "The provider is rate limiting or unreachable. Retry shortly or switch providers via CODEMEM_EMBEDDING_PROVIDER."
	case errors.Is(err, ErrIndexNotReady):
		return "The search index is still building. Results use degraded ranking until it completes; retry later for fused ranking."
	case errors.Is(err, ErrDimensionMismatch):
		return "The provider returned a malformed batch. Affected items were excluded; re-run index_project to retry them."
	case errors.Is(err, ErrFusionUnsupported):
		return "The store backend cannot serve every fused pipeline. Results use pipeline-precedence merging until it can."
	case errors.Is(err, ErrNotFound):
		return "The requested record does not exist. List available names with get_status, or create it with upsert_memory."
	}
	return ""
}
