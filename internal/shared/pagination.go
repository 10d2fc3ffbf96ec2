package shared

// Page limits applied when callers omit or exceed a page size.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// ClampLimit normalises a requested page size against the configured bounds.
func ClampLimit(limit, def, max int) int {
	if def <= 0 {
		def = DefaultPageLimit
	}
	if max <= 0 {
		max = MaxPageLimit
	}
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
