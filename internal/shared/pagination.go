package shared

// ClampLimit bounds a requested page size. Zero or negative falls back to def.
func ClampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
