package util

// Ptr returns a pointer to the given value.
func Ptr[T any](v T) *T {
	return &v
}

// NonZeroPtr returns a pointer to v, or nil when v is the zero value.
// Config values use zero for "not set"; a nil pointer lets the provider default apply.
func NonZeroPtr[T comparable](v T) *T {
	var zero T
	if v == zero {
		return nil
	}
	return &v
}
