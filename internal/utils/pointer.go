package utils

// Ptr returns a pointer to a copy of v, for the optional fields of
// ai.GenerationOptions and the provider wire types.
func Ptr[T any](v T) *T {
	return &v
}
