// Package signature defines the composite felt signature produced at the end
// of every converged turn and the typed vector it carries.
//
// # Typed Vector Boundary
//
// A Vector is a fixed-length []float64 of length Dimension. Every value that
// crosses a deserialization boundary (persisted family centroids, replayed
// signatures, records received as generic JSON) must pass through Coerce
// before any arithmetic is attempted. Coerce accepts the shapes a decoder is
// likely to hand back:
//
//   - Vector, []float64, []float32
//   - []any holding float64, float32, int, int64, json.Number or numeric strings
//
// and rejects wrong lengths and non-finite components with ErrInvalidSignature.
//
// Vector also implements json.Unmarshaler so typed records decode through the
// same validation.
//
// # Layout
//
// Offsets into the vector are exported (OffsetEnergy, OffsetZone, ...) so
// producers and diagnostics agree on the layout. The layout is versioned by
// SchemaVersion; a change to Dimension or offsets requires a version bump and
// invalidates persisted family centroids.
package signature
