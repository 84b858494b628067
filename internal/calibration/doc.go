// Package calibration owns track-based scale calibration.
//
// Responsibilities: per-track parabolic regression of vertical pixel
// position against time, derivation of a metres-per-pixel scale from
// gravitational acceleration, dependency invalidation when a track's
// points change, and aggregation of eligible per-track scales into a
// single project-wide scale.
// Key types: Point, FitSettings, FitResult, TrackAnalysisState,
// GlobalScaleState, AnalysisStore.
//
// Dependency rule: this package never performs file or database I/O.
// Track points, mutation notifications and the project scale are reached
// through the collaborator interfaces in collaborators.go; persistence is
// a pure mapping to and from AnalysisDocument.
package calibration
