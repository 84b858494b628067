package calibration

// PointSource gives read access to the tracked points of a project.
type PointSource interface {
	// Points returns a track's points ordered by increasing frame index.
	Points(id TrackID) ([]Point, error)
	// TrackIDs lists every track in the project.
	TrackIDs() ([]TrackID, error)
}

// MutationKind classifies a change to a track's point set.
type MutationKind string

const (
	MutationAdd          MutationKind = "add"
	MutationUpdate       MutationKind = "update"
	MutationDelete       MutationKind = "delete"
	MutationTrackDeleted MutationKind = "track_deleted"
)

// Mutation is a notification that a track's points changed.
type Mutation struct {
	TrackID    TrackID
	Kind       MutationKind
	FrameIndex int
}

// MutationSource delivers point mutations to subscribers synchronously.
type MutationSource interface {
	Subscribe(fn func(Mutation)) (unsubscribe func())
}

// ScaleSetter overwrites the project's single active pixel-to-metre scale.
type ScaleSetter interface {
	SetProjectScale(metersPerPixel float64, source string) error
}

// GravitySource supplies the project's default gravitational acceleration.
type GravitySource interface {
	GravityDefault() (float64, error)
}

// FitRecorder receives every fit attempt. res is nil when the fit
// produced no coefficients.
type FitRecorder interface {
	RecordFit(id TrackID, res *FitResult, fitErr error) error
}
