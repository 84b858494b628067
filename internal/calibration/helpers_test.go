package calibration

import (
	"fmt"
	"sort"
	"sync"

	"github.com/stretchr/testify/mock"
)

// memPoints is an in-memory PointSource and MutationSource.
type memPoints struct {
	mu     sync.Mutex
	tracks map[TrackID][]Point
	subs   map[int]func(Mutation)
	nextID int
}

func newMemPoints() *memPoints {
	return &memPoints{tracks: make(map[TrackID][]Point), subs: make(map[int]func(Mutation))}
}

func (m *memPoints) Points(id TrackID) ([]Point, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pts, ok := m.tracks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTrack, id)
	}
	return append([]Point(nil), pts...), nil
}

func (m *memPoints) TrackIDs() ([]TrackID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]TrackID, 0, len(m.tracks))
	for id := range m.tracks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *memPoints) Subscribe(fn func(Mutation)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *memPoints) emit(mu Mutation) {
	m.mu.Lock()
	subs := make([]func(Mutation), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()
	for _, fn := range subs {
		fn(mu)
	}
}

func (m *memPoints) setTrack(id TrackID, pts []Point) {
	m.mu.Lock()
	m.tracks[id] = pts
	m.mu.Unlock()
}

func (m *memPoints) addPoint(id TrackID, p Point) {
	m.mu.Lock()
	m.tracks[id] = append(m.tracks[id], p)
	m.mu.Unlock()
	m.emit(Mutation{TrackID: id, Kind: MutationAdd, FrameIndex: p.FrameIndex})
}

func (m *memPoints) deleteTrack(id TrackID) {
	m.mu.Lock()
	delete(m.tracks, id)
	m.mu.Unlock()
	m.emit(Mutation{TrackID: id, Kind: MutationTrackDeleted})
}

// mockScaleSetter records SetProjectScale calls.
type mockScaleSetter struct {
	mock.Mock
}

func (m *mockScaleSetter) SetProjectScale(metersPerPixel float64, source string) error {
	args := m.Called(metersPerPixel, source)
	return args.Error(0)
}

type fixedGravity float64

func (g fixedGravity) GravityDefault() (float64, error) { return float64(g), nil }

type recordedFit struct {
	id  TrackID
	res *FitResult
	err error
}

type sliceRecorder struct {
	fits []recordedFit
}

func (r *sliceRecorder) RecordFit(id TrackID, res *FitResult, fitErr error) error {
	r.fits = append(r.fits, recordedFit{id: id, res: res, err: fitErr})
	return nil
}

// parabola samples y = a·t² + b·t + c at t = 0, dt, 2dt, ...
func parabola(n int, dt, a, b, c float64) []Point {
	pts := make([]Point, n)
	for i := range pts {
		t := float64(i) * dt
		pts[i] = Point{FrameIndex: i, TimeSeconds: t, XPixel: 100, YPixelTopLeft: a*t*t + b*t + c}
	}
	return pts
}
