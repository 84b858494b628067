package calibration

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*AnalysisStore, *memPoints, *mockScaleSetter) {
	t.Helper()
	src := newMemPoints()
	setter := &mockScaleSetter{}
	store := NewAnalysisStore(StoreConfig{
		Points:  src,
		Scale:   setter,
		Gravity: fixedGravity(9.8),
	})
	return store, src, setter
}

func TestAnalysisStore_StateDefaults(t *testing.T) {
	store, src, _ := newTestStore(t)
	src.setTrack(1, exactPoints())

	st, err := store.State(1)
	require.NoError(t, err)
	assert.Equal(t, StatusUnfitted, st.Status())
	assert.True(t, st.Settings.AutoRange)
	assert.Equal(t, 0.0, st.Settings.TimeMin)
	assert.Equal(t, 3.0, st.Settings.TimeMax)
	assert.Equal(t, 9.8, st.Settings.G)
	assert.Empty(t, st.Settings.ExcludedFrames)
	assert.False(t, st.UseForGlobal)

	_, err = store.State(99)
	assert.ErrorIs(t, err, ErrUnknownTrack)
}

func TestAnalysisStore_RunFit(t *testing.T) {
	store, src, _ := newTestStore(t)
	src.setTrack(1, exactPoints())

	res, err := store.RunFit(1)
	require.NoError(t, err)
	assert.InDelta(t, 0.98, *res.DerivedScale, 1e-9)

	st, err := store.State(1)
	require.NoError(t, err)
	assert.Equal(t, StatusFitted, st.Status())
	assert.True(t, st.Valid)
	require.NotNil(t, st.Result)
	assert.InDelta(t, 5.0, st.Result.A, 1e-9)
}

func TestAnalysisStore_RunFitFailureTransitions(t *testing.T) {
	store, src, _ := newTestStore(t)
	src.setTrack(1, exactPoints()[:2])
	src.setTrack(2, parabola(10, 0.1, -100, 0, 300))

	_, err := store.RunFit(1)
	assert.ErrorIs(t, err, ErrInsufficientPoints)
	st, _ := store.State(1)
	assert.Equal(t, StatusInvalid, st.Status())
	assert.Nil(t, st.Result)
	assert.NotEmpty(t, st.LastError)

	_, err = store.RunFit(2)
	assert.ErrorIs(t, err, ErrInvalidSign)
	st, _ = store.State(2)
	assert.Equal(t, StatusInvalid, st.Status())
	require.NotNil(t, st.Result)
	assert.False(t, st.Result.HasScale())
}

func TestAnalysisStore_ToggleUseRequiresValidFit(t *testing.T) {
	store, src, _ := newTestStore(t)
	src.setTrack(1, exactPoints())
	src.setTrack(2, exactPoints()[:2])

	err := store.ToggleUse(1, true)
	assert.ErrorIs(t, err, ErrNotValid)

	_, _ = store.RunFit(2)
	err = store.ToggleUse(2, true)
	assert.ErrorIs(t, err, ErrNotValid)
	st, _ := store.State(2)
	assert.False(t, st.UseForGlobal)

	_, err = store.RunFit(1)
	require.NoError(t, err)
	require.NoError(t, store.ToggleUse(1, true))
	assert.True(t, store.Global().Stale)

	// Disabling is always allowed.
	require.NoError(t, store.ToggleUse(2, false))
}

func TestAnalysisStore_SettingsChangeDropsUse(t *testing.T) {
	store, src, _ := newTestStore(t)
	pts := parabola(10, 0.1, 400, 0, 0)
	src.setTrack(1, pts)

	_, err := store.RunFit(1)
	require.NoError(t, err)
	require.NoError(t, store.ToggleUse(1, true))
	store.RecomputeGlobal()
	require.False(t, store.Global().Stale)

	s := DefaultSettings(pts, 9.8)
	s.ExcludedFrames = ExcludeFrames(4)
	require.NoError(t, store.SetSettings(1, s))

	st, _ := store.State(1)
	assert.Equal(t, StatusUnfitted, st.Status())
	assert.False(t, st.UseForGlobal)
	assert.True(t, st.Settings.IsExcluded(4))
	assert.True(t, store.Global().Stale)
}

func TestAnalysisStore_SetSettingsValidation(t *testing.T) {
	store, src, _ := newTestStore(t)
	src.setTrack(1, exactPoints())

	err := store.SetSettings(1, FitSettings{AutoRange: true, G: -1})
	assert.ErrorIs(t, err, ErrInvalidSettings)
	err = store.SetSettings(1, FitSettings{TimeMin: 2, TimeMax: 1, G: 9.8})
	assert.ErrorIs(t, err, ErrInvalidSettings)
}

func TestAnalysisStore_ResetSettings(t *testing.T) {
	store, src, _ := newTestStore(t)
	pts := exactPoints()
	src.setTrack(1, pts)

	_, err := store.FitTrack(1, FitSettings{TimeMin: 0, TimeMax: 2, G: 3, ExcludedFrames: ExcludeFrames(1)})
	require.Error(t, err)

	require.NoError(t, store.ResetSettings(1))
	st, _ := store.State(1)
	if diff := cmp.Diff(DefaultSettings(pts, 9.8), st.Settings); diff != "" {
		t.Errorf("settings mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, StatusUnfitted, st.Status())
}

func TestAnalysisStore_RecomputeGlobal(t *testing.T) {
	store, src, _ := newTestStore(t)
	// A = g/(2s) yields a derived scale of s.
	src.setTrack(1, parabola(6, 0.5, 9.8/(2*0.90), 0, 0))
	src.setTrack(2, parabola(6, 0.5, 9.8/(2*1.10), 0, 0))
	src.setTrack(3, parabola(6, 0.5, 9.8/(2*5.0), 0, 0))

	for _, id := range []TrackID{1, 2, 3} {
		_, err := store.RunFit(id)
		require.NoError(t, err)
	}
	require.NoError(t, store.ToggleUse(1, true))
	require.NoError(t, store.ToggleUse(2, true))

	g := store.RecomputeGlobal()
	require.NotNil(t, g.Mean)
	require.NotNil(t, g.StdDev)
	assert.InDelta(t, 1.0, *g.Mean, 1e-9)
	assert.InDelta(t, 0.141421356, *g.StdDev, 1e-6)
	assert.Equal(t, 2, g.CountUsed)
	assert.False(t, g.Stale)
}

func TestAnalysisStore_ApplyGlobalScale(t *testing.T) {
	t.Run("stale is rejected", func(t *testing.T) {
		store, src, setter := newTestStore(t)
		src.setTrack(1, exactPoints())
		_, err := store.RunFit(1)
		require.NoError(t, err)
		require.NoError(t, store.ToggleUse(1, true))

		err = store.ApplyGlobalScale()
		var pe *PreconditionError
		require.True(t, errors.As(err, &pe))
		assert.ErrorIs(t, err, ErrPrecondition)
		setter.AssertNotCalled(t, "SetProjectScale", mock.Anything, mock.Anything)
	})

	t.Run("empty is rejected", func(t *testing.T) {
		store, _, setter := newTestStore(t)
		store.RecomputeGlobal()
		err := store.ApplyGlobalScale()
		assert.ErrorIs(t, err, ErrPrecondition)
		setter.AssertNotCalled(t, "SetProjectScale", mock.Anything, mock.Anything)
	})

	t.Run("fresh mean is written", func(t *testing.T) {
		store, src, setter := newTestStore(t)
		src.setTrack(1, exactPoints())
		_, err := store.RunFit(1)
		require.NoError(t, err)
		require.NoError(t, store.ToggleUse(1, true))
		store.RecomputeGlobal()

		setter.On("SetProjectScale", mock.MatchedBy(func(v float64) bool {
			return v > 0.98-1e-9 && v < 0.98+1e-9
		}), "Global mean of 1 track fits").Return(nil).Once()

		require.NoError(t, store.ApplyGlobalScale())
		setter.AssertExpectations(t)
	})

	t.Run("setter error surfaces", func(t *testing.T) {
		store, src, setter := newTestStore(t)
		src.setTrack(1, exactPoints())
		_, _ = store.RunFit(1)
		require.NoError(t, store.ToggleUse(1, true))
		store.RecomputeGlobal()
		setter.On("SetProjectScale", mock.Anything, mock.Anything).Return(errors.New("disk full"))

		err := store.ApplyGlobalScale()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "disk full")
	})
}

func TestAnalysisStore_ApplyTrackScale(t *testing.T) {
	store, src, setter := newTestStore(t)
	src.setTrack(1, exactPoints())
	src.setTrack(2, exactPoints())

	err := store.ApplyTrackScale(1)
	assert.ErrorIs(t, err, ErrNotValid)

	_, err = store.RunFit(1)
	require.NoError(t, err)
	_, err = store.RunFit(2)
	require.NoError(t, err)

	setter.On("SetProjectScale", mock.Anything, "Track 1 parabolic fit").Return(nil).Once()
	setter.On("SetProjectScale", mock.Anything, "Track 2 parabolic fit").Return(nil).Once()

	require.NoError(t, store.ApplyTrackScale(1))
	st1, _ := store.State(1)
	assert.True(t, st1.AppliedToProject)

	require.NoError(t, store.ApplyTrackScale(2))
	st1, _ = store.State(1)
	st2, _ := store.State(2)
	assert.False(t, st1.AppliedToProject)
	assert.True(t, st2.AppliedToProject)
	setter.AssertExpectations(t)
}

func TestAnalysisStore_FitAllUnfitted(t *testing.T) {
	store, src, _ := newTestStore(t)
	src.setTrack(1, exactPoints())
	src.setTrack(2, exactPoints()[:2])             // insufficient
	src.setTrack(3, parabola(8, 0.1, -50, 0, 100)) // wrong sign
	src.setTrack(4, parabola(8, 0.1, 300, 5, 10))
	src.setTrack(5, parabola(8, 0.1, 250, 0, 0))

	_, err := store.RunFit(5)
	require.NoError(t, err)
	require.NoError(t, store.ToggleUse(5, true))

	got, err := store.FitAllUnfitted()
	require.NoError(t, err)
	assert.Equal(t, 2, got.Succeeded)
	assert.Equal(t, 2, got.Failed)
	assert.Equal(t, 1, got.Skipped)
	assert.ErrorIs(t, got.Failures[2], ErrInsufficientPoints)
	assert.ErrorIs(t, got.Failures[3], ErrInvalidSign)

	// Already valid tracks keep their state.
	st5, _ := store.State(5)
	assert.True(t, st5.UseForGlobal)
	st4, _ := store.State(4)
	assert.Equal(t, StatusFitted, st4.Status())
}

func TestAnalysisStore_FitAllUnfittedAllFail(t *testing.T) {
	store, src, _ := newTestStore(t)
	src.setTrack(1, nil)
	src.setTrack(2, exactPoints()[:1])

	got, err := store.FitAllUnfitted()
	require.NoError(t, err)
	assert.Equal(t, 0, got.Succeeded)
	assert.Equal(t, 2, got.Failed)
}

func TestAnalysisStore_RefitInUseMarksStale(t *testing.T) {
	store, src, _ := newTestStore(t)
	src.setTrack(1, exactPoints())
	_, err := store.RunFit(1)
	require.NoError(t, err)
	require.NoError(t, store.ToggleUse(1, true))
	store.RecomputeGlobal()

	_, err = store.RunFit(1)
	require.NoError(t, err)
	st, _ := store.State(1)
	assert.True(t, st.UseForGlobal)
	assert.True(t, store.Global().Stale)
}

func TestAnalysisStore_RemoveTrackAndReset(t *testing.T) {
	store, src, _ := newTestStore(t)
	src.setTrack(1, exactPoints())
	_, err := store.RunFit(1)
	require.NoError(t, err)
	require.NoError(t, store.ToggleUse(1, true))
	store.RecomputeGlobal()

	store.RemoveTrack(1)
	assert.Empty(t, store.Tracks())
	assert.True(t, store.Global().Stale)

	store.RemoveTrack(42) // no-op
	store.Reset()
	g := store.Global()
	assert.False(t, g.Stale)
	assert.Nil(t, g.Mean)
}

func TestAnalysisStore_RecordsFits(t *testing.T) {
	src := newMemPoints()
	rec := &sliceRecorder{}
	store := NewAnalysisStore(StoreConfig{Points: src, Recorder: rec})
	src.setTrack(1, exactPoints())
	src.setTrack(2, exactPoints()[:2])

	_, _ = store.RunFit(1)
	_, _ = store.RunFit(2)

	require.Len(t, rec.fits, 2)
	assert.Equal(t, TrackID(1), rec.fits[0].id)
	assert.NoError(t, rec.fits[0].err)
	require.NotNil(t, rec.fits[0].res)
	assert.Equal(t, TrackID(2), rec.fits[1].id)
	assert.Nil(t, rec.fits[1].res)
	assert.ErrorIs(t, rec.fits[1].err, ErrInsufficientPoints)
}

func TestAnalysisStore_DefaultGravityFallback(t *testing.T) {
	src := newMemPoints()
	src.setTrack(1, exactPoints())
	store := NewAnalysisStore(StoreConfig{Points: src, Gravity: fixedGravity(-2)})
	st, err := store.State(1)
	require.NoError(t, err)
	assert.Equal(t, 9.80665, st.Settings.G)
}
