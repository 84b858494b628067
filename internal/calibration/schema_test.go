package calibration

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRestore(t *testing.T) {
	store, src, _ := newTestStore(t)
	src.setTrack(1, exactPoints())
	src.setTrack(2, parabola(10, 0.1, 300, 0, 0))
	src.setTrack(3, parabola(10, 0.1, -40, 0, 0))

	_, err := store.RunFit(1)
	require.NoError(t, err)
	_, err = store.FitTrack(2, FitSettings{TimeMin: 0.1, TimeMax: 0.8, G: 9.81, ExcludedFrames: ExcludeFrames(5, 3)})
	require.NoError(t, err)
	_, err = store.RunFit(3)
	require.ErrorIs(t, err, ErrInvalidSign)
	require.NoError(t, store.ToggleUse(1, true))
	require.NoError(t, store.ToggleUse(2, true))
	store.RecomputeGlobal()

	data, err := EncodeDocument(store.Snapshot())
	require.NoError(t, err)
	doc, err := DecodeDocument(data)
	require.NoError(t, err)

	restored := NewAnalysisStore(StoreConfig{Points: src, Gravity: fixedGravity(9.8)})
	warnings, err := restored.Restore(doc)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	if diff := cmp.Diff(store.Tracks(), restored.Tracks()); diff != "" {
		t.Errorf("tracks mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(store.Global(), restored.Global()); diff != "" {
		t.Errorf("global mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshot_AutoRangeIsNull(t *testing.T) {
	store, src, _ := newTestStore(t)
	src.setTrack(1, exactPoints())
	_, err := store.State(1)
	require.NoError(t, err)

	data, err := EncodeDocument(store.Snapshot())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"time_min": null`)
	assert.Contains(t, string(data), `"excluded_frames": []`)
}

func TestRestore_RepairsDocument(t *testing.T) {
	src := newMemPoints()
	src.setTrack(1, exactPoints())
	src.setTrack(2, exactPoints())
	src.setTrack(3, exactPoints())

	doc := AnalysisDocument{
		TrackAnalysis: map[TrackID]TrackAnalysisDoc{
			1: {
				Settings: FitSettingsDoc{TimeMin: ptrFloat64(-5), TimeMax: ptrFloat64(2), G: 0},
			},
			2: {
				Settings:     FitSettingsDoc{TimeMin: ptrFloat64(10), TimeMax: ptrFloat64(20), G: 9.8},
				Result:       &FitResultDoc{A: -1, RSquared: 0.5},
				UseForGlobal: true,
			},
			3: {
				Settings: FitSettingsDoc{TimeMin: ptrFloat64(1), G: 9.8},
			},
			42: {Settings: FitSettingsDoc{G: 9.8}},
		},
		GlobalScale: GlobalScaleDoc{CountUsed: 2},
	}

	store := NewAnalysisStore(StoreConfig{Points: src, Gravity: fixedGravity(9.8)})
	warnings, err := store.Restore(doc)
	require.NoError(t, err)
	assert.Len(t, warnings, 6)

	st1, _ := store.State(1)
	assert.False(t, st1.Settings.AutoRange)
	assert.Equal(t, 0.0, st1.Settings.TimeMin) // clamped to data
	assert.Equal(t, 2.0, st1.Settings.TimeMax)
	assert.Equal(t, 9.8, st1.Settings.G)

	st2, _ := store.State(2)
	assert.True(t, st2.Settings.AutoRange)
	assert.False(t, st2.UseForGlobal)
	assert.Equal(t, StatusInvalid, st2.Status())

	st3, _ := store.State(3)
	assert.True(t, st3.Settings.AutoRange)

	g := store.Global()
	assert.True(t, g.Stale)
	assert.Equal(t, 0, g.CountUsed)

	_, present := store.Snapshot().TrackAnalysis[42]
	assert.False(t, present)
}

func TestDecodeDocument_Empty(t *testing.T) {
	doc, err := DecodeDocument(nil)
	require.NoError(t, err)
	assert.Empty(t, doc.TrackAnalysis)

	_, err = DecodeDocument([]byte("{not json"))
	assert.Error(t, err)
}

func TestRestore_DroppedSelectedTrackStalesGlobal(t *testing.T) {
	store, src, _ := newTestStore(t)
	src.setTrack(1, exactPoints())
	src.setTrack(2, parabola(10, 0.1, 300, 0, 0))
	for _, id := range []TrackID{1, 2} {
		_, err := store.RunFit(id)
		require.NoError(t, err)
		require.NoError(t, store.ToggleUse(id, true))
	}
	store.RecomputeGlobal()
	doc := store.Snapshot()
	require.False(t, doc.GlobalScale.Stale)

	remaining := newMemPoints()
	remaining.setTrack(1, exactPoints())
	setter := &mockScaleSetter{}
	restored := NewAnalysisStore(StoreConfig{Points: remaining, Scale: setter, Gravity: fixedGravity(9.8)})
	warnings, err := restored.Restore(doc)
	require.NoError(t, err)
	assert.Contains(t, warnings, "track 2: no longer exists, analysis discarded")

	g := restored.Global()
	assert.True(t, g.Stale)
	assert.ErrorIs(t, restored.ApplyGlobalScale(), ErrPrecondition)
	setter.AssertNotCalled(t, "SetProjectScale")
}

func TestRestore_OrphanedGlobalIsStale(t *testing.T) {
	src := newMemPoints()
	src.setTrack(1, exactPoints())

	doc := AnalysisDocument{
		TrackAnalysis: map[TrackID]TrackAnalysisDoc{},
		GlobalScale:   GlobalScaleDoc{Mean: ptrFloat64(0.5), StdDev: ptrFloat64(0.01), CountUsed: 2},
	}
	store := NewAnalysisStore(StoreConfig{Points: src, Gravity: fixedGravity(9.8)})
	warnings, err := store.Restore(doc)
	require.NoError(t, err)
	assert.Equal(t, []string{"global scale covers 2 tracks but 0 are selected, marked stale"}, warnings)
	assert.True(t, store.Global().Stale)
}
