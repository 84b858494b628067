package calibration

import "sync"

// InvalidationTracker discards cached fits when their track's points
// change. It never repairs a fit in place: the affected track returns to
// unfitted, and if it fed the global scale the aggregate becomes stale.
type InvalidationTracker struct {
	mu          sync.Mutex
	store       *AnalysisStore
	unsubscribe func()

	invalidated int // fits discarded since creation
}

// NewInvalidationTracker creates a tracker that invalidates state in store.
func NewInvalidationTracker(store *AnalysisStore) *InvalidationTracker {
	return &InvalidationTracker{store: store}
}

// Attach subscribes to src. Any previous subscription is dropped first.
func (t *InvalidationTracker) Attach(src MutationSource) {
	t.Detach()
	unsub := src.Subscribe(t.Handle)
	t.mu.Lock()
	t.unsubscribe = unsub
	t.mu.Unlock()
}

// Detach stops receiving mutations.
func (t *InvalidationTracker) Detach() {
	t.mu.Lock()
	unsub := t.unsubscribe
	t.unsubscribe = nil
	t.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Handle applies one mutation. Deleting a track removes its analysis
// state entirely; any other mutation clears the cached fit.
func (t *InvalidationTracker) Handle(m Mutation) {
	if m.Kind == MutationTrackDeleted {
		t.store.RemoveTrack(m.TrackID)
		return
	}

	cleared, wasUsed := t.store.invalidate(m.TrackID)
	if !cleared && !wasUsed {
		return
	}

	t.mu.Lock()
	t.invalidated++
	t.mu.Unlock()

	if wasUsed {
		invalidationLogf("track %d point %s at frame %d: fit discarded, global scale stale", m.TrackID, m.Kind, m.FrameIndex)
	} else {
		invalidationLogf("track %d point %s at frame %d: fit discarded", m.TrackID, m.Kind, m.FrameIndex)
	}
}

// Invalidated returns how many cached fits have been discarded.
func (t *InvalidationTracker) Invalidated() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.invalidated
}
