// Package trajectory keeps a bounded, ordered centroid history per track.
//
// Responsibilities: append centroid samples per track id, evict the oldest
// sample once a track reaches capacity, and optionally expire tracks that
// have not been seen for a configured number of frames.
// Key types: Store, History.
//
// Dependency rule: no imports from pipeline, store or monitor.
package trajectory
