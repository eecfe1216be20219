// Package detect adapts an external person detector and a multi-object
// tracker to the counting pipeline.
//
// Responsibilities: per-frame detection through a remote inference service,
// identity assignment via IoU cost and Hungarian assignment, and the track
// lifecycle (tentative, confirmed, deleted).
// Key types: Detection, Track, Detector, Tracker, HTTPDetector, IOUTracker.
package detect
