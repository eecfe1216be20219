// Package pipeline provides the per-frame counting pipeline and the session
// runners that drive it.
//
// This package is the composition root: it wires the detector and tracker
// adapters (detect) to the session state (trajectory, crossing, heatmap,
// stats), draws overlays (render) and hands crossings to an EventSink for
// persistence. None of those packages import pipeline/.
//
// Every frame moves through Skip → Detect → Associate → UpdateState →
// Render → Emit. Only the goroutine calling ProcessFrame mutates session
// state; Snapshot and Reset are safe to call from HTTP handlers.
package pipeline
