// Package speed is the speed-estimation and violation-debounce engine.
//
// For every accepted detection the Estimator turns the displacement since the
// track's previous observation into a raw speed and an exponentially smoothed
// speed. The Debouncer compares smoothed speeds against the frame's limit and
// emits at most one violation per track per debounce interval, guarded by a
// per-second dedupe key so a retried frame is not built twice.
//
// The engine assumes a single active processor per camera. It takes no locks
// of its own and relies on the state store's per-key get/set.
package speed
