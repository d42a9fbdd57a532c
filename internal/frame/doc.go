// Package frame defines the ingress schema for per-frame tracking events and
// validates it at the boundary.
//
// A Frame that passes Validate is safe to hand to the speed engine: every
// detection has a tracking id and a bounding box, confidences and smoothing
// parameters are in range, and any homography is 3x3. Optional settings are
// pointer fields with accessor methods returning the defaults.
package frame
