package speed

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/speedwatch/internal/frame"
	"github.com/banshee-data/speedwatch/internal/monitoring"
	"github.com/banshee-data/speedwatch/internal/state"
	"github.com/banshee-data/speedwatch/internal/timeutil"
)

// DefaultDebounceInterval is the minimum gap between two violations of the
// same track.
const DefaultDebounceInterval = 10 * time.Second

// limitEpsilon keeps the overspeed percentage finite for a zero limit.
const limitEpsilon = 1e-6

const violationKind = "speed"

var logf = monitoring.Component("speed")

// OverspeedPercentage returns how far speed exceeds limit, in percent.
func OverspeedPercentage(speed, limit float64) float64 {
	return (speed - limit) / math.Max(limit, limitEpsilon) * 100.0
}

// DedupeKey identifies a violation of one track within one second.
func DedupeKey(cameraID, trackingID string, bucket int64) string {
	return fmt.Sprintf("%s:%s:%d:%s", cameraID, trackingID, bucket, violationKind)
}

// Debouncer decides which samples become violation events.
type Debouncer struct {
	store    state.Store
	builder  *EventBuilder
	clock    timeutil.Clock
	interval time.Duration
	dedupTTL time.Duration
}

// NewDebouncer returns a Debouncer. Zero durations select the defaults.
func NewDebouncer(store state.Store, builder *EventBuilder, clock timeutil.Clock, interval, dedupTTL time.Duration) *Debouncer {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if interval <= 0 {
		interval = DefaultDebounceInterval
	}
	if dedupTTL <= 0 {
		dedupTTL = state.DefaultDedupTTL
	}
	return &Debouncer{store: store, builder: builder, clock: clock, interval: interval, dedupTTL: dedupTTL}
}

// Evaluate returns the violations for the frame's samples, in sample order.
// A frame without a speed limit never yields violations. On a store failure
// the events already built are returned alongside the error: their dedupe
// guards are claimed, so a retry would not rebuild them.
func (d *Debouncer) Evaluate(ctx context.Context, f *frame.Frame, samples []Sample) ([]Event, error) {
	limit, ok := f.SpeedLimit()
	if !ok {
		return nil, nil
	}

	var events []Event
	for _, s := range samples {
		if s.SpeedKMPH == nil || *s.SpeedKMPH <= limit {
			continue
		}

		now := d.clock.Now()
		bucket := now.Unix()
		if f.TsMs != nil {
			bucket = *f.TsMs / 1000
		}
		key := DedupeKey(f.CameraID, s.TrackingID, bucket)

		last, seen, err := d.store.GetCooldown(ctx, f.CameraID, s.TrackingID)
		if err != nil {
			return events, transportError(err)
		}
		if seen && now.Unix()-last < int64(d.interval/time.Second) {
			continue
		}

		claimed, err := d.store.ClaimDedupe(ctx, key, d.dedupTTL)
		if err != nil {
			return events, transportError(err)
		}
		if !claimed {
			logf("duplicate violation %s suppressed", key)
			continue
		}

		ev := d.builder.Build(f.CameraID, f.EventID, Payload{
			TrackingID:          s.TrackingID,
			ClassName:           s.ClassName,
			SpeedKMPH:           *s.SpeedKMPH,
			SpeedLimitKMPH:      limit,
			OverSpeedPercentage: OverspeedPercentage(*s.SpeedKMPH, limit),
			BBox:                s.BBox,
			EvidenceImg:         f.ImgRef,
		}, key)

		events = append(events, ev)
		if err := d.store.SetCooldown(ctx, f.CameraID, s.TrackingID, now.Unix()); err != nil {
			return events, transportError(err)
		}
	}
	return events, nil
}
