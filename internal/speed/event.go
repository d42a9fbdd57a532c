package speed

import (
	"github.com/google/uuid"

	"github.com/banshee-data/speedwatch/internal/frame"
	"github.com/banshee-data/speedwatch/internal/timeutil"
)

// Fixed fields of every violation event.
const (
	EventType       = "speed_violation"
	EventSeverity   = "high"
	EventVersion    = "1.0.0"
	EventTTLSeconds = 604800
	DefaultModelID  = "AGV-VA-SPED"
)

// Payload is the violation body.
type Payload struct {
	TrackingID          string                 `json:"tracking_id"`
	ClassName           *string                `json:"class_name"`
	SpeedKMPH           float64                `json:"speed_kmph"`
	SpeedLimitKMPH      float64                `json:"speed_limit_kmph"`
	OverSpeedPercentage float64                `json:"over_speed_percentage"`
	BBox                frame.BBox             `json:"bbox"`
	EvidenceImg         *string                `json:"evidence_img"`
	Attributes          map[string]interface{} `json:"attributes"`
}

// Event is an immutable overspeeding violation.
type Event struct {
	LogicEventID  string  `json:"logic_event_id"`
	SourceEventID *string `json:"source_event_id"`
	Type          string  `json:"type"`
	ModelID       string  `json:"model_id"`
	CameraID      string  `json:"camera_id"`
	TsMs          int64   `json:"ts_ms"`
	Payload       Payload `json:"payload"`
	Severity      string  `json:"severity"`
	DedupeKey     string  `json:"dedupe_key"`
	Version       string  `json:"version"`
	TTLSec        int     `json:"ttl_sec"`
}

// EventBuilder assembles violation events.
type EventBuilder struct {
	ModelID string
	Clock   timeutil.Clock
	NewID   func() string
}

// NewEventBuilder returns a builder stamping events with modelID, the
// clock's time and random UUIDs.
func NewEventBuilder(modelID string, clock timeutil.Clock) *EventBuilder {
	if modelID == "" {
		modelID = DefaultModelID
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &EventBuilder{ModelID: modelID, Clock: clock, NewID: uuid.NewString}
}

// Build returns the event for a violation.
func (b *EventBuilder) Build(cameraID string, sourceEventID *string, p Payload, dedupeKey string) Event {
	return Event{
		LogicEventID:  b.NewID(),
		SourceEventID: sourceEventID,
		Type:          EventType,
		ModelID:       b.ModelID,
		CameraID:      cameraID,
		TsMs:          timeutil.UnixMs(b.Clock),
		Payload:       p,
		Severity:      EventSeverity,
		DedupeKey:     dedupeKey,
		Version:       EventVersion,
		TTLSec:        EventTTLSeconds,
	}
}
