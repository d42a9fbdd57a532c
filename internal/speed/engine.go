package speed

import (
	"context"
	"errors"
	"time"

	"github.com/banshee-data/speedwatch/internal/calibration"
	"github.com/banshee-data/speedwatch/internal/frame"
	"github.com/banshee-data/speedwatch/internal/state"
	"github.com/banshee-data/speedwatch/internal/timeutil"
)

// ErrTransport wraps failures of the state store.
var ErrTransport = errors.New("state store unavailable")

// Outcome classifies the result of processing one frame.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeInvalid
	OutcomeTransport
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeInvalid:
		return "invalid"
	case OutcomeTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// Classify maps an engine error to its Outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, frame.ErrInvalid):
		return OutcomeInvalid
	default:
		return OutcomeTransport
	}
}

// Result is the outcome of ProcessFrame.
type Result struct {
	Outcome    Outcome
	Samples    []Sample
	Violations []Event
	Err        error
}

// Options configures an Engine. Zero values select defaults.
type Options struct {
	Clock            timeutil.Clock
	ModelID          string
	DebounceInterval time.Duration
	DedupTTL         time.Duration
}

// Engine runs the estimator and debouncer over whole frames.
type Engine struct {
	store        state.Store
	calibrations calibration.Source
	opts         Options

	estimator *Estimator
	debouncer *Debouncer
}

// NewEngine returns an Engine over store. cal may be nil, in which case only
// the calibration carried by each frame is used.
func NewEngine(store state.Store, cal calibration.Source, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	builder := NewEventBuilder(opts.ModelID, opts.Clock)
	return &Engine{
		store:        store,
		calibrations: cal,
		opts:         opts,
		estimator:    NewEstimator(store),
		debouncer:    NewDebouncer(store, builder, opts.Clock, opts.DebounceInterval, opts.DedupTTL),
	}
}

// WithStore returns an Engine sharing e's configuration but keeping state in
// store.
func (e *Engine) WithStore(store state.Store) *Engine {
	return NewEngine(store, e.calibrations, e.opts)
}

// Store returns the engine's state store.
func (e *Engine) Store() state.Store {
	return e.store
}

// ComputeSpeeds validates f and returns one sample per accepted detection,
// in input order.
func (e *Engine) ComputeSpeeds(ctx context.Context, f *frame.Frame) ([]Sample, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	cal, err := calibration.ForFrame(ctx, f, e.calibrations)
	if err != nil {
		return nil, transportError(err)
	}

	dt := f.DT()
	smoothing := f.GetSmoothing()
	samples := make([]Sample, 0, len(f.Detections))
	for _, d := range f.Detections {
		if !f.Accepts(d) {
			continue
		}
		s, err := e.estimator.Estimate(ctx, f.CameraID, d, cal, dt, smoothing)
		if err != nil {
			return nil, err
		}
		s.TsMs = f.TsMs
		samples = append(samples, s)
	}
	return samples, nil
}

// ComputeViolations computes the frame's samples and returns the violations
// they trigger.
func (e *Engine) ComputeViolations(ctx context.Context, f *frame.Frame) ([]Event, error) {
	samples, err := e.ComputeSpeeds(ctx, f)
	if err != nil {
		return nil, err
	}
	return e.debouncer.Evaluate(ctx, f, samples)
}

// ProcessFrame runs both stages over f.
func (e *Engine) ProcessFrame(ctx context.Context, f *frame.Frame) Result {
	samples, err := e.ComputeSpeeds(ctx, f)
	if err != nil {
		return Result{Outcome: Classify(err), Err: err}
	}
	events, err := e.debouncer.Evaluate(ctx, f, samples)
	if err != nil {
		return Result{Outcome: Classify(err), Samples: samples, Violations: events, Err: err}
	}
	return Result{Outcome: OutcomeOK, Samples: samples, Violations: events}
}

// ProcessRaw decodes a JSON frame and processes it.
func (e *Engine) ProcessRaw(ctx context.Context, raw []byte) Result {
	f, err := frame.Decode(raw)
	if err != nil {
		return Result{Outcome: OutcomeInvalid, Err: err}
	}
	return e.ProcessFrame(ctx, f)
}
