package engine

import "time"

// Options configures one Engine run. Mirrors the teacher's functional-options
// pattern (graph/options.go) rather than a config-file loader (out of scope
// per SPEC_FULL.md §1/§10).
type Options struct {
	// ExecutingTimeout is the deadline after which an EXECUTING stage is
	// reclassified as FAILURE (spec.md §4.4 step 2).
	ExecutingTimeout time.Duration
	// FailureTolerance is the aggregate stage-failure count at which this
	// engine aborts: the run fails once failures reach FailureTolerance, not
	// after exceeding it (spec.md §4.4 step 5, §7 ToleranceExceeded, §8
	// scenario 5: failure_tolerance=3 aborts on the 3rd failure).
	FailureTolerance int
	// PollInterval is the main-loop polling quantum (spec.md §4.4 step 4).
	PollInterval time.Duration
	// JoinTimeout is the hard outer ceiling on one engine run (spec.md §4.4
	// "Bounded join", default 3600s).
	JoinTimeout time.Duration
	// GetOutputs, when true, dumps keys with the namespace's final-outputs
	// prefix to OutputsDir before Store cleanup.
	GetOutputs bool
	// OutputsDir is where GetOutputs writes its dump.
	OutputsDir string
}

// Option mutates Options during construction.
type Option func(*Options)

// DefaultOptions returns the engine's baseline configuration.
func DefaultOptions() Options {
	return Options{
		ExecutingTimeout: 30 * time.Second,
		FailureTolerance: 5,
		PollInterval:     100 * time.Millisecond,
		JoinTimeout:      3600 * time.Second,
	}
}

func WithExecutingTimeout(d time.Duration) Option {
	return func(o *Options) { o.ExecutingTimeout = d }
}

func WithFailureTolerance(n int) Option {
	return func(o *Options) { o.FailureTolerance = n }
}

func WithPollInterval(d time.Duration) Option {
	return func(o *Options) { o.PollInterval = d }
}

func WithJoinTimeout(d time.Duration) Option {
	return func(o *Options) { o.JoinTimeout = d }
}

func WithOutputs(dir string) Option {
	return func(o *Options) {
		o.GetOutputs = true
		o.OutputsDir = dir
	}
}
