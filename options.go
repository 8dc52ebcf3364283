package cosched

import (
	"errors"
	"time"

	"github.com/joeycumines/logiface"
)

const (
	// DefaultPollTimeout caps how long a single poll may block.
	DefaultPollTimeout = 10 * time.Second

	// DefaultInboxCapacity is the default size of the cross-thread inbox.
	DefaultInboxCapacity = 1024
)

// schedulerOptions holds configuration options for Scheduler creation.
type schedulerOptions struct {
	logger        *logiface.Logger[logiface.Event]
	pollTimeout   time.Duration
	maxEvents     int
	inboxCapacity int
	keepAlive     bool
}

// Option configures a Scheduler instance.
type Option interface {
	apply(*schedulerOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyFunc func(*schedulerOptions) error
}

func (o *optionImpl) apply(opts *schedulerOptions) error {
	return o.applyFunc(opts)
}

// WithLogger configures the logger used by the scheduler. A nil logger (the
// default) disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithDefaultPollTimeout sets the maximum time a single [Scheduler.Poll] will
// block waiting for readiness, when no task is scheduled sooner.
func WithDefaultPollTimeout(d time.Duration) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		if d <= 0 {
			return errors.New("cosched: poll timeout must be positive")
		}
		opts.pollTimeout = d
		return nil
	}}
}

// WithMaxEvents sets the number of readiness events retrieved per poll.
func WithMaxEvents(n int) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		if n <= 0 {
			return errors.New("cosched: max events must be positive")
		}
		opts.maxEvents = n
		return nil
	}}
}

// WithInboxCapacity sets the capacity of the queue used by
// [Scheduler.Submit].
func WithInboxCapacity(n int) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		if n <= 0 {
			return errors.New("cosched: inbox capacity must be positive")
		}
		opts.inboxCapacity = n
		return nil
	}}
}

// WithKeepAlive prevents [Scheduler.Loop] from returning when it runs out of
// work, such that it continues until [Scheduler.Stop] is called. Spawned
// schedulers are always kept alive.
func WithKeepAlive(enabled bool) Option {
	return &optionImpl{func(opts *schedulerOptions) error {
		opts.keepAlive = enabled
		return nil
	}}
}

// resolveOptions applies Option instances to schedulerOptions.
func resolveOptions(opts []Option) (*schedulerOptions, error) {
	cfg := &schedulerOptions{
		pollTimeout:   DefaultPollTimeout,
		maxEvents:     defaultMaxEvents,
		inboxCapacity: DefaultInboxCapacity,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
