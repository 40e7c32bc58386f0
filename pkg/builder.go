package pathway

// Builder collects the recognized construction options for a Path: a
// seed value, an inbound veto, an outbound veto, and (for Input heads)
// the executor its backpressure-dropping Emit strategy races through.
type Builder[T comparable] struct {
	hasInitial bool
	initial    T
	excludeIn  func(next, prev T) bool
	excludeOut func(v T) bool
	emitExec   Executor
}

// Option configures a Builder, the same functional-options pattern
// pkg/config.go uses, generalized to Path construction.
type Option[T comparable] func(*Builder[T])

// Seed pre-installs v as the path's first value (version 1), subject to
// ExcludeIn if one is also given.
func Seed[T comparable](v T) Option[T] {
	return func(b *Builder[T]) {
		b.hasInitial = true
		b.initial = v
	}
}

// ExcludeIn vetoes an inbound swap when f(next, prev) is true.
func ExcludeIn[T comparable](f func(next, prev T) bool) Option[T] {
	return func(b *Builder[T]) { b.excludeIn = f }
}

// ExcludeOut vetoes outward dispatch of an already-installed value when
// f(v) is true.
func ExcludeOut[T comparable](f func(v T) bool) Option[T] {
	return func(b *Builder[T]) { b.excludeOut = f }
}

// WithEmitExecutor sets the executor an Input head races its getSource
// (delayer) strategy through. Unset means executor.Inline{}: concurrent
// Emit callers still compress onto the newest caller and drop the rest,
// just without ever handing work to another goroutine.
func WithEmitExecutor[T comparable](exec Executor) Option[T] {
	return func(b *Builder[T]) { b.emitExec = exec }
}

func newBuilder[T comparable](opts ...Option[T]) Builder[T] {
	var b Builder[T]
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func (b Builder[T]) cacheOptions() []CacheOption[T] {
	var opts []CacheOption[T]
	if b.excludeIn != nil {
		opts = append(opts, WithExcludeIn(b.excludeIn))
	}
	if b.excludeOut != nil {
		opts = append(opts, WithExcludeOut(b.excludeOut))
	}
	return opts
}
