package tree

const (
	defaultFanout    = 16
	minimumFanout    = 4
	defaultBatchSize = 32768
)

type config struct {
	fanout    int
	minFill   int
	batchSize int
	observer  Observer
}

// Option is an option for a tree.
type Option func(*config)

// WithFanout sets the maximum number of children of an inner node and entries
// of a leaf. Values below 4 are raised to 4.
func WithFanout(n int) Option {
	return func(c *config) {
		c.fanout = n
	}
}

// WithMinFill sets the minimum number of children or entries each half of a
// split node receives. It defaults to 40% of the fanout and may be at most
// half of it.
func WithMinFill(n int) Option {
	return func(c *config) {
		c.minFill = n
	}
}

// WithBatchSize sets the number of entries a lazy iterator buffers at a time.
func WithBatchSize(n int) Option {
	return func(c *config) {
		c.batchSize = n
	}
}

// WithObserver sets the observer notified of leaf accesses and removals.
func WithObserver(o Observer) Option {
	return func(c *config) {
		c.observer = o
	}
}

func newConfig(opts []Option) config {
	c := config{}
	for _, opt := range opts {
		opt(&c)
	}
	switch {
	case c.fanout == 0:
		c.fanout = defaultFanout
	case c.fanout < minimumFanout:
		c.fanout = minimumFanout
	}
	if c.minFill <= 0 {
		c.minFill = max(1, c.fanout*2/5)
	}
	c.minFill = min(c.minFill, c.fanout/2)
	if c.batchSize <= 0 {
		c.batchSize = defaultBatchSize
	}
	return c
}
