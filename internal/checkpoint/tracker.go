package checkpoint

// Tracker accumulates the running checkpoint of a single run.
type Tracker struct {
	order   Order
	loaded  string
	current string
}

// NewTracker starts tracking from the loaded checkpoint value.
func NewTracker(order Order, loaded string) *Tracker {
	if order == "" {
		order = OrderString
	}
	return &Tracker{order: order, loaded: loaded, current: loaded}
}

// Observe advances the checkpoint to v if v orders after it.
func (t *Tracker) Observe(v string) {
	t.current = t.order.Max(t.current, v)
}

// Loaded returns the value the run started from.
func (t *Tracker) Loaded() string { return t.loaded }

// Current returns the highest value observed so far.
func (t *Tracker) Current() string { return t.current }

// Changed reports whether the checkpoint moved and must be saved.
func (t *Tracker) Changed() bool { return t.current != t.loaded }
