package domain

// Label is the type of a relationship
type Label string

const (
	LabelState        Label = "STATE"
	LabelHosts        Label = "HOSTS"
	LabelRequires     Label = "REQUIRES"
	LabelDeployedOn   Label = "DEPLOYED_ON"
	LabelCommunicates Label = "COMMUNICATES"
	LabelLinksTo      Label = "LINKS_TO"
	LabelInternal     Label = "INTERNAL"
)

// RelRef is an opaque handle on a directed relationship valid over [From, To).
// For STATE relationships Target is the state snapshot ID.
type RelRef struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
	Label  Label  `json:"label"`
	From   int64  `json:"from"`
	To     int64  `json:"to"`
}

// NewRelRef returns a relationship opened at ts.
func NewRelRef(id, source, target string, label Label, ts int64) RelRef {
	return RelRef{ID: id, Source: source, Target: target, Label: label, From: ts, To: EOT}
}

// Open reports whether the relationship has not been closed.
func (r RelRef) Open() bool {
	return r.To == EOT
}

// LiveThrough reports whether the relationship is valid across the window.
func (r RelRef) LiveThrough(w Window) bool {
	return w.Contains(r.From, r.To)
}

// Window is the query interval [At, At+Duration].
type Window struct {
	At       int64
	Duration int64
}

// Instant is a zero-length window at ts.
func Instant(ts int64) Window {
	return Window{At: ts}
}

// End returns the last instant covered by the window.
func (w Window) End() int64 {
	return w.At + w.Duration
}

// Contains reports whether an interval [from, to) covers the whole window.
func (w Window) Contains(from, to int64) bool {
	return from <= w.At && to > w.End()
}
