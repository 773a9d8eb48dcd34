package tracker

import (
	"fmt"

	"github.com/fertilizer-io/fertilizer/internal/metainfo"
)

// RED and OPS are the default reciprocal pair.
var (
	RED = Tracker{
		ShortName:    "RED",
		SiteURL:      "https://redacted.sh",
		AnnounceHost: "flacsfor.me",
		DetectFlags:  []string{"RED", "PTH"},
		CreateFlags:  []string{"RED", "PTH", ""},
	}
	OPS = Tracker{
		ShortName:    "OPS",
		SiteURL:      "https://orpheus.network",
		AnnounceHost: "home.opsfet.ch",
		DetectFlags:  []string{"OPS", "APL"},
		CreateFlags:  []string{"OPS", "APL", ""},
		AuthPrefix:   "token ",
	}
)

// Registry holds a reciprocal pair of trackers indexed by short name.
// Reciprocal links are stored as names, so a Tracker never points at another Tracker value.
type Registry struct {
	trackers map[string]*Tracker
	order    []string
}

// NewRegistry returns a registry in which a and b are each other's reciprocal.
func NewRegistry(a, b Tracker) (*Registry, error) {
	if a.ShortName == "" || b.ShortName == "" {
		return nil, fmt.Errorf("tracker short name must not be empty")
	}
	if a.ShortName == b.ShortName {
		return nil, fmt.Errorf("duplicate tracker short name: %q", a.ShortName)
	}
	a.reciprocal = b.ShortName
	b.reciprocal = a.ShortName
	return &Registry{
		trackers: map[string]*Tracker{a.ShortName: &a, b.ShortName: &b},
		order:    []string{a.ShortName, b.ShortName},
	}, nil
}

// DefaultRegistry returns the RED <-> OPS pair.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(RED, OPS)
	if err != nil {
		panic(err)
	}
	return r
}

// Get returns the tracker with the short name.
func (r *Registry) Get(name string) (*Tracker, bool) {
	t, ok := r.trackers[name]
	return t, ok
}

// Reciprocal returns the sibling of t.
func (r *Registry) Reciprocal(t *Tracker) *Tracker {
	return r.trackers[t.reciprocal]
}

// Trackers returns both trackers in registration order.
func (r *Registry) Trackers() []*Tracker {
	ret := make([]*Tracker, 0, len(r.order))
	for _, name := range r.order {
		ret = append(ret, r.trackers[name])
	}
	return ret
}

// DetectOrigin returns the tracker m was downloaded from, or nil.
// The info.source flag is checked first, then announce URLs.
// A signal that matches both trackers is ignored as ambiguous.
func (r *Registry) DetectOrigin(m *metainfo.MetaInfo) *Tracker {
	if source, ok := m.Source(); ok {
		if t := r.single(func(t *Tracker) bool { return t.MatchesSource(source) }); t != nil {
			return t
		}
	}
	urls := m.AnnounceURLs()
	return r.single(func(t *Tracker) bool {
		for _, u := range urls {
			if t.MatchesAnnounce(u) {
				return true
			}
		}
		return false
	})
}

func (r *Registry) single(match func(*Tracker) bool) *Tracker {
	var found *Tracker
	for _, name := range r.order {
		t := r.trackers[name]
		if !match(t) {
			continue
		}
		if found != nil {
			return nil
		}
		found = t
	}
	return found
}
