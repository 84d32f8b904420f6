// Package cachenames builds the names of the caches the runtime owns.
package cachenames

import "strings"

// Default purposes
const (
	DefaultPrefix          = "swcache"
	PurposePrecache        = "precache-v2"
	PurposeRuntime         = "runtime"
	PurposeGoogleAnalytics = "googleAnalytics"
)

// Details are the overridable parts of cache names.
type Details struct {
	Prefix          string
	Suffix          string
	Precache        string
	Runtime         string
	GoogleAnalytics string
}

// Names resolves full cache names. The zero value is not useful; use New.
type Names struct {
	d Details
}

// New returns names for the given scope. The scope becomes the default
// suffix.
func New(scope string) *Names {
	return &Names{d: Details{
		Prefix:          DefaultPrefix,
		Suffix:          scope,
		Precache:        PurposePrecache,
		Runtime:         PurposeRuntime,
		GoogleAnalytics: PurposeGoogleAnalytics,
	}}
}

// Update overrides every non-empty field of d.
func (n *Names) Update(d Details) {
	if d.Prefix != "" {
		n.d.Prefix = d.Prefix
	}
	if d.Suffix != "" {
		n.d.Suffix = d.Suffix
	}
	if d.Precache != "" {
		n.d.Precache = d.Precache
	}
	if d.Runtime != "" {
		n.d.Runtime = d.Runtime
	}
	if d.GoogleAnalytics != "" {
		n.d.GoogleAnalytics = d.GoogleAnalytics
	}
}

// Precache is the precache cache name.
func (n *Names) Precache() string { return n.Name(n.d.Precache) }

// Runtime is the default runtime cache name.
func (n *Names) Runtime() string { return n.Name(n.d.Runtime) }

// GoogleAnalytics is the offline analytics cache name.
func (n *Names) GoogleAnalytics() string { return n.Name(n.d.GoogleAnalytics) }

// Prefix returns the configured prefix.
func (n *Names) Prefix() string { return n.d.Prefix }

// Suffix returns the configured suffix.
func (n *Names) Suffix() string { return n.d.Suffix }

// Name joins prefix, purpose and suffix with "-", dropping empty parts.
func (n *Names) Name(purpose string) string {
	return Join(n.d.Prefix, purpose, n.d.Suffix)
}

// Join joins the non-empty parts with "-".
func Join(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "-")
}
