package precache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	swerrors "github.com/yshengliao/swcache/pkg/errors"
	"github.com/yshengliao/swcache/pkg/fetch"
)

// RevisionParam is the query parameter that carries an entry's revision
// in its cache key.
const RevisionParam = "__WB_REVISION__"

// Entry is one precache manifest entry.
//
// A nil Revision means the URL is expected to change whenever its content
// does (a hashed file name). An entry decoded from an explicit JSON null
// is marked as such; one with no revision at all is reported as
// unrevisioned when it is added to a controller.
type Entry struct {
	URL       string  `json:"url"`
	Revision  *string `json:"revision"`
	Integrity string  `json:"integrity,omitempty"`

	hashed bool
}

// Revisioned is an entry whose cache key carries rev.
func Revisioned(rawURL, rev string) Entry {
	return Entry{URL: rawURL, Revision: &rev}
}

// Hashed is an entry whose URL already identifies its content.
func Hashed(rawURL string) Entry {
	return Entry{URL: rawURL, hashed: true}
}

// URLEntry is an entry given as a bare URL.
func URLEntry(rawURL string) Entry {
	return Entry{URL: rawURL}
}

func (e Entry) revision() string {
	if e.Revision == nil {
		return ""
	}
	return *e.Revision
}

// Unrevisioned reports whether the entry has neither a revision nor a
// hashed URL.
func (e Entry) Unrevisioned() bool {
	return e.Revision == nil && !e.hashed
}

// UnmarshalJSON accepts either a URL string or an object.
func (e *Entry) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = URLEntry(s)
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("manifest entry must be a string or an object: %w", err)
	}
	type plain Entry
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = Entry(p)
	if rev, ok := raw["revision"]; ok && string(bytes.TrimSpace(rev)) == "null" {
		e.hashed = true
	}
	return nil
}

// ParseManifest decodes a JSON manifest: an array of URL strings or
// {url, revision, integrity} objects.
func ParseManifest(data []byte) ([]Entry, error) {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, swerrors.New(swerrors.CodeInvalidManifest, map[string]any{"error": err})
	}
	for i, e := range entries {
		if e.URL == "" {
			return nil, swerrors.New(swerrors.CodeUnexpectedCacheListEntry, map[string]any{"index": i})
		}
	}
	return entries, nil
}

// LoadManifest reads and parses the manifest at path.
func LoadManifest(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	entries, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return entries, nil
}

// createCacheKey resolves an entry against base. Revisioned entries get
// the revision appended as RevisionParam; everything else is keyed by
// its URL.
func createCacheKey(e Entry, base *url.URL) (cacheKey, href string, err error) {
	if e.URL == "" {
		return "", "", swerrors.New(swerrors.CodeUnexpectedCacheListEntry, map[string]any{"entry": e})
	}
	u, err := url.Parse(e.URL)
	if err != nil {
		return "", "", fmt.Errorf("parse precache url %q: %w", e.URL, err)
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	u.Fragment = ""
	u.RawFragment = ""
	href = u.String()

	rev := e.revision()
	if rev == "" {
		return href, href, nil
	}
	keyURL := *u
	keyURL.RawQuery = fetch.SetQueryParam(keyURL.RawQuery, RevisionParam, rev)
	return keyURL.String(), href, nil
}
