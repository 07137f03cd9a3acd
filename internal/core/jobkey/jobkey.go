package jobkey

import (
	"net/url"
	"regexp"
)

// Key addresses the progress record and the durable result record for one
// analysis job. It is a pure function of the submitted locator, never stored
// on its own, and the analysis backend derives the identical value — the two
// sides must agree or progress and results land under different documents.
type Key string

func (k Key) String() string { return string(k) }

var nonWord = regexp.MustCompile(`\W+`)

// Volatile query parameters that do not change the analyzable resource.
// "t" is the YouTube playback offset (e.g. ?t=54s).
var volatileParams = []string{"t"}

// Clean strips volatile query parameters from a locator. Locators that do not
// parse as URLs are returned unchanged.
func Clean(locator string) string {
	u, err := url.Parse(locator)
	if err != nil || u.Scheme == "" {
		return locator
	}
	q := u.Query()
	changed := false
	for _, p := range volatileParams {
		if q.Has(p) {
			q.Del(p)
			changed = true
		}
	}
	if !changed {
		return locator
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Derive maps a locator to its job key: the cleaned locator with every maximal
// run of non-word characters collapsed to a single underscore. Two distinct
// locators can normalize to the same key; that collision is accepted, the pair
// is treated as one job.
func Derive(locator string) Key {
	return Key(nonWord.ReplaceAllString(Clean(locator), "_"))
}
