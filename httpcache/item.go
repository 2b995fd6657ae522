package httpcache

import (
	"net/http"
	"sort"
	"strings"

	"github.com/cyverse/rubbercache/cache"
	"github.com/cyverse/rubbercache/fill"
)

// responseItem is a stored response of one Vary variant
type responseItem struct {
	fill.Item

	status int
	header http.Header
	vary   map[string]string // request header values the response varies on
}

// GetStatus returns the stored status
func (item *responseItem) GetStatus() int {
	return item.status
}

// GetHeader returns the stored response header
func (item *responseItem) GetHeader() http.Header {
	return item.header
}

// matches returns true if the request carries the header values this variant was stored for
func (item *responseItem) matches(header http.Header) bool {
	for name, value := range item.vary {
		if header.Get(name) != value {
			return false
		}
	}
	return true
}

// parseVary returns the canonical names listed in the Vary header, and false for "Vary: *"
func parseVary(header http.Header) ([]string, bool) {
	names := []string{}
	for _, line := range header.Values("Vary") {
		for _, name := range strings.Split(line, ",") {
			name = strings.TrimSpace(name)
			if len(name) == 0 {
				continue
			}

			if name == "*" {
				return nil, false
			}

			names = append(names, http.CanonicalHeaderKey(name))
		}
	}

	sort.Strings(names)
	return names, true
}

func makeVary(names []string, requestHeader http.Header) map[string]string {
	vary := make(map[string]string, len(names))
	for _, name := range names {
		vary[name] = requestHeader.Get(name)
	}
	return vary
}

func sameVary(a map[string]string, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}

	for name, value := range a {
		other, ok := b[name]
		if !ok || other != value {
			return false
		}
	}
	return true
}

// lookupMatch selects the variant stored for the request headers
func lookupMatch(requestHeader http.Header) cache.Match {
	return func(item cache.Item) bool {
		stored, ok := item.(*responseItem)
		if !ok {
			return false
		}
		return stored.matches(requestHeader)
	}
}

// fillRequest stores one response under the request URI
type fillRequest struct {
	key     string
	partial bool
	status  int
	header  http.Header
	vary    map[string]string
}

func (request *fillRequest) GetKey() string {
	return request.key
}

// Match selects the item of the same variant, which the new response replaces
func (request *fillRequest) Match(item cache.Item) bool {
	stored, ok := item.(*responseItem)
	if !ok {
		return false
	}
	return sameVary(stored.vary, request.vary)
}

func (request *fillRequest) IsPartial() bool {
	return request.partial
}

func (request *fillRequest) NewItem(base fill.Item) cache.Item {
	return &responseItem{
		Item:   base,
		status: request.status,
		header: request.header,
		vary:   request.vary,
	}
}
