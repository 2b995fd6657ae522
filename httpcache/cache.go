// Package httpcache caches HTTP response bodies in a rubber arena while they are served
package httpcache

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/cyverse/rubbercache/event"
	"github.com/cyverse/rubbercache/fill"
	"github.com/cyverse/rubbercache/io"
	"github.com/cyverse/rubbercache/report"
	log "github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// Request is an HTTP request as seen by the cache
type Request struct {
	Method string
	URI    string
	Header http.Header
}

// Response is an HTTP response, Body is nil for responses without body
type Response struct {
	Status int
	Header http.Header
	Body   io.Source
}

// ResponseHandler receives the response or the upstream error, on the loop goroutine
type ResponseHandler func(response *Response, err error)

// Upstream fetches responses the cache could not answer. The handler must be called on the loop goroutine.
type Upstream interface {
	Fetch(request *Request, handler ResponseHandler)
}

// Cache answers GET and HEAD requests from stored responses and fills the store on misses
type Cache struct {
	config *Config
	store  *fill.Store
}

// NewCache creates a new Cache
func NewCache(loop *event.Loop, config *Config, reportClient report.CacheReportClient) (*Cache, error) {
	err := config.Validate()
	if err != nil {
		return nil, xerrors.Errorf("invalid http cache config: %w", err)
	}

	store, err := fill.NewStore(loop, &config.Config, reportClient)
	if err != nil {
		return nil, xerrors.Errorf("failed to create http cache store: %w", err)
	}

	return &Cache{
		config: config,
		store:  store,
	}, nil
}

// GetStore returns the underlying store
func (cache *Cache) GetStore() *fill.Store {
	return cache.store
}

// Serve answers the request from the cache or from upstream
func (cache *Cache) Serve(request *Request, upstream Upstream, handler ResponseHandler) {
	logger := log.WithFields(log.Fields{
		"package":  "httpcache",
		"struct":   "Cache",
		"function": "Serve",
	})

	if request.Header == nil {
		request.Header = http.Header{}
	}

	if !isSafeMethod(request.Method) {
		removed := cache.store.Remove(request.URI)
		if removed > 0 {
			logger.Debugf("%s %s invalidated %d stored responses", request.Method, request.URI, removed)
		}

		upstream.Fetch(request, handler)
		return
	}

	if isCacheableRequest(request) {
		item, body := cache.store.Lookup(request.URI, lookupMatch(request.Header))
		if item != nil {
			stored := item.(*responseItem)
			logger.Debugf("%s %s served from cache", request.Method, request.URI)

			if request.Method == http.MethodHead {
				body.Close()
				body = io.NewNilSource()
			}

			handler(&Response{
				Status: stored.status,
				Header: stored.header.Clone(),
				Body:   body,
			}, nil)
			return
		}
	}

	upstream.Fetch(request, func(response *Response, err error) {
		if err != nil {
			handler(nil, err)
			return
		}

		response.Body = cache.fill(request, response)
		handler(response, nil)
	})
}

// Invalidate removes all stored variants of the URI
func (cache *Cache) Invalidate(uri string) int {
	return cache.store.Remove(uri)
}

// Flush removes all stored responses
func (cache *Cache) Flush() {
	cache.store.Flush()
}

// GetStats returns the statistics
func (cache *Cache) GetStats() *report.Stats {
	return cache.store.GetStats()
}

// Release releases the store
func (cache *Cache) Release() error {
	return cache.store.Release()
}

// fill returns the body the client reads, filling the store if the response is cacheable
func (cache *Cache) fill(request *Request, response *Response) io.Source {
	logger := log.WithFields(log.Fields{
		"package":  "httpcache",
		"struct":   "Cache",
		"function": "fill",
	})

	if response.Body == nil || request.Method != http.MethodGet {
		return response.Body
	}

	if !isCacheableRequest(request) {
		return response.Body
	}

	reason := cache.checkResponse(response)
	if len(reason) > 0 {
		logger.Debugf("not caching %s, %s", request.URI, reason)
		return response.Body
	}

	varyNames, ok := parseVary(response.Header)
	if !ok {
		logger.Debugf("not caching %s, varies on everything", request.URI)
		return response.Body
	}

	fillRequest := &fillRequest{
		key:     request.URI,
		partial: len(request.Header.Get("Range")) > 0,
		status:  response.Status,
		header:  response.Header.Clone(),
		vary:    makeVary(varyNames, request.Header),
	}

	return cache.store.Fill(fillRequest, response.Body)
}

func (cache *Cache) checkResponse(response *Response) string {
	if !cache.config.isCacheableStatus(response.Status) {
		return "status " + strconv.Itoa(response.Status)
	}

	if hasCacheControl(response.Header, "no-store") || hasCacheControl(response.Header, "private") {
		return "cache control"
	}

	if cache.config.RequireContentLength {
		contentLength, err := strconv.ParseInt(response.Header.Get("Content-Length"), 10, 64)
		if err != nil {
			return "no content length"
		}

		if available := response.Body.GetAvailable(false); available >= 0 && available != contentLength {
			return "content length mismatch"
		}
	}
	return ""
}

func isSafeMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

func isCacheableRequest(request *Request) bool {
	if hasCacheControl(request.Header, "no-store") {
		return false
	}

	// credentials make the response private
	return len(request.Header.Get("Authorization")) == 0
}

func hasCacheControl(header http.Header, directive string) bool {
	for _, line := range header.Values("Cache-Control") {
		for _, part := range strings.Split(line, ",") {
			if strings.EqualFold(strings.TrimSpace(part), directive) {
				return true
			}
		}
	}
	return false
}
