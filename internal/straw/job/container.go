package job

import (
	"encoding/json"
	"fmt"
	"net/url"

	"straw/internal/straw/protocol"
)

// Kind tags which JobContainer variant a Descriptor represents.
type Kind string

const (
	KindHttpGet         Kind = "HttpGet"
	KindHttpPost        Kind = "HttpPost"
	KindWebsocketText   Kind = "WebsocketText"
	KindWebsocketBinary Kind = "WebsocketBinary"
)

// Descriptor is the serialisable, description-only wire form of a
// JobContainer (spec.md §4.4, §9's "explicit descriptor structs" design
// note). It crosses process boundaries (to a worker subprocess) and node
// boundaries (inside a control-channel "init" frame) as JSON.
//
// Callback is intentionally absent here: a Go func value cannot cross a
// process boundary, so a Callback set on a Container only fires for Jobs
// built in the same process that holds the closure (see Container.Job).
type Descriptor struct {
	Kind     Kind              `json:"kind"`
	URL      string            `json:"url"`
	Data     json.RawMessage   `json:"data,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	Cookies  map[string]string `json:"cookies,omitempty"`
	ReuseJob bool              `json:"reuse_job"`
}

// Container is the in-memory, description-only handle applications build
// and dispatch. Calling Job() lazily builds a Job; if ReuseJob is true the
// same instance is returned on repeated calls (legal only within one
// worker), otherwise every call builds a fresh Job, used to fan one
// descriptor across all workers.
type Container struct {
	Kind     Kind
	URL      string
	Data     any
	Headers  map[string]string
	Cookies  map[string]string
	Callback Callback
	ReuseJob bool

	cached *Job
}

// NewContainer constructs a Container with ReuseJob defaulting to true,
// matching spec.md §4.4.
func NewContainer(kind Kind, rawURL string, opts ...Option) *Container {
	c := &Container{Kind: kind, URL: rawURL, ReuseJob: true}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Option configures optional Container fields.
type Option func(*Container)

func WithData(data any) Option                        { return func(c *Container) { c.Data = data } }
func WithHeaders(h map[string]string) Option          { return func(c *Container) { c.Headers = h } }
func WithCookies(ck map[string]string) Option         { return func(c *Container) { c.Cookies = ck } }
func WithCallback(cb Callback) Option                  { return func(c *Container) { c.Callback = cb } }
func WithReuseJob(reuse bool) Option                  { return func(c *Container) { c.ReuseJob = reuse } }

// Job lazily builds (or returns the cached) Job for this descriptor,
// routing by Kind exactly as spec.md §4.4 describes.
func (c *Container) Job() (*Job, error) {
	if c.ReuseJob && c.cached != nil {
		return c.cached, nil
	}
	var j *Job
	switch c.Kind {
	case KindHttpGet:
		j = newHTTPJob(c.URL, protocol.MethodGET, c.Data, c.Headers, c.Cookies, c.Callback)
	case KindHttpPost:
		j = newHTTPJob(c.URL, protocol.MethodPOST, c.Data, c.Headers, c.Cookies, c.Callback)
	case KindWebsocketText:
		j = newWSJob(c.URL, messageText, c.Data, c.Headers, c.Cookies, c.Callback)
	case KindWebsocketBinary:
		j = newWSJob(c.URL, messageBinary, c.Data, c.Headers, c.Cookies, c.Callback)
	default:
		return nil, fmt.Errorf("straw: unknown job container kind %q", c.Kind)
	}
	if c.ReuseJob {
		c.cached = j
	}
	return j, nil
}

// ToDescriptor snapshots the Container into its wire form. Data must be
// JSON-marshalable; a func/iterator Data value is evaluated once into its
// current value, since a subprocess cannot call back into this process.
func (c *Container) ToDescriptor() (*Descriptor, error) {
	var raw json.RawMessage
	if c.Data != nil {
		snapshot := snapshotData(c.Data)
		b, err := json.Marshal(snapshot)
		if err != nil {
			return nil, fmt.Errorf("straw: marshal job data: %w", err)
		}
		raw = b
	}
	return &Descriptor{
		Kind:     c.Kind,
		URL:      c.URL,
		Data:     raw,
		Headers:  c.Headers,
		Cookies:  c.Cookies,
		ReuseJob: c.ReuseJob,
	}, nil
}

// FromDescriptor rebuilds a Container from its wire form. The resulting
// Container never carries a Callback (see Descriptor's doc comment).
func FromDescriptor(d *Descriptor) (*Container, error) {
	c := &Container{Kind: d.Kind, URL: d.URL, Headers: d.Headers, Cookies: d.Cookies, ReuseJob: d.ReuseJob}
	if len(d.Data) > 0 {
		var v any
		if err := json.Unmarshal(d.Data, &v); err != nil {
			return nil, fmt.Errorf("straw: unmarshal job data: %w", err)
		}
		c.Data = v
	}
	return c, nil
}

// FromURL splits a query-string URL into (base_url, parsed_params) for
// POST, and constructs the appropriate Container variant for the given
// method, matching camelstraw.net JobContainer.from_url.
func FromURL(rawURL string, method protocol.HttpMethod) (*Container, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("straw: parse url %q: %w", rawURL, err)
	}
	query := parsed.Query()
	params := make(map[string]any, len(query))
	for k, v := range query {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	parsed.RawQuery = ""
	base := parsed.String()

	kind := KindHttpGet
	target := rawURL
	if method == protocol.MethodPOST {
		kind = KindHttpPost
		target = base
	}
	opts := []Option{}
	if len(params) > 0 {
		opts = append(opts, WithData(params))
	}
	return NewContainer(kind, target, opts...), nil
}

func snapshotData(data any) any {
	switch v := data.(type) {
	case func() any:
		return v()
	case []any:
		if len(v) > 0 {
			return v[0]
		}
		return map[string]any{}
	default:
		return v
	}
}
