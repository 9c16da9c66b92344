// Package job implements the request-driving loop for one URL (spec.md
// §4.3) and its serialisable descriptor (spec.md §4.4).
package job

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"straw/internal/straw/analysable"
	"straw/internal/straw/id"
	"straw/internal/straw/protocol"
	"straw/internal/straw/session"
)

var tracer = otel.Tracer("straw/job")

// Callback is invoked once per completed request with its resolved status
// code and response content, when a Container carries one.
type Callback func(statusCode int, content string)

type messageKind int

const (
	messageText messageKind = iota
	messageBinary
)

// Job drives one URL at maximum rate until something transitions its
// status out of Started. It wraps a SessionManager, whose Sessions record
// every request it issues (spec.md §4.3).
type Job struct {
	*analysable.Base

	url      string
	protocol protocol.Protocol
	method   protocol.HttpMethod
	kind     messageKind
	headers  map[string]string
	cookies  map[string]string
	callback Callback

	dataSource func() any

	sm *session.Manager

	httpClient *http.Client
	dialer     *websocket.Dialer
}

type sessionManagerChild struct{ sm *session.Manager }

func (c sessionManagerChild) Children() []analysable.Analysable {
	return []analysable.Analysable{c.sm}
}

func newBaseJob(rawURL string, headers, cookies map[string]string, callback Callback, data any) *Job {
	sm := session.NewManager()
	j := &Job{
		url:        rawURL,
		protocol:   protocol.FromURL(rawURL),
		headers:    headers,
		cookies:    cookies,
		callback:   callback,
		dataSource: normalizeData(data),
		sm:         sm,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		dialer:     websocket.DefaultDialer,
	}
	j.Base = analysable.NewBase(id.Namespaced("Job"), sessionManagerChild{sm: sm})
	return j
}

func newHTTPJob(rawURL string, method protocol.HttpMethod, data any, headers, cookies map[string]string, callback Callback) *Job {
	j := newBaseJob(rawURL, headers, cookies, callback, data)
	j.method = method
	return j
}

func newWSJob(rawURL string, kind messageKind, data any, headers, cookies map[string]string, callback Callback) *Job {
	j := newBaseJob(rawURL, headers, cookies, callback, data)
	j.kind = kind
	return j
}

// normalizeData turns the spec's none|bytes|string|mapping|callable|iterator
// input into an infinite-repeat-or-cycle closure (spec.md §4.3).
func normalizeData(data any) func() any {
	switch v := data.(type) {
	case nil:
		return func() any { return map[string]any{} }
	case func() any:
		value := v()
		return func() any { return value }
	case []any:
		if len(v) == 0 {
			return func() any { return map[string]any{} }
		}
		var mu sync.Mutex
		idx := 0
		return func() any {
			mu.Lock()
			defer mu.Unlock()
			item := v[idx%len(v)]
			idx++
			return item
		}
	default:
		return func() any { return v }
	}
}

// SessionManager exposes the underlying SessionManager, chiefly for tests
// and for WorkerManager-level introspection.
func (j *Job) SessionManager() *session.Manager { return j.sm }

// Start begins the request loop. It returns once the Job's status leaves
// Started (observed at the next iteration boundary); it never returns an
// error of its own, since transport errors are recorded as failed
// sessions rather than surfaced (spec.md §7).
func (j *Job) Start(ctx context.Context) error {
	if err := j.Base.Start(); err != nil {
		return err
	}
	if err := j.sm.Start(); err != nil {
		return err
	}
	if j.protocol.IsWebsocket() {
		return j.runWebsocket(ctx)
	}
	return j.runHTTP(ctx)
}

func (j *Job) runHTTP(ctx context.Context) error {
	for j.Base.Status() == analysable.Started {
		sess, err := j.sm.Open(j.protocol, j.url)
		if err != nil {
			// A concurrent close mid-flight is unexpected for a Job's own
			// single-goroutine loop; surface it as there is no sensible
			// recovery.
			return err
		}

		reqCtx, span := tracer.Start(ctx, "job.request", trace.WithAttributes(
			attribute.String("straw.job.url", j.url),
			attribute.String("straw.job.method", j.method.String()),
		))
		statusCode, content := j.doHTTPRequest(reqCtx)
		recordSpanResult(span, statusCode)
		span.End()

		if j.callback != nil {
			j.callback(statusCode, content)
		}
		_ = sess
		if err := j.sm.Close(statusCode); err != nil {
			return err
		}
	}
	return nil
}

// recordSpanResult sets the span's status from an HTTP-style status code;
// anything >= 400 is ErrTransport or a server error and marked failed.
func recordSpanResult(span trace.Span, statusCode int) {
	span.SetAttributes(attribute.Int("straw.job.status_code", statusCode))
	if statusCode >= 400 {
		span.SetStatus(codes.Error, fmt.Sprintf("status %d", statusCode))
		return
	}
	span.SetStatus(codes.Ok, "")
}

func (j *Job) doHTTPRequest(ctx context.Context) (int, string) {
	next := j.dataSource()

	var req *http.Request
	var err error
	switch j.method {
	case protocol.MethodPOST:
		body, marshalErr := json.Marshal(next)
		if marshalErr != nil {
			return 400, ""
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, j.url, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	default: // GET
		target := j.url
		if params, ok := next.(map[string]any); ok && len(params) > 0 {
			u, parseErr := url.Parse(j.url)
			if parseErr == nil {
				q := u.Query()
				for k, v := range params {
					q.Set(k, fmt.Sprintf("%v", v))
				}
				u.RawQuery = q.Encode()
				target = u.String()
			}
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	}
	if err != nil {
		return 400, ""
	}

	for k, v := range j.headers {
		req.Header.Set(k, v)
	}
	for k, v := range j.cookies {
		req.AddCookie(&http.Cookie{Name: k, Value: v})
	}

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return 400, "" // ErrTransport, absorbed per spec.md §7
	}
	defer resp.Body.Close()

	content, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return 400, ""
	}
	return resp.StatusCode, string(content)
}

func (j *Job) runWebsocket(ctx context.Context) error {
	header := make(http.Header, len(j.headers)+len(j.cookies))
	for k, v := range j.headers {
		header.Set(k, v)
	}
	if len(j.cookies) > 0 {
		cookies := make([]string, 0, len(j.cookies))
		for k, v := range j.cookies {
			cookies = append(cookies, fmt.Sprintf("%s=%s", k, v))
		}
		header.Set("Cookie", joinCookies(cookies))
	}

	conn, _, err := j.dialer.DialContext(ctx, j.url, header)
	if err != nil {
		// A failed dial is a transport error: every iteration records a
		// failed (400) session until the Worker stops this Job.
		for j.Base.Status() == analysable.Started {
			if _, err := j.sm.Open(j.protocol, j.url); err != nil {
				return err
			}
			if j.callback != nil {
				j.callback(400, "")
			}
			if err := j.sm.Close(400); err != nil {
				return err
			}
		}
		return nil
	}
	defer conn.Close()

	for j.Base.Status() == analysable.Started {
		sess, err := j.sm.Open(j.protocol, j.url)
		if err != nil {
			return err
		}
		_ = sess

		_, span := tracer.Start(ctx, "job.request", trace.WithAttributes(
			attribute.String("straw.job.url", j.url),
			attribute.Bool("straw.job.websocket", true),
		))
		statusCode, content := j.doWSExchange(conn)
		recordSpanResult(span, statusCode)
		span.End()

		if j.callback != nil {
			j.callback(statusCode, content)
		}
		if err := j.sm.Close(statusCode); err != nil {
			return err
		}
		if statusCode == 500 {
			// Non-text reply: close the connection and keep looping
			// without reconnecting, matching the original's ws.close()
			// on an unexpected frame type — subsequent iterations record
			// transport failures until the Worker stops this Job.
			_ = conn.Close()
		}
	}
	return nil
}

func (j *Job) doWSExchange(conn *websocket.Conn) (int, string) {
	next := j.dataSource()

	var sendErr error
	switch j.kind {
	case messageBinary:
		sendErr = conn.WriteMessage(websocket.BinaryMessage, toBytes(next))
	default:
		sendErr = conn.WriteMessage(websocket.TextMessage, []byte(toText(next)))
	}
	if sendErr != nil {
		return 400, ""
	}

	msgType, data, err := conn.ReadMessage()
	if err != nil {
		return 400, ""
	}
	if msgType == websocket.TextMessage {
		return 200, string(data)
	}
	return 500, string(data)
}

func toBytes(v any) []byte {
	switch t := v.(type) {
	case []byte:
		return t
	case string:
		return []byte(t)
	default:
		b, _ := json.Marshal(v)
		return b
	}
}

func toText(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

func joinCookies(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "; "
		}
		out += p
	}
	return out
}
