package gateway

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"goyais.org/hub/internal/apierr"
	"goyais.org/hub/internal/obs"
)

// ForwardRequest describes one call to a runtime.
type ForwardRequest struct {
	Method  string
	Path    string
	Payload any
	UserID  string
	TraceID string
	// Header carries extra headers. It cannot override the injected
	// X-Hub-Auth, X-User-Id and X-Trace-Id.
	Header  map[string]string
	Timeout time.Duration
}

// Upstream is a fully read runtime response.
type Upstream struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (u *Upstream) OK() bool { return u.StatusCode >= 200 && u.StatusCode <= 299 }

// Forward sends req to the target and buffers the response. Transport
// failures and timeouts are RUNTIME_UPSTREAM; the status code is not judged.
func (g *Gateway) Forward(ctx context.Context, target Target, req ForwardRequest) (*Upstream, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = g.forwardTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := g.newRequest(ctx, target, req)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(httpReq)
	if err != nil {
		obs.ObserveForward("json", "network_error")
		return nil, upstreamNetwork(err)
	}
	defer resp.Body.Close()

	body, err := g.readBody(resp.Body, req.TraceID)
	if err != nil {
		outcome := "network_error"
		if apierr.From(err).Cause == causeTooLarge {
			outcome = "too_large"
		}
		obs.ObserveForward("json", outcome)
		return nil, err
	}
	up := &Upstream{StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: body}
	if up.OK() {
		obs.ObserveForward("json", "ok")
	} else {
		obs.ObserveForward("json", "upstream_error")
	}
	return up, nil
}

// JSON decodes the upstream body. Non-JSON bodies become {"ok": <2xx>}.
// A non-2xx status is returned as RUNTIME_UPSTREAM carrying the decoded body,
// retryable only for 5xx.
func (u *Upstream) JSON(traceID, route string) (any, error) {
	var payload any = map[string]any{"ok": u.OK()}
	if isJSON(u.Header.Get("Content-Type")) && len(bytes.TrimSpace(u.Body)) > 0 {
		var decoded any
		if err := json.Unmarshal(u.Body, &decoded); err == nil {
			payload = decoded
		} else if u.OK() {
			return nil, apierr.New(apierr.CodeRuntimeUpstream, "Runtime returned malformed JSON.",
				apierr.WithCause("runtime_upstream_payload"),
				apierr.WithRetryable(false),
				apierr.WithErr(err),
				apierr.WithDetails(map[string]any{"trace_id": traceID, "route": route}))
		}
	}
	if !u.OK() {
		return nil, upstreamStatus(traceID, route, u.StatusCode, payload)
	}
	return payload, nil
}

// Stream forwards req and copies the upstream body to w chunk by chunk,
// flushing after each write. Errors are returned only while nothing has been
// written to w; once streaming started, failures end the stream and are
// logged.
func (g *Gateway) Stream(ctx context.Context, w http.ResponseWriter, target Target, req ForwardRequest, route string) error {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = g.streamTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := g.newRequest(ctx, target, req)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	resp, err := g.client.Do(httpReq)
	if err != nil {
		obs.ObserveForward("stream", "network_error")
		return upstreamNetwork(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		obs.ObserveForward("stream", "upstream_error")
		body, err := g.readBody(resp.Body, req.TraceID)
		if err != nil {
			return err
		}
		up := &Upstream{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}
		_, err = up.JSON(req.TraceID, route)
		return err
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/event-stream"
	}
	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(resp.StatusCode)

	rc := http.NewResponseController(w)
	_ = rc.Flush()

	start := time.Now()
	buf := make([]byte, 4096)
	var total int64
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			written, writeErr := w.Write(buf[:n])
			total += int64(written)
			if writeErr != nil {
				obs.ObserveForward("stream", "client_gone")
				g.log.Debug().Err(writeErr).Str("trace_id", req.TraceID).Int64("bytes", total).
					Msg("client disconnected during runtime stream")
				return nil
			}
			if err := rc.Flush(); err != nil {
				obs.ObserveForward("stream", "client_gone")
				return nil
			}
		}
		if readErr != nil {
			switch {
			case errors.Is(readErr, io.EOF):
				obs.ObserveForward("stream", "ok")
			case ctx.Err() != nil:
				obs.ObserveForward("stream", "cancelled")
			default:
				obs.ObserveForward("stream", "network_error")
				g.log.Warn().Err(readErr).Str("trace_id", req.TraceID).Int64("bytes", total).
					Msg("runtime stream ended with error")
			}
			break
		}
	}
	g.log.Debug().Str("trace_id", req.TraceID).Str("route", route).Int64("bytes", total).
		Dur("duration", time.Since(start)).Msg("runtime stream complete")
	return nil
}

func (g *Gateway) newRequest(ctx context.Context, target Target, req ForwardRequest) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if req.Payload != nil {
		data, err := json.Marshal(req.Payload)
		if err != nil {
			return nil, apierr.Internal("runtime_forward_encode", err)
		}
		body = bytes.NewReader(data)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, upstreamURL(target.BaseURL, req.Path), body)
	if err != nil {
		return nil, apierr.Internal("runtime_forward_request", err)
	}
	for k, v := range req.Header {
		httpReq.Header.Set(k, v)
	}
	httpReq.Header.Set(HeaderHubAuth, g.secret)
	httpReq.Header.Set(HeaderUserID, req.UserID)
	httpReq.Header.Set(HeaderTraceID, req.TraceID)
	if req.Payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	return httpReq, nil
}

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "application/json")
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

const causeTooLarge = "runtime_upstream_too_large"

// readBody buffers at most g.maxBody bytes. A larger body is an error rather
// than a silently truncated payload.
func (g *Gateway) readBody(r io.Reader, traceID string) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, g.maxBody+1))
	if err != nil {
		return nil, upstreamNetwork(err)
	}
	if int64(len(body)) > g.maxBody {
		return nil, apierr.New(apierr.CodeRuntimeUpstream, "Runtime response is too large.",
			apierr.WithCause(causeTooLarge),
			apierr.WithRetryable(false),
			apierr.WithDetails(map[string]any{"trace_id": traceID, "limit_bytes": g.maxBody}))
	}
	return body, nil
}

func upstreamNetwork(err error) error {
	return apierr.New(apierr.CodeRuntimeUpstream, "Runtime upstream request failed.",
		apierr.WithCause("runtime_upstream_network"), apierr.WithErr(err))
}

func upstreamStatus(traceID, route string, status int, payload any) error {
	return apierr.New(apierr.CodeRuntimeUpstream, "Runtime upstream request failed.",
		apierr.WithCause("runtime_upstream_status"),
		apierr.WithRetryable(status >= 500),
		apierr.WithDetails(map[string]any{
			"trace_id":        traceID,
			"upstream_status": status,
			"route":           route,
			"upstream":        payload,
		}))
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
