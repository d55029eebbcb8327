package gate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"go.uber.org/zap"
)

var (
	ErrUpstream = errors.New("gate: upstream unavailable")
	// ErrClientGone means the inbound request was cancelled while it was
	// being relayed. The backend is not blamed for it.
	ErrClientGone = errors.New("gate: client went away")
)

// Breaker guards calls to the backend. *breaker.Breaker implements it.
type Breaker interface {
	Guard() (done func(failed bool), err error)
}

type ForwarderOptions struct {
	// Timeout bounds the whole backend exchange. Required.
	Timeout time.Duration
	Breaker Breaker
	// Transport overrides the default transport, mainly for tests.
	Transport http.RoundTripper
	// Logger receives ReverseProxy's own diagnostics. Nil discards them.
	Logger *zap.Logger
}

// Forwarder relays allowed requests to a single backend. It never retries;
// transport failures become a 500 with a JSON detail.
type Forwarder struct {
	target  *url.URL
	proxy   *httputil.ReverseProxy
	timeout time.Duration
	breaker Breaker
}

type resultKey struct{}

type forwardResult struct {
	inbound context.Context
	// err is a transport failure before any response byte was relayed.
	err error
	// bodyErr is a read failure on the backend body mid-relay.
	bodyErr    error
	clientGone bool
}

// outcome classifies the exchange once the proxy has returned. aborted
// reports that ReverseProxy gave up on a half-written response.
func (res *forwardResult) outcome(aborted bool) error {
	switch {
	case res.clientGone:
		return ErrClientGone
	case res.err != nil:
		return fmt.Errorf("%w: %v", ErrUpstream, res.err)
	case res.bodyErr != nil && res.inbound.Err() != nil:
		return ErrClientGone
	case res.bodyErr != nil && aborted:
		return fmt.Errorf("%w: %w: body: %v", ErrUpstream, http.ErrAbortHandler, res.bodyErr)
	case res.bodyErr != nil:
		return fmt.Errorf("%w: body: %v", ErrUpstream, res.bodyErr)
	case aborted:
		// the backend body was fine, so the write to the client failed
		return ErrClientGone
	}
	return nil
}

// trackedBody remembers the first non-EOF read error of a backend body.
type trackedBody struct {
	io.ReadCloser
	res *forwardResult
}

func (b *trackedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if err != nil && err != io.EOF && b.res.bodyErr == nil {
		b.res.bodyErr = err
	}
	return n, err
}

// forwardedHeaders are stripped by ReverseProxy before Rewrite runs; the
// gate restores the client's own values so the backend sees them unchanged.
var forwardedHeaders = []string{"Forwarded", "X-Forwarded-For", "X-Forwarded-Host", "X-Forwarded-Proto"}

func NewForwarder(target string, opts ForwarderOptions) (*Forwarder, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("gate: backend url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("gate: backend url %q must be absolute http(s)", target)
	}
	if opts.Timeout <= 0 {
		return nil, errors.New("gate: forward timeout must be > 0")
	}

	transport := opts.Transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.DialContext = (&net.Dialer{Timeout: opts.Timeout, KeepAlive: 30 * time.Second}).DialContext
		t.ResponseHeaderTimeout = opts.Timeout
		transport = t
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	f := &Forwarder{target: u, timeout: opts.Timeout, breaker: opts.Breaker}
	f.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(u)
			for _, h := range forwardedHeaders {
				if v, ok := pr.In.Header[h]; ok {
					pr.Out.Header[h] = v
				}
			}
		},
		ModifyResponse: func(resp *http.Response) error {
			if resp.StatusCode == http.StatusSwitchingProtocols {
				// upgrade bodies must stay writable
				return nil
			}
			if res, ok := resp.Request.Context().Value(resultKey{}).(*forwardResult); ok {
				resp.Body = &trackedBody{ReadCloser: resp.Body, res: res}
			}
			return nil
		},
		Transport:    transport,
		ErrorHandler: f.handleError,
		ErrorLog:     zap.NewStdLog(logger),
	}
	return f, nil
}

func (f *Forwarder) Target() *url.URL { return f.target }

// Forward sends r with body to the backend and relays the answer to w. It
// returns the status written to w and the failure, if any.
//
// Errors wrapping ErrUpstream are reported to the breaker. ErrClientGone
// is not, and comes with StatusClientClosedRequest. When the backend
// fails after the response has started under a real server, the error also
// wraps http.ErrAbortHandler: the caller must abort the connection
// with panic(http.ErrAbortHandler) once it has accounted for the request.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, body []byte) (status int, err error) {
	var done func(bool)
	if f.breaker != nil {
		d, err := f.breaker.Guard()
		if err != nil {
			writeDetail(w, http.StatusInternalServerError, DetailProxyError)
			return http.StatusInternalServerError, fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		done = d
	}

	res := &forwardResult{inbound: r.Context()}
	ctx, cancel := context.WithTimeout(context.WithValue(r.Context(), resultKey{}, res), f.timeout)
	defer cancel()

	out := r.Clone(ctx)
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.ContentLength = int64(len(body))
	out.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }
	out.TransferEncoding = nil
	if len(body) == 0 {
		out.Body = http.NoBody
	}

	rec := &statusRecorder{ResponseWriter: w}
	defer func() {
		if done != nil {
			done(errors.Is(err, ErrUpstream))
		}
	}()
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		if p != http.ErrAbortHandler {
			panic(p)
		}
		status, err = rec.status(), res.outcome(true)
		if errors.Is(err, ErrClientGone) {
			status = StatusClientClosedRequest
		}
	}()
	f.proxy.ServeHTTP(rec, out)

	if err := res.outcome(false); err != nil {
		if errors.Is(err, ErrClientGone) {
			return StatusClientClosedRequest, err
		}
		return rec.status(), err
	}
	return rec.status(), nil
}

func (f *Forwarder) handleError(w http.ResponseWriter, r *http.Request, err error) {
	res, ok := r.Context().Value(resultKey{}).(*forwardResult)
	if ok && res.inbound.Err() != nil {
		// nobody left to answer
		res.clientGone = true
		return
	}
	if ok {
		res.err = err
	}
	writeDetail(w, http.StatusInternalServerError, DetailProxyError)
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.code == 0 && code >= http.StatusOK {
		s.code = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.code == 0 {
		s.code = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

func (s *statusRecorder) status() int {
	if s.code == 0 {
		return http.StatusOK
	}
	return s.code
}
