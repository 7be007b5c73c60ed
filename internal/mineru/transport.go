package mineru

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spherical/pdf-converter/internal/domain"
)

const (
	// maxResponseBytes caps JSON envelopes read into memory.
	maxResponseBytes = 8 << 20
	// excerptBytes caps response bodies quoted in errors.
	excerptBytes = 512
	userAgent    = "pdf-converter/1.0"
)

// Request describes one HTTP call.
type Request struct {
	Method        string
	URL           string
	JSON          interface{} // marshalled as the body when non-nil
	Body          []byte      // raw body, used when JSON is nil
	Authenticated bool        // adds the bearer token
	Timeout       time.Duration
}

// Response is the raw outcome of a call that reached the service.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport issues HTTP requests with per-call timeouts. It never retries.
type Transport struct {
	httpClient *http.Client
	credential domain.Credential
}

// NewTransport creates a transport using credential for authenticated calls.
func NewTransport(credential domain.Credential, httpClient *http.Client) *Transport {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Transport{
		httpClient: httpClient,
		credential: credential,
	}
}

// Do performs the request and reads the full response body.
func (t *Transport) Do(ctx context.Context, r Request) (*Response, error) {
	ctx, cancel := withTimeout(ctx, r.Timeout)
	defer cancel()

	req, err := t.newRequest(ctx, r)
	if err != nil {
		return nil, err
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, classify(ctx, fmt.Sprintf("%s %s", r.Method, redactURL(r.URL)), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, classify(ctx, "read response body", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// Stream performs a GET and copies the body into w, calling progress after
// each chunk. Non-200 statuses fail with the status code attached.
func (t *Transport) Stream(ctx context.Context, r Request, w io.Writer, progress func(written, total int64)) (int64, error) {
	ctx, cancel := withTimeout(ctx, r.Timeout)
	defer cancel()

	req, err := t.newRequest(ctx, r)
	if err != nil {
		return 0, err
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return 0, classify(ctx, fmt.Sprintf("%s %s", r.Method, redactURL(r.URL)), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, excerptBytes))
		e := domain.TransportError(fmt.Sprintf("unexpected HTTP status %s: %s", statusText(resp.StatusCode), body), nil)
		e.StatusCode = resp.StatusCode
		return 0, e
	}

	src := io.Reader(resp.Body)
	if progress != nil {
		src = &progressReader{r: resp.Body, total: resp.ContentLength, fn: progress}
	}

	n, err := io.Copy(w, src)
	if err != nil {
		return n, classify(ctx, "read response body", err)
	}
	return n, nil
}

func (t *Transport) newRequest(ctx context.Context, r Request) (*http.Request, error) {
	body := r.Body
	if r.JSON != nil {
		data, err := json.Marshal(r.JSON)
		if err != nil {
			return nil, domain.TransportError("marshal request", err)
		}
		body = data
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, reader)
	if err != nil {
		return nil, domain.TransportError("create request", err)
	}

	req.Header.Set("User-Agent", userAgent)
	if r.JSON != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "*/*")
	}
	if r.Authenticated {
		if t.credential.IsZero() {
			return nil, domain.MissingCredential("authenticated request without an API token")
		}
		req.Header.Set("Authorization", "Bearer "+t.credential.Reveal())
	}

	return req, nil
}

// classify maps a client failure to Cancelled when the caller gave up,
// otherwise to a transport error.
func classify(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return domain.Cancelled(err)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.TransportError(op+": timed out", err)
	}
	return domain.TransportError(op, err)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}

// redactURL drops the query string, which carries signatures on
// pre-signed URLs.
func redactURL(raw string) string {
	base, _, _ := strings.Cut(raw, "?")
	return base
}

func excerpt(body []byte) string {
	if len(body) > excerptBytes {
		return string(body[:excerptBytes]) + "..."
	}
	return string(body)
}

type progressReader struct {
	r       io.Reader
	total   int64
	written int64
	fn      func(written, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.written += int64(n)
		p.fn(p.written, p.total)
	}
	return n, err
}

func statusText(code int) string {
	if text := http.StatusText(code); text != "" {
		return strconv.Itoa(code) + " " + text
	}
	return strconv.Itoa(code)
}
