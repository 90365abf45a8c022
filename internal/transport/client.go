// Package transport is the single HTTP client used for every backend call.
// It attaches the current session token and ends the session on 401.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/model"
)

// HeaderRequestID carries the per-request trace ID.
const HeaderRequestID = "X-Request-ID"

// maxErrorBody bounds how much of an error response is read for its detail.
const maxErrorBody = 64 << 10

// Sessions is the part of the session store the client needs.
type Sessions interface {
	GetSession() (model.Session, bool)
	EndSession(ctx context.Context) error
}

// Client issues requests against the backend REST API.
type Client struct {
	baseURL  string
	http     *http.Client
	sessions Sessions
	log      zerolog.Logger
}

// NewClient builds a Client. httpClient may be nil, in which case a client
// with the given timeout is created.
func NewClient(baseURL string, timeout time.Duration, sessions Sessions, httpClient *http.Client, log zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     httpClient,
		sessions: sessions,
		log:      log.With().Str("component", "transport").Logger(),
	}
}

// FilePart is one file field of a multipart body.
type FilePart struct {
	Field       string
	FileName    string
	ContentType string
	Data        []byte
}

type requestOptions struct {
	jsonBody  any
	fields    map[string]string
	files     []FilePart
	multipart bool
	noAuth    bool
	query     map[string]string
}

// RequestOption customises a single request.
type RequestOption func(*requestOptions)

// WithJSON sends v as an application/json body.
func WithJSON(v any) RequestOption {
	return func(o *requestOptions) { o.jsonBody = v }
}

// WithMultipart sends fields and files as multipart/form-data.
func WithMultipart(fields map[string]string, files ...FilePart) RequestOption {
	return func(o *requestOptions) {
		o.multipart = true
		o.fields = fields
		o.files = files
	}
}

// WithQuery adds query parameters.
func WithQuery(params map[string]string) RequestOption {
	return func(o *requestOptions) { o.query = params }
}

// WithoutAuth never attaches a credential, even when a session exists.
func WithoutAuth() RequestOption {
	return func(o *requestOptions) { o.noAuth = true }
}

// Response is a successful (2xx) response with its body already read.
type Response struct {
	StatusCode int
	Body       []byte
	RequestID  string
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Do sends one request. A present session is attached as a bearer token; an
// absent one means the request goes out unauthenticated. A 401 on an
// authenticated request ends the session before ErrUnauthorized is returned;
// a 401 on an unauthenticated one (bad login) comes back as an APIError that
// still matches ErrUnauthorized.
func (c *Client) Do(ctx context.Context, method, path string, opts ...RequestOption) (*Response, error) {
	var o requestOptions
	for _, opt := range opts {
		opt(&o)
	}

	body, contentType, err := encodeBody(&o)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	if len(o.query) > 0 {
		q := req.URL.Query()
		for k, v := range o.query {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}

	reqID := uuid.New().String()
	req.Header.Set(HeaderRequestID, reqID)

	var sentToken string
	if !o.noAuth {
		if sess, ok := c.sessions.GetSession(); ok {
			sentToken = sess.Token
			req.Header.Set("Authorization", "Bearer "+sess.Token)
		}
	}

	reqLog := c.log.With().
		Str("method", method).
		Str("path", path).
		Str("request_id", reqID).
		Bool("authenticated", sentToken != "").
		Logger()

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		reqLog.Warn().Err(err).Msg("Request failed")
		return nil, &NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	reqLog.Debug().
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("Response received")

	// A 401 for a token that is no longer current says nothing about the
	// session that replaced it.
	if sentToken != "" && !c.sessionStillIs(sentToken) {
		reqLog.Info().Msg("Session changed while request was in flight, ignoring response")
		return nil, ErrSessionEnded
	}

	if resp.StatusCode == http.StatusUnauthorized && sentToken != "" {
		if err := c.sessions.EndSession(context.WithoutCancel(ctx)); err != nil {
			reqLog.Warn().Err(err).Msg("Ending session after 401 was degraded")
		}
		reqLog.Info().Msg("Unauthorized, session ended")
		return nil, ErrUnauthorized
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		detail := extractDetail(raw)
		if detail == "" {
			detail = statusText(resp.StatusCode)
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Detail: detail, RequestID: reqID}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: "read " + method + " " + path, Err: err}
	}
	return &Response{StatusCode: resp.StatusCode, Body: data, RequestID: reqID}, nil
}

// DoJSON sends a request and decodes a 2xx body into out (which may be nil).
func (c *Client) DoJSON(ctx context.Context, method, path string, out any, opts ...RequestOption) error {
	resp, err := c.Do(ctx, method, path, opts...)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.Decode(out)
}

func (c *Client) sessionStillIs(token string) bool {
	sess, ok := c.sessions.GetSession()
	return ok && sess.Token == token
}

func encodeBody(o *requestOptions) (io.Reader, string, error) {
	switch {
	case o.multipart:
		return encodeMultipart(o.fields, o.files)
	case o.jsonBody != nil:
		data, err := json.Marshal(o.jsonBody)
		if err != nil {
			return nil, "", fmt.Errorf("encode request: %w", err)
		}
		return bytes.NewReader(data), "application/json", nil
	default:
		return nil, "", nil
	}
}

func encodeMultipart(fields map[string]string, files []FilePart) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", k, err)
		}
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, f.Field, f.FileName))
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h.Set("Content-Type", ct)
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("create part %s: %w", f.Field, err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", fmt.Errorf("write part %s: %w", f.Field, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
