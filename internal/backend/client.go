// Package backend talks to a hosted auth + object storage service (the
// GoTrue / Storage REST dialect) on behalf of the server.
//
// Every request carries the elevated service key twice: as the "apikey"
// header the gateway routes on, and as a bearer token injected by an
// oauth2 static token source. The key never leaves the server.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/TotemHolder-js/EchoShock/internal/apperror"
)

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

// apiKeyTransport adds the gateway's apikey header.
type apiKeyTransport struct {
	key  string
	base http.RoundTripper
}

func (t *apiKeyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("apikey", t.key)
	return t.base.RoundTrip(r)
}

// New builds a client for baseURL. base may be nil, in which case
// http.DefaultClient's transport is used.
func New(baseURL, serviceKey string, base *http.Client) *Client {
	if base == nil {
		base = &http.Client{Timeout: 15 * time.Second}
	}
	transport := base.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	// oauth2.NewClient picks up the underlying client from the context.
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{
		Transport: &apiKeyTransport{key: serviceKey, base: transport},
		Timeout:   base.Timeout,
	})
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: serviceKey,
		TokenType:   "Bearer",
	}))
	httpClient.Timeout = base.Timeout

	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// apiError is the error body shape; the service is not consistent about
// which fields it fills.
type apiError struct {
	Code             any    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

func (e apiError) text() string {
	for _, s := range []string{e.Msg, e.Message, e.ErrorDescription, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

// response is a fully read HTTP response.
type response struct {
	status int
	body   []byte
}

func (r response) decodeError() apiError {
	var e apiError
	_ = json.Unmarshal(r.body, &e)
	return e
}

// do sends a request and reads the whole body. Transport failures come back
// as upstream errors; HTTP error statuses are returned for the caller to map.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, header http.Header) (response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return response{}, fmt.Errorf("backend: building request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return response{}, apperror.Upstream(apperror.CodeUpstreamFailure,
			"the account service is unavailable, please try again", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return response{}, apperror.Upstream(apperror.CodeUpstreamFailure,
			"the account service is unavailable, please try again", err)
	}
	return response{status: resp.StatusCode, body: data}, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any) (response, error) {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return response{}, fmt.Errorf("backend: encoding request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	return c.do(ctx, method, path, body, "application/json", nil)
}

func unexpected(op string, r response) error {
	return apperror.Upstream(apperror.CodeUpstreamFailure,
		"the account service returned an unexpected error",
		fmt.Errorf("backend: %s: status %d: %s", op, r.status, r.decodeError().text()))
}
