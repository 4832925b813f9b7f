package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const (
	kindExpired   = "expired"
	kindRevoked   = "revoked"
	kindMalformed = "malformed"
	maxErrBody    = 64 << 10
)

// Transport is an http.RoundTripper that authenticates requests through a Gate.
//
// A 401 whose error kind is "expired", or that carries no kind, renews the
// credentials and replays the request exactly once. A 401 of kind "revoked" or
// "malformed" signs the gate out; it and any other 401 is handed back to the
// caller untouched.
type Transport struct {
	Gate *Gate
	// Base performs the requests; http.DefaultTransport when nil.
	Base http.RoundTripper
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, ok := t.Gate.AccessToken()
	if !ok {
		return nil, ErrUnauthenticated
	}

	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		body, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, err
		}
		req = req.Clone(req.Context())
		req.Body = io.NopCloser(bytes.NewReader(body))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}

	resp, err := t.base().RoundTrip(authorized(req, token))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}

	kind, err := peekKind(resp)
	if err != nil {
		return nil, err
	}
	switch kind {
	case "", kindExpired:
	case kindRevoked, kindMalformed:
		t.Gate.Invalidate(token, fmt.Errorf("%w: %s", ErrCredentialRejected, kind))
		return resp, nil
	default:
		return resp, nil
	}
	_ = resp.Body.Close()

	fresh, err := t.Gate.Renew(req.Context(), token)
	if err != nil {
		return nil, err
	}

	replay := authorized(req, fresh)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		replay.Body = body
	}
	return t.base().RoundTrip(replay)
}

func authorized(req *http.Request, token string) *http.Request {
	out := req.Clone(req.Context())
	out.Header.Set("Authorization", "Bearer "+token)
	return out
}

// peekKind reads the error kind from a 401 body and restores the body.
func peekKind(resp *http.Response) (string, error) {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
	_ = resp.Body.Close()
	if err != nil {
		return "", err
	}
	resp.Body = io.NopCloser(bytes.NewReader(raw))

	var body struct {
		Error struct {
			Kind string `json:"kind"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &body) != nil {
		return "", nil
	}
	return body.Error.Kind, nil
}
