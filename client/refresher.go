package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HTTPRefresher exchanges refresh tokens against a POST /auth/refresh endpoint.
type HTTPRefresher struct {
	// URL of the refresh endpoint.
	URL string
	// Client sends the exchange. It must not be a client built on a Transport
	// backed by the same Gate. http.DefaultClient when nil.
	Client *http.Client
	// Header is added to every exchange, e.g. an Origin for non-browser callers.
	Header http.Header
}

func (h *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (Pair, error) {
	payload, err := json.Marshal(struct {
		RefreshToken string `json:"refreshToken"`
	}{refreshToken})
	if err != nil {
		return Pair{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(payload))
	if err != nil {
		return Pair{}, err
	}
	for k, vs := range h.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	hc := h.Client
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return Pair{}, fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		var pair Pair
		if err := json.NewDecoder(resp.Body).Decode(&pair); err != nil {
			return Pair{}, fmt.Errorf("decode refresh response: %w", err)
		}
		return pair, nil
	}

	var body struct {
		Error struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
	_ = json.Unmarshal(raw, &body)
	return Pair{}, &RefreshError{Status: resp.StatusCode, Kind: body.Error.Kind, Message: body.Error.Message}
}
