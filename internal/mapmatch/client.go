// Package mapmatch is the external map-matching service client (orig
// spec §1 "Out of scope: the map-matching service itself" — only the
// client-side interface is specified here). Grounded on the teacher's
// controller/internal/controller/controller.go HMAC-signing HTTP client
// pattern, generalized to a JSON REST client instead of the etcd-sync
// protocol.
package mapmatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pathmark/pathmark/internal/model"
)

// Client corrects a raw GPS path against a road network (orig spec §4.5
// path correction).
type Client interface {
	// Enabled reports whether a map-matching service is configured; when
	// false, callers set correction status SKIPPED without calling Match.
	Enabled() bool
	Match(ctx context.Context, points []model.GeoPoint) (MatchResult, error)
}

// MatchResult is the corrected path plus a confidence score.
type MatchResult struct {
	CorrectedPath []model.GeoPoint
	Quality       float64
}

// HTTPClient is the production Client, talking to a configured external
// service over JSON.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	enabled bool
}

// NewHTTPClient builds a Client. When enabled is false, Match is never
// called by internal/trip — the correction is marked SKIPPED immediately.
func NewHTTPClient(baseURL, apiKey string, enabled bool) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
		enabled: enabled,
	}
}

func (c *HTTPClient) Enabled() bool { return c.enabled }

type matchRequest struct {
	Points [][2]float64 `json:"points"` // [lat, lon] per orig spec §4.5 boundary swap
}

type matchResponse struct {
	Points  [][2]float64 `json:"points"`
	Quality float64      `json:"quality"`
}

func (c *HTTPClient) Match(ctx context.Context, points []model.GeoPoint) (MatchResult, error) {
	reqBody := matchRequest{Points: make([][2]float64, len(points))}
	for i, p := range points {
		reqBody.Points[i] = [2]float64{p.Latitude, p.Longitude}
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return MatchResult{}, fmt.Errorf("marshal match request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/match", bytes.NewReader(body))
	if err != nil {
		return MatchResult{}, fmt.Errorf("build match request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return MatchResult{}, fmt.Errorf("call map-matching service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return MatchResult{}, fmt.Errorf("map-matching service returned status %d", resp.StatusCode)
	}

	var out matchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return MatchResult{}, fmt.Errorf("decode match response: %w", err)
	}

	result := MatchResult{Quality: out.Quality, CorrectedPath: make([]model.GeoPoint, len(out.Points))}
	for i, p := range out.Points {
		result.CorrectedPath[i] = model.GeoPoint{Latitude: p[0], Longitude: p[1]}
	}
	return result, nil
}
