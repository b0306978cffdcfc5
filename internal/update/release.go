// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

// Package update checks the project's release feed for a newer version.
package update

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultReleaseURL = "https://api.github.com/repos/Munyaradzi-Chigangawa/EmuHub/releases/latest"
	acceptHeader      = "application/vnd.github+json"
	userAgent         = "emuhub"
	requestTimeout    = 10 * time.Second
)

var tracer = otel.Tracer("emuhub")

type Asset struct {
	Name        string `json:"name"`
	DownloadURL string `json:"browser_download_url"`
}

type Release struct {
	TagName string  `json:"tag_name"`
	Name    string  `json:"name"`
	HTMLURL string  `json:"html_url"`
	Assets  []Asset `json:"assets"`
}

// Result is the outcome of comparing the running version with the latest release.
type Result struct {
	CurrentVersion   string `json:"current_version"`
	LatestVersion    string `json:"latest_version"`
	ReleaseName      string `json:"release_name,omitempty"`
	ReleaseNotesURL  string `json:"release_notes_url"`
	DownloadURL      string `json:"download_url,omitempty"`
	HasUpdate        bool   `json:"has_update"`
	// DevelopmentBuild is set when current carries no version number
	// (e.g. "dev"); HasUpdate is then always false.
	DevelopmentBuild bool   `json:"development_build,omitempty"`
}

type Checker struct {
	url  string
	http *http.Client
}

// NewChecker builds a Checker for url. An empty url means DefaultReleaseURL
// and a nil client gets a 10s timeout.
func NewChecker(url string, client *http.Client) *Checker {
	if strings.TrimSpace(url) == "" {
		url = DefaultReleaseURL
	}
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	return &Checker{url: url, http: client}
}

// Latest fetches the latest release metadata.
func (c *Checker) Latest(ctx context.Context) (Release, error) {
	ctx, span := tracer.Start(ctx, "update.Latest", trace.WithAttributes(attribute.String("url", c.url)))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		span.RecordError(err)
		return Release{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		netErr := &NetworkError{URL: c.url, Err: err}
		span.RecordError(netErr)
		return Release{}, netErr
	}
	defer func() { _ = resp.Body.Close() }()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		invalid := &InvalidResponseError{Status: resp.StatusCode}
		span.RecordError(invalid)
		return Release{}, invalid
	}

	var release Release
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		invalid := &InvalidResponseError{Status: resp.StatusCode, Err: err}
		span.RecordError(invalid)
		return Release{}, invalid
	}
	if strings.TrimSpace(release.TagName) == "" {
		invalid := &InvalidResponseError{Status: resp.StatusCode, Err: errors.New("release has no tag_name")}
		span.RecordError(invalid)
		return Release{}, invalid
	}
	span.SetAttributes(attribute.String("tag", release.TagName))
	return release, nil
}

// Check reports whether the latest release is newer than current.
func (c *Checker) Check(ctx context.Context, current string) (Result, error) {
	release, err := c.Latest(ctx)
	if err != nil {
		return Result{}, err
	}
	latest := Normalize(release.TagName)
	res := Result{
		CurrentVersion:  current,
		LatestVersion:   latest,
		ReleaseName:     release.Name,
		ReleaseNotesURL: release.HTMLURL,
	}
	if IsRelease(current) {
		res.HasUpdate = Compare(current, latest) == Less
	} else {
		res.DevelopmentBuild = true
	}
	if asset, ok := PreferredAsset(release.Assets); ok {
		res.DownloadURL = asset.DownloadURL
	}
	return res, nil
}

// PreferredAsset picks the first asset that looks like a macOS build or an
// archive, falling back to the first asset.
func PreferredAsset(assets []Asset) (Asset, bool) {
	if len(assets) == 0 {
		return Asset{}, false
	}
	for _, a := range assets {
		name := strings.ToLower(a.Name)
		if strings.Contains(name, "mac") || strings.HasSuffix(name, ".zip") || strings.HasSuffix(name, ".zim") {
			return a, true
		}
	}
	return assets[0], true
}
