// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package collaborators

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultWikipediaAPI  = "https://en.wikipedia.org/w/api.php"
	defaultWikipediaREST = "https://en.wikipedia.org/api/rest_v1"
	wikipediaUserAgent   = "ProjectInocula/1.0 (https://github.com/AleutianAI/inocula)"
	wikipediaSource      = "Wikipedia"
)

// WikipediaConfig configures WikipediaLookup. Zero values use en.wikipedia.org.
type WikipediaConfig struct {
	APIURL     string
	RESTURL    string
	HTTPClient *http.Client
}

// WikipediaLookup is a FactLookup backed by Wikipedia search and page summaries.
type WikipediaLookup struct {
	apiURL     string
	restURL    string
	httpClient *http.Client
}

// NewWikipediaLookup creates a WikipediaLookup.
func NewWikipediaLookup(cfg WikipediaConfig) *WikipediaLookup {
	if cfg.APIURL == "" {
		cfg.APIURL = defaultWikipediaAPI
	}
	if cfg.RESTURL == "" {
		cfg.RESTURL = defaultWikipediaREST
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &WikipediaLookup{
		apiURL:     cfg.APIURL,
		restURL:    strings.TrimSuffix(cfg.RESTURL, "/"),
		httpClient: cfg.HTTPClient,
	}
}

type wikiSearchResponse struct {
	Query struct {
		Search []struct {
			Title string `json:"title"`
		} `json:"search"`
	} `json:"query"`
}

type wikiSummaryResponse struct {
	Title       string `json:"title"`
	Extract     string `json:"extract"`
	ContentURLs struct {
		Desktop struct {
			Page string `json:"page"`
		} `json:"desktop"`
	} `json:"content_urls"`
}

// Lookup implements FactLookup.
//
// The top search hit's summary is returned. No hit, or a page without an
// extract, is (nil, nil).
func (w *WikipediaLookup) Lookup(ctx context.Context, query string) (*Fact, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	params := url.Values{}
	params.Set("action", "query")
	params.Set("list", "search")
	params.Set("srsearch", query)
	params.Set("srlimit", "1")
	params.Set("format", "json")

	var search wikiSearchResponse
	if err := w.getJSON(ctx, w.apiURL+"?"+params.Encode(), &search); err != nil {
		return nil, fmt.Errorf("wikipedia search: %w", err)
	}
	if len(search.Query.Search) == 0 {
		return nil, nil
	}
	title := search.Query.Search[0].Title

	var summary wikiSummaryResponse
	summaryURL := w.restURL + "/page/summary/" + url.PathEscape(strings.ReplaceAll(title, " ", "_"))
	if err := w.getJSON(ctx, summaryURL, &summary); err != nil {
		return nil, fmt.Errorf("wikipedia summary %q: %w", title, err)
	}
	if strings.TrimSpace(summary.Extract) == "" {
		return nil, nil
	}

	return &Fact{
		Source:    wikipediaSource,
		Title:     title,
		Summary:   summary.Extract,
		SourceURL: summary.ContentURLs.Desktop.Page,
	}, nil
}

func (w *WikipediaLookup) getJSON(ctx context.Context, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", wikipediaUserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := readBody(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode, Body: truncateBody(body)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return nil
}

var _ FactLookup = (*WikipediaLookup)(nil)
