// Package model defines core domain types shared across the service.
package model

import "time"

const (
	DefaultPageSize = 40
	MaxPage         = 40

	DatasetVersion   = "v1"
	DatasetNamespace = "rawg:games:" + DatasetVersion

	PlatformDirectoryVersion = "v1"
)

// TagInfo is one entry of the supported tag catalog.
type TagInfo struct {
	Slug        string `json:"slug"`
	Description string `json:"description"`
}

// SupportedTags is the closed set of tags accepted as filters.
var SupportedTags = []TagInfo{
	{Slug: "singleplayer", Description: "Focus on solo play experiences."},
	{Slug: "multiplayer", Description: "Supports cooperative or competitive multiplayer."},
	{Slug: "exclusive", Description: "Titles limited to a specific platform or ecosystem."},
}

// FetchFilters is the raw caller request. List entries may be comma-joined.
type FetchFilters struct {
	Genres          []string `json:"genres,omitempty"`
	Platforms       []string `json:"platforms,omitempty"`
	ParentPlatforms []string `json:"parentPlatforms,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	ReleasedFrom    *string  `json:"releasedFrom,omitempty"`
	ReleasedTo      *string  `json:"releasedTo,omitempty"`
	Page            *int     `json:"page,omitempty"`
	PageSize        *int     `json:"pageSize,omitempty"`
}

// CanonicalFilters is the normalized filter set used for cache identity.
// Field order is part of the key derivation and must not change.
type CanonicalFilters struct {
	Genres          []string `json:"genres"`
	Platforms       []string `json:"platforms"`
	ParentPlatforms []string `json:"parentPlatforms"`
	Tags            []string `json:"tags"`
	ReleasedFrom    *string  `json:"releasedFrom,omitempty"`
	ReleasedTo      *string  `json:"releasedTo,omitempty"`
	Page            int      `json:"page"`
	PageSize        int      `json:"pageSize"`
}

// WithPage returns a deep copy of f targeting another page.
func (f CanonicalFilters) WithPage(page int) CanonicalFilters {
	out := f
	out.Genres = append([]string{}, f.Genres...)
	out.Platforms = append([]string{}, f.Platforms...)
	out.ParentPlatforms = append([]string{}, f.ParentPlatforms...)
	out.Tags = append([]string{}, f.Tags...)
	if f.ReleasedFrom != nil {
		v := *f.ReleasedFrom
		out.ReleasedFrom = &v
	}
	if f.ReleasedTo != nil {
		v := *f.ReleasedTo
		out.ReleasedTo = &v
	}
	out.Page = page
	return out
}

type Genre struct {
	ID   int64  `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

type Platform struct {
	ID   int64  `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

type PlatformEntry struct {
	Platform Platform `json:"platform"`
}

// Game is one catalog item. ID is unique within a dataset.
type Game struct {
	ID         int64           `json:"id"`
	Slug       string          `json:"slug"`
	Name       string          `json:"name"`
	Released   *string         `json:"released"`
	Metacritic *float64        `json:"metacritic"`
	Rating     *float64        `json:"rating"`
	Genres     []Genre         `json:"genres"`
	Platforms  []PlatformEntry `json:"platforms"`
}

// PageRecord is a single upstream page as persisted in the store.
type PageRecord struct {
	Version    string           `json:"version"`
	Key        string           `json:"key"`
	Filters    CanonicalFilters `json:"filters"`
	Page       int              `json:"page"`
	TotalPages int              `json:"totalPages"`
	Count      int              `json:"count"`
	FetchedAt  time.Time        `json:"fetchedAt"`
	ExpiresAt  time.Time        `json:"expiresAt"`
	Items      []Game           `json:"items"`
}

// DatasetRecord is the deduplicated union of all pages of one dataset key.
type DatasetRecord PageRecord

type PlatformDirectoryRecord struct {
	Version   string     `json:"version"`
	FetchedAt time.Time  `json:"fetchedAt"`
	ExpiresAt time.Time  `json:"expiresAt"`
	Platforms []Platform `json:"platforms"`
}

type CacheStatus string

const (
	CacheHit     CacheStatus = "hit"
	CacheMiss    CacheStatus = "miss"
	CacheRefresh CacheStatus = "refresh"
)
