package model

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const DateLayout = "2006-01-02"

// Validate checks caller-supplied bounds before canonicalization.
func (f FetchFilters) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Page, validation.Min(1), validation.Max(MaxPage)),
		validation.Field(&f.PageSize, validation.Min(1), validation.Max(DefaultPageSize)),
		validation.Field(&f.ReleasedFrom, validation.Date(DateLayout)),
		validation.Field(&f.ReleasedTo, validation.Date(DateLayout)),
	)
}

func (f CanonicalFilters) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Genres, validation.NotNil),
		validation.Field(&f.Platforms, validation.NotNil),
		validation.Field(&f.ParentPlatforms, validation.NotNil),
		validation.Field(&f.Tags, validation.NotNil),
		validation.Field(&f.Page, validation.Required, validation.Min(1)),
		validation.Field(&f.PageSize, validation.Required, validation.Min(1)),
	)
}

func (g Game) Validate() error {
	return validation.ValidateStruct(&g,
		validation.Field(&g.ID, validation.Required),
		validation.Field(&g.Name, validation.Required),
	)
}

func (r PageRecord) RecordVersion() string { return r.Version }
func (r PageRecord) Expiry() time.Time     { return r.ExpiresAt }

func (r PageRecord) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Version, validation.Required),
		validation.Field(&r.Key, validation.Required),
		validation.Field(&r.Filters),
		validation.Field(&r.Page, validation.Required, validation.Min(1)),
		validation.Field(&r.TotalPages, validation.Required, validation.Min(r.Page)),
		validation.Field(&r.FetchedAt, validation.Required),
		validation.Field(&r.ExpiresAt, validation.Required),
		validation.Field(&r.Items, validation.NotNil),
	)
}

func (r DatasetRecord) RecordVersion() string { return r.Version }
func (r DatasetRecord) Expiry() time.Time     { return r.ExpiresAt }
func (r DatasetRecord) Validate() error       { return PageRecord(r).Validate() }

func (r PlatformDirectoryRecord) RecordVersion() string { return r.Version }
func (r PlatformDirectoryRecord) Expiry() time.Time     { return r.ExpiresAt }

func (r PlatformDirectoryRecord) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Version, validation.Required),
		validation.Field(&r.Platforms, validation.NotNil),
		validation.Field(&r.FetchedAt, validation.Required),
		validation.Field(&r.ExpiresAt, validation.Required),
	)
}
