// Package keys canonicalizes filter requests and derives cache keys from them.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/mohammed-shakir/gamedata-cache/internal/core/model"
)

const PlatformDirectoryKey = "rawg:platforms:" + model.PlatformDirectoryVersion

var supportedTags = func() map[string]struct{} {
	m := make(map[string]struct{}, len(model.SupportedTags))
	for _, t := range model.SupportedTags {
		m[NormalizeValue(t.Slug)] = struct{}{}
	}
	return m
}()

// Canonicalize normalizes f so that logically equal requests compare equal.
func Canonicalize(f model.FetchFilters) model.CanonicalFilters {
	tags := make([]string, 0, len(f.Tags))
	for _, t := range normalizeList(f.Tags) {
		if _, ok := supportedTags[t]; ok {
			tags = append(tags, t)
		}
	}

	page := 1
	if f.Page != nil && *f.Page > 0 {
		page = *f.Page
	}

	return model.CanonicalFilters{
		Genres:          normalizeList(f.Genres),
		Platforms:       normalizeList(f.Platforms),
		ParentPlatforms: normalizeList(f.ParentPlatforms),
		Tags:            tags,
		ReleasedFrom:    trimmedPtr(f.ReleasedFrom),
		ReleasedTo:      trimmedPtr(f.ReleasedTo),
		Page:            page,
		PageSize:        model.DefaultPageSize,
	}
}

// DatasetKey hashes the canonical filters into a namespaced key.
func DatasetKey(c model.CanonicalFilters) (key, hash string) {
	b, err := json.Marshal(nonNil(c))
	if err != nil {
		// only plain strings and ints; marshal cannot fail
		panic(fmt.Sprintf("keys: marshal canonical filters: %v", err))
	}
	sum := sha256.Sum256(b)
	hash = hex.EncodeToString(sum[:])
	return model.DatasetNamespace + ":" + hash, hash
}

// PageKey scopes a dataset key to one upstream page.
func PageKey(datasetKey string, page int) string {
	return fmt.Sprintf("%s:p%d", datasetKey, page)
}

// NormalizeValue trims, lower-cases and turns whitespace runs into a hyphen.
func NormalizeValue(s string) string {
	return collapseWhitespace(strings.ToLower(strings.TrimSpace(s)), '-')
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		for chunk := range strings.SplitSeq(v, ",") {
			chunk = strings.TrimSpace(chunk)
			if chunk == "" {
				continue
			}
			out = append(out, NormalizeValue(chunk))
		}
	}
	sort.Strings(out)
	return out
}

func trimmedPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// lists must serialize as [] and never null
func nonNil(c model.CanonicalFilters) model.CanonicalFilters {
	if c.Genres == nil {
		c.Genres = []string{}
	}
	if c.Platforms == nil {
		c.Platforms = []string{}
	}
	if c.ParentPlatforms == nil {
		c.ParentPlatforms = []string{}
	}
	if c.Tags == nil {
		c.Tags = []string{}
	}
	return c
}

// converts any run of unicode whitespace to a single sep rune.
func collapseWhitespace(s string, sep rune) string {
	var b strings.Builder
	b.Grow(len(s))
	wasWS := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !wasWS {
				b.WriteRune(sep)
				wasWS = true
			}
			continue
		}
		b.WriteRune(r)
		wasWS = false
	}
	return b.String()
}
