package dto

import (
	"strings"

	"galleria/internal/domain/models"

	"github.com/google/uuid"
)

type CreateGalleryRequest struct {
	Name        string   `json:"name" validate:"required"`
	Description string   `json:"description"`
	Keywords    string   `json:"keywords"`
	SiteName    string   `json:"site_name"`
	Link        string   `json:"link" validate:"required,url"`
	Rating      *float64 `json:"rating,omitempty" validate:"omitempty,min=0,max=9.9"`
	HashValue   string   `json:"hash_value,omitempty"`
	Tags        []string `json:"tags"`
	// PageContent: содержимое исходной страницы, из него считается HashValue
	PageContent string `json:"page_content,omitempty"`
}

// ToDomain собирает галерею из запроса; длины обрезаются позже в Normalize
func (r CreateGalleryRequest) ToDomain() models.Gallery {
	return models.Gallery{
		Name:        strings.TrimSpace(r.Name),
		Description: r.Description,
		Keywords:    r.Keywords,
		SiteName:    r.SiteName,
		Link:        strings.TrimSpace(r.Link),
		Rating:      r.Rating,
		HashValue:   r.HashValue,
		Tags:        NormalizeTags(r.Tags),
	}
}

// UpdateGalleryRequest is a partial edit: nil fields stay as stored.
type UpdateGalleryRequest struct {
	Name         *string   `json:"name,omitempty" validate:"omitempty,min=1"`
	Description  *string   `json:"description,omitempty"`
	Keywords     *string   `json:"keywords,omitempty"`
	SiteName     *string   `json:"site_name,omitempty"`
	Link         *string   `json:"link,omitempty" validate:"omitempty,url"`
	Rating       *float64  `json:"rating,omitempty" validate:"omitempty,min=0,max=9.9"`
	ThumbnailURL *string   `json:"thumbnail_url,omitempty"`
	Tags         *[]string `json:"tags,omitempty"`
}

// Apply returns a copy of g with the request's fields applied.
func (r UpdateGalleryRequest) Apply(g models.Gallery) models.Gallery {
	if r.Name != nil {
		g.Name = strings.TrimSpace(*r.Name)
	}
	if r.Description != nil {
		g.Description = *r.Description
	}
	if r.Keywords != nil {
		g.Keywords = *r.Keywords
	}
	if r.SiteName != nil {
		g.SiteName = *r.SiteName
	}
	if r.Link != nil {
		g.Link = strings.TrimSpace(*r.Link)
	}
	if r.Rating != nil {
		v := *r.Rating
		g.Rating = &v
	}
	if r.ThumbnailURL != nil {
		g.ThumbnailURL = *r.ThumbnailURL
	}
	if r.Tags != nil {
		g.Tags = NormalizeTags(*r.Tags)
	} else if g.Tags != nil {
		g.Tags = append([]string(nil), g.Tags...)
	}

	return g
}

type RateGalleryRequest struct {
	UserID uuid.UUID `json:"user_id" validate:"required"`
	Value  float64   `json:"value" validate:"min=0,max=9.9"`
}

type RatingSummary struct {
	GalleryID int64   `json:"gallery_id"`
	Average   float64 `json:"average"`
	Count     int     `json:"count"`
}

type GalleryListResponse struct {
	Galleries []models.Gallery `json:"galleries"`
	Total     int              `json:"total"`
	Page      int              `json:"page"`
	PerPage   int              `json:"per_page"`
}

// NormalizeTags trims tags, drops empty ones and duplicates that differ only
// in case. The first spelling wins.
func NormalizeTags(tags []string) []string {
	if tags == nil {
		return nil
	}

	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))

	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}

	return out
}
