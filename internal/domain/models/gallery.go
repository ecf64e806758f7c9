package models

import (
	"math"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	MaxNameLength     = 63
	MaxSiteNameLength = 63
	MaxKeywordsLength = 255
	MaxHashLength     = 63
	MaxRating         = 9.9
)

// Gallery представляет собой одну присланную пользователем страницу галереи
type Gallery struct {
	ID           int64     `json:"id" db:"id"`                       // Уникальный идентификатор галереи
	Name         string    `json:"name" db:"name"`                   // Название (не длиннее 63 символов)
	Description  string    `json:"description" db:"description"`     // Описание галереи
	Keywords     string    `json:"keywords" db:"keywords"`           // Ключевые слова
	SiteName     string    `json:"site_name" db:"site_name"`         // Название сайта-источника
	Link         string    `json:"link" db:"link"`                   // Ссылка на исходную страницу
	Rating       *float64  `json:"rating,omitempty" db:"rating"`     // Рейтинг, одна цифра после запятой
	HashValue    string    `json:"hash_value" db:"hash_value"`       // Хэш содержимого страницы для поиска дублей
	CreatedAt    time.Time `json:"created_at" db:"created_at"`       // Дата создания, не меняется
	ThumbnailURL string    `json:"thumbnail_url" db:"thumbnail_url"` // Публичный URL обложки
	Slug         string    `json:"slug" db:"slug"`                   // Уникальный URL-идентификатор, назначается один раз
	Tags         []string  `json:"tags" db:"tags"`                   // Массив тегов
}

// Normalize truncates the length-bounded fields in place. Over-long values are
// cut, never rejected.
func (g *Gallery) Normalize() {
	g.Name = Truncate(g.Name, MaxNameLength)
	g.SiteName = Truncate(g.SiteName, MaxSiteNameLength)
	g.Keywords = Truncate(g.Keywords, MaxKeywordsLength)
	g.HashValue = Truncate(g.HashValue, MaxHashLength)
}

// Validate проверяет поля, которые нельзя исправить обрезанием
func (g *Gallery) Validate() error {
	var validationErrors []string

	if g.Name == "" {
		validationErrors = append(validationErrors, "name is required")
	}
	if g.Link == "" {
		validationErrors = append(validationErrors, "link is required")
	}
	if g.Rating != nil {
		if err := ValidateRating(*g.Rating); err != nil {
			validationErrors = append(validationErrors, err.Error())
		}
	}

	if len(validationErrors) > 0 {
		return &ValidationError{Errors: validationErrors}
	}

	return nil
}

// GalleryChange carries the stored gallery and its edited copy into an update.
type GalleryChange struct {
	Before Gallery
	After  Gallery
}

// ChangedFields returns the names of the editable fields that differ.
func (c GalleryChange) ChangedFields() []string {
	var fields []string

	if c.Before.Name != c.After.Name {
		fields = append(fields, "name")
	}
	if c.Before.Description != c.After.Description {
		fields = append(fields, "description")
	}
	if c.Before.Keywords != c.After.Keywords {
		fields = append(fields, "keywords")
	}
	if c.Before.SiteName != c.After.SiteName {
		fields = append(fields, "site_name")
	}
	if c.Before.Link != c.After.Link {
		fields = append(fields, "link")
	}
	if !sameRating(c.Before.Rating, c.After.Rating) {
		fields = append(fields, "rating")
	}
	if c.Before.HashValue != c.After.HashValue {
		fields = append(fields, "hash_value")
	}
	if c.Before.ThumbnailURL != c.After.ThumbnailURL {
		fields = append(fields, "thumbnail_url")
	}
	if !sameTags(c.Before.Tags, c.After.Tags) {
		fields = append(fields, "tags")
	}

	return fields
}

// RemovedGallery: ссылка, которую нельзя добавлять повторно
type RemovedGallery struct {
	ID        int64     `json:"id" db:"id"`
	Link      string    `json:"link" db:"link"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Rating: оценка галереи одним пользователем
type Rating struct {
	ID        int64     `json:"id" db:"id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	GalleryID int64     `json:"gallery_id" db:"gallery_id"`
	Value     float64   `json:"value" db:"value"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// ValidateRating checks the value fits a one-integer-digit, one-decimal
// number in [0.0, 9.9].
func ValidateRating(v float64) error {
	if math.IsNaN(v) || v < 0 || v > MaxRating {
		return &ValidationError{Errors: []string{"rating must be between 0.0 and 9.9"}}
	}

	return nil
}

// RoundRating rounds to the single decimal digit the store keeps.
func RoundRating(v float64) float64 {
	return math.Round(v*10) / 10
}

// Truncate cuts s to at most limit characters (runes).
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}

	runes := []rune(s)

	return string(runes[:limit])
}

func sameRating(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}

	return *a == *b
}

func sameTags(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
