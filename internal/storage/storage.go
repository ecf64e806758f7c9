package storage

import "errors"

var (
	ErrGalleryNotFound = errors.New("gallery not found")
	ErrImageNotFound   = errors.New("gallery image not found")
	ErrUpdateNotFound  = errors.New("twitter update not found")
	ErrSlugExists      = errors.New("slug already exists")
	ErrorNoSuchKey     = errors.New("no such key")
)

var (
	ErrFileTooLarge    = errors.New("file size exceeds limit")
	ErrInvalidFileType = errors.New("invalid file type")
	ErrFileNotFound    = errors.New("file not found")
)
