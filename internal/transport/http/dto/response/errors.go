package response

var (
	ErrInvalidRequestFormat = ErrorResponse{
		Status:  "error",
		Error:   "invalid_request",
		Details: "Invalid request format",
	}

	ErrInternal = ErrorResponse{
		Status:  "error",
		Error:   "internal_error",
		Details: "Internal server error",
	}

	ErrGalleryNotFound = ErrorResponse{
		Status:  "error",
		Error:   "gallery_not_found",
		Details: "Gallery not found",
	}

	ErrImageNotFound = ErrorResponse{
		Status:  "error",
		Error:   "image_not_found",
		Details: "Image not found",
	}

	ErrLinkRemoved = ErrorResponse{
		Status:  "error",
		Error:   "link_removed",
		Details: "This link was removed and cannot be submitted again",
	}

	ErrDuplicateGallery = ErrorResponse{
		Status:  "error",
		Error:   "duplicate_gallery",
		Details: "A gallery with the same content already exists",
	}

	ErrSlugConflict = ErrorResponse{
		Status:  "error",
		Error:   "slug_conflict",
		Details: "Could not allocate a unique slug",
	}

	ErrInvalidImage = ErrorResponse{
		Status:  "error",
		Error:   "invalid_image",
		Details: "Unsupported or unreadable image",
	}

	ErrFileTooLarge = ErrorResponse{
		Status:  "error",
		Error:   "file_too_large",
		Details: "Uploaded file exceeds the size limit",
	}
)
