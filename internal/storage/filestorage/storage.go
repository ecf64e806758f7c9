package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"os"
	"path"
	"path/filepath"
	"strings"

	"galleria/internal/storage"
)

// FileStorage интерфейс для работы с файловым хранилищем
type FileStorage interface {
	Save(ctx context.Context, file *multipart.FileHeader, subPath string) (filePath string, fileSize int64, err error)
	Write(ctx context.Context, relativePath string, r io.Reader) (int64, error)
	Open(ctx context.Context, relativePath string) (io.ReadCloser, error)
	Delete(ctx context.Context, filePath string) error
	PublicURL(storedPath string) string
	GetFullPath(relativePath string) string
	BaseURL() string
	GetBaseDir() string
}

// LocalFileStorage реализация для локальной файловой системы
type LocalFileStorage struct {
	baseDir string // Базовый каталог для хранения (например: "./media")
	baseURL string // Базовый URL для доступа к файлам (например: "http://localhost:8080/media")
	maxSize int64  // Максимальный размер загружаемого файла, 0 без ограничения
}

func NewLocalFileStorage(baseDir, baseURL string, maxSize int64) (*LocalFileStorage, error) {
	// Создаем директорию, если она не существует
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}

	return &LocalFileStorage{
		baseDir: filepath.Clean(baseDir),
		baseURL: strings.TrimRight(baseURL, "/"),
		maxSize: maxSize,
	}, nil
}

// Save copies an uploaded file to <baseDir>/<subPath>/<filename> and returns
// the path relative to baseDir. An existing file is never replaced: the name
// gets a random suffix until a free one is reserved.
func (s *LocalFileStorage) Save(ctx context.Context, file *multipart.FileHeader, subPath string) (string, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	if s.maxSize > 0 && file.Size > s.maxSize {
		return "", 0, storage.ErrFileTooLarge
	}

	src, err := file.Open()
	if err != nil {
		return "", 0, fmt.Errorf("failed to open source file: %w", err)
	}
	defer src.Close()

	relativePath, err := s.reserve(subPath, filepath.Base(file.Filename))
	if err != nil {
		return "", 0, err
	}

	size, err := s.Write(ctx, relativePath, src)
	if err != nil {
		_ = os.Remove(s.GetFullPath(relativePath))
		return "", 0, err
	}

	return relativePath, size, nil
}

// reserve atomically creates an empty placeholder under a name nobody else
// holds; Write later renames the real content over it.
func (s *LocalFileStorage) reserve(subPath, name string) (string, error) {
	dir := s.GetFullPath(subPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directories: %w", err)
	}

	candidate := name
	for i := 0; i < storage.MaxNameAttempts; i++ {
		f, err := os.OpenFile(filepath.Join(dir, candidate), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			f.Close()
			return filepath.Join(subPath, candidate), nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("failed to create destination file: %w", err)
		}

		candidate = storage.AlternativeName(name)
	}

	return "", fmt.Errorf("no free name for %s in %s", name, subPath)
}

// Write stores r under relativePath, replacing any previous file. Data goes
// to a temporary file first and is renamed into place, so readers never see a
// partially written file.
func (s *LocalFileStorage) Write(ctx context.Context, relativePath string, r io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	filePath := s.GetFullPath(relativePath)

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return 0, fmt.Errorf("failed to create directories: %w", err)
	}

	// Создаем временный файл рядом с целевым
	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create destination file: %w", err)
	}
	tmpName := tmp.Name()

	done := make(chan struct{})
	var size int64
	var copyErr error

	go func() {
		size, copyErr = io.Copy(tmp, r)
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		<-done
		tmp.Close()
		_ = os.Remove(tmpName)
		return 0, ctx.Err()
	}

	if closeErr := tmp.Close(); copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("failed to copy file: %w", copyErr)
	}

	if err := os.Rename(tmpName, filePath); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("failed to move file into place: %w", err)
	}

	return size, nil
}

// Open открывает сохраненный файл на чтение
func (s *LocalFileStorage) Open(ctx context.Context, relativePath string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.GetFullPath(relativePath))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", relativePath, storage.ErrFileNotFound)
		}
		return nil, err
	}

	return f, nil
}

// Delete удаляет файл из хранилища
func (s *LocalFileStorage) Delete(ctx context.Context, filePath string) error {
	fullPath := filepath.Join(s.baseDir, filePath)
	return os.Remove(fullPath)
}

// PublicURL maps a stored path to its public URL by replacing the storage
// root with the public root. Both relative paths and paths that still carry
// the storage root are accepted.
func (s *LocalFileStorage) PublicURL(storedPath string) string {
	rel := filepath.ToSlash(filepath.Clean(storedPath))
	root := filepath.ToSlash(s.baseDir)

	if root != "." && (rel == root || strings.HasPrefix(rel, root+"/")) {
		rel = strings.TrimPrefix(rel, root)
	}

	return s.baseURL + "/" + strings.TrimLeft(path.Clean("/"+rel), "/")
}

// GetFullPath возвращает полный путь к файлу на диске
func (s *LocalFileStorage) GetFullPath(relativePath string) string {
	return filepath.Join(s.baseDir, relativePath)
}

// BaseURL возвращает базовый URL для доступа к файлам
func (s *LocalFileStorage) BaseURL() string {
	return s.baseURL
}

func (s *LocalFileStorage) GetBaseDir() string {
	return s.baseDir
}
