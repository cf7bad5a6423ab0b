package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/campaign-lens/backend/internal/models"
	"github.com/google/uuid"
)

var (
	ErrNotFound     = errors.New("file not found")
	ErrFileTooLarge = errors.New("file exceeds maximum upload size")
	ErrInvalidID    = errors.New("invalid upload id")
)

// Store defines the interface for report file storage.
type Store interface {
	Save(name, mediaType string, r io.Reader) (*models.FileInfo, error)
	SaveBytes(name, mediaType string, data []byte) (*models.FileInfo, error)
	Get(id string) (*models.FileInfo, error)
	ReadFile(id string) ([]byte, error)
	List(limit int) ([]*models.FileInfo, error)
	Delete(id string) error
	SetStatus(id, status string)
	GetFilePath(id string) (string, error)
	SaveChunk(uploadID string, chunkIndex int, r io.Reader) error
	SaveChunkBytes(uploadID string, chunkIndex int, data []byte) error
	CompleteChunkedUpload(uploadID, name, mediaType string, totalChunks int) (*models.FileInfo, error)
	RegisterFile(info *models.FileInfo)
	MaxSize() int64
}

// LocalStore implements Store using the local filesystem.
// File contents live on disk under their ID; metadata is kept in memory.
type LocalStore struct {
	mu        sync.RWMutex
	uploadDir string
	maxSize   int64
	files     map[string]*models.FileInfo
}

// NewLocalStore creates a new LocalStore. maxSize <= 0 disables the size limit.
func NewLocalStore(uploadDir string, maxSize int64) (*LocalStore, error) {
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}

	return &LocalStore{
		uploadDir: uploadDir,
		maxSize:   maxSize,
		files:     make(map[string]*models.FileInfo),
	}, nil
}

// MaxSize returns the largest accepted file size in bytes; 0 means unlimited.
func (s *LocalStore) MaxSize() int64 {
	return s.maxSize
}

// Save writes r to disk and records its metadata. The media type is detected
// from the name when none is declared.
func (s *LocalStore) Save(name, mediaType string, r io.Reader) (*models.FileInfo, error) {
	id := uuid.New().String()
	path := filepath.Join(s.uploadDir, id)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()

	src := r
	if s.maxSize > 0 {
		src = io.LimitReader(r, s.maxSize+1)
	}
	size, err := io.Copy(f, src)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing file: %w", err)
	}
	if s.maxSize > 0 && size > s.maxSize {
		os.Remove(path)
		return nil, ErrFileTooLarge
	}

	info := &models.FileInfo{
		ID:         id,
		Name:       name,
		MediaType:  models.DetectMediaType(mediaType, name),
		Size:       size,
		UploadedAt: time.Now(),
		Status:     "uploaded",
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[id] = info

	return copyInfo(info), nil
}

// SaveBytes saves an in-memory file.
func (s *LocalStore) SaveBytes(name, mediaType string, data []byte) (*models.FileInfo, error) {
	return s.Save(name, mediaType, bytes.NewReader(data))
}

// Get retrieves file metadata by ID.
func (s *LocalStore) Get(id string) (*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return copyInfo(info), nil
}

// ReadFile returns the full content of a stored file.
func (s *LocalStore) ReadFile(id string) ([]byte, error) {
	path, err := s.GetFilePath(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", id, err)
	}
	return data, nil
}

// List returns the most recent files.
func (s *LocalStore) List(limit int) ([]*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*models.FileInfo, 0, len(s.files))
	for _, info := range s.files {
		list = append(list, copyInfo(info))
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].UploadedAt.After(list[j].UploadedAt)
	})

	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}

	return list, nil
}

// Delete removes a file from storage.
func (s *LocalStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	path := filepath.Join(s.uploadDir, id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting file: %w", err)
	}

	delete(s.files, id)
	return nil
}

// SetStatus updates the lifecycle status of a file. Unknown IDs are ignored.
func (s *LocalStore) SetStatus(id, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if info, ok := s.files[id]; ok {
		info.Status = status
	}
}

// GetFilePath returns the absolute path to a file.
func (s *LocalStore) GetFilePath(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.files[id]; !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return filepath.Join(s.uploadDir, id), nil
}

// RegisterFile records (or replaces) metadata for a file already on disk.
func (s *LocalStore) RegisterFile(info *models.FileInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[info.ID] = copyInfo(info)
}

// SaveChunk saves a single chunk to a temporary location.
func (s *LocalStore) SaveChunk(uploadID string, chunkIndex int, r io.Reader) error {
	if !validUploadID(uploadID) {
		return ErrInvalidID
	}
	if chunkIndex < 0 {
		return fmt.Errorf("invalid chunk index %d", chunkIndex)
	}

	chunkDir := filepath.Join(s.uploadDir, "chunks", uploadID)
	if err := os.MkdirAll(chunkDir, 0755); err != nil {
		return fmt.Errorf("creating chunk directory: %w", err)
	}

	path := filepath.Join(chunkDir, fmt.Sprintf("chunk_%d", chunkIndex))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating chunk file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("writing chunk: %w", err)
	}

	return nil
}

// SaveChunkBytes saves an in-memory chunk.
func (s *LocalStore) SaveChunkBytes(uploadID string, chunkIndex int, data []byte) error {
	return s.SaveChunk(uploadID, chunkIndex, bytes.NewReader(data))
}

// CompleteChunkedUpload assembles all chunks into a final file.
func (s *LocalStore) CompleteChunkedUpload(uploadID, name, mediaType string, totalChunks int) (*models.FileInfo, error) {
	if !validUploadID(uploadID) {
		return nil, ErrInvalidID
	}

	id := uuid.New().String()
	finalPath := filepath.Join(s.uploadDir, id)
	chunkDir := filepath.Join(s.uploadDir, "chunks", uploadID)

	out, err := os.Create(finalPath)
	if err != nil {
		return nil, fmt.Errorf("creating final file: %w", err)
	}
	defer out.Close()

	var totalSize int64
	for i := 0; i < totalChunks; i++ {
		chunkPath := filepath.Join(chunkDir, fmt.Sprintf("chunk_%d", i))
		in, err := os.Open(chunkPath)
		if err != nil {
			os.Remove(finalPath)
			return nil, fmt.Errorf("opening chunk %d: %w", i, err)
		}

		n, err := io.Copy(out, in)
		in.Close()
		if err != nil {
			os.Remove(finalPath)
			return nil, fmt.Errorf("copying chunk %d: %w", i, err)
		}
		totalSize += n
		if s.maxSize > 0 && totalSize > s.maxSize {
			os.Remove(finalPath)
			os.RemoveAll(chunkDir)
			return nil, ErrFileTooLarge
		}
	}

	info := &models.FileInfo{
		ID:         id,
		Name:       name,
		MediaType:  models.DetectMediaType(mediaType, name),
		Size:       totalSize,
		UploadedAt: time.Now(),
		Status:     "uploaded",
	}

	s.mu.Lock()
	s.files[id] = info
	s.mu.Unlock()

	os.RemoveAll(chunkDir)

	return copyInfo(info), nil
}

func validUploadID(id string) bool {
	return id != "" && id != "." && id != ".." && filepath.Base(id) == id
}

func copyInfo(info *models.FileInfo) *models.FileInfo {
	c := *info
	return &c
}
