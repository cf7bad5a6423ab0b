// mock_storage.go - In-memory storage implementation for testing
package testutil

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/campaign-lens/backend/internal/models"
	"github.com/campaign-lens/backend/internal/storage"
)

// MockStorage implements storage.Store in memory.
type MockStorage struct {
	files    map[string]*models.FileInfo
	fileData map[string][]byte
	chunks   map[string]map[int][]byte // uploadID -> chunkIndex -> data
	mu       sync.RWMutex

	// SaveErr, when set, is returned by Save and SaveBytes.
	SaveErr error
	// Limit is reported by MaxSize and enforced by Save and SaveBytes.
	Limit int64
}

// MaxSize returns Limit.
func (m *MockStorage) MaxSize() int64 {
	return m.Limit
}

// NewMockStorage creates an empty mock storage.
func NewMockStorage() *MockStorage {
	return &MockStorage{
		files:    make(map[string]*models.FileInfo),
		fileData: make(map[string][]byte),
		chunks:   make(map[string]map[int][]byte),
	}
}

func (m *MockStorage) Save(name, mediaType string, r io.Reader) (*models.FileInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return m.SaveBytes(name, mediaType, data)
}

func (m *MockStorage) SaveBytes(name, mediaType string, data []byte) (*models.FileInfo, error) {
	if m.SaveErr != nil {
		return nil, m.SaveErr
	}
	if m.Limit > 0 && int64(len(data)) > m.Limit {
		return nil, storage.ErrFileTooLarge
	}
	return m.AddFile(generateTestID(), name, mediaType, data), nil
}

func (m *MockStorage) Get(id string) (*models.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	file, ok := m.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	c := *file
	return &c, nil
}

func (m *MockStorage) ReadFile(id string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.fileData[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return append([]byte(nil), data...), nil
}

func (m *MockStorage) List(limit int) ([]*models.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	files := make([]*models.FileInfo, 0, len(m.files))
	for _, file := range m.files {
		c := *file
		files = append(files, &c)
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].UploadedAt.After(files[j].UploadedAt)
	})
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	return files, nil
}

func (m *MockStorage) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.files[id]; !exists {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	delete(m.files, id)
	delete(m.fileData, id)
	return nil
}

func (m *MockStorage) SetStatus(id, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.files[id]; ok {
		f.Status = status
	}
}

func (m *MockStorage) GetFilePath(id string) (string, error) {
	return "/mock/path/" + id, nil
}

func (m *MockStorage) RegisterFile(info *models.FileInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *info
	m.files[info.ID] = &c
}

func (m *MockStorage) SaveChunk(uploadID string, chunkIndex int, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return m.SaveChunkBytes(uploadID, chunkIndex, data)
}

func (m *MockStorage) SaveChunkBytes(uploadID string, chunkIndex int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.chunks[uploadID] == nil {
		m.chunks[uploadID] = make(map[int][]byte)
	}
	m.chunks[uploadID][chunkIndex] = data
	return nil
}

func (m *MockStorage) CompleteChunkedUpload(uploadID, name, mediaType string, totalChunks int) (*models.FileInfo, error) {
	m.mu.Lock()
	uploadChunks, ok := m.chunks[uploadID]
	if !ok {
		m.mu.Unlock()
		return nil, errors.New("upload not found")
	}

	var data bytes.Buffer
	for i := 0; i < totalChunks; i++ {
		chunk, ok := uploadChunks[i]
		if !ok {
			m.mu.Unlock()
			return nil, errors.New("missing chunk")
		}
		data.Write(chunk)
	}
	delete(m.chunks, uploadID)
	m.mu.Unlock()

	return m.AddFile(generateTestID(), name, mediaType, data.Bytes()), nil
}

var _ storage.Store = (*MockStorage)(nil)

// Test Helper Methods

// AddFile adds a file directly to the mock.
func (m *MockStorage) AddFile(id, name, mediaType string, data []byte) *models.FileInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	file := &models.FileInfo{
		ID:         id,
		Name:       name,
		MediaType:  models.DetectMediaType(mediaType, name),
		Size:       int64(len(data)),
		UploadedAt: time.Now(),
		Status:     "uploaded",
	}
	m.files[id] = file
	m.fileData[id] = data
	c := *file
	return &c
}

// GetFileCount returns the number of stored files.
func (m *MockStorage) GetFileCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}

var testIDCounter int
var testIDMutex sync.Mutex

func generateTestID() string {
	testIDMutex.Lock()
	defer testIDMutex.Unlock()
	testIDCounter++
	return fmt.Sprintf("test-id-%d", testIDCounter)
}
