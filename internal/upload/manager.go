// Package upload assembles chunked uploads in the background.
package upload

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/campaign-lens/backend/internal/models"
	"github.com/campaign-lens/backend/internal/storage"
	"github.com/google/uuid"
)

// Status represents the upload processing status.
type Status string

const (
	StatusProcessing    Status = "processing"
	StatusAssembling    Status = "assembling"
	StatusDecompressing Status = "decompressing"
	StatusComplete      Status = "complete"
	StatusError         Status = "error"
)

// Job represents an async upload processing job.
type Job struct {
	ID             string           `json:"id"`
	UploadID       string           `json:"uploadId"`
	FileName       string           `json:"fileName"`
	MediaType      string           `json:"mediaType,omitempty"`
	SessionID      string           `json:"sessionId,omitempty"` // select the file into this session once assembled
	TotalChunks    int              `json:"totalChunks"`
	OriginalSize   int64            `json:"originalSize"`
	CompressedSize int64            `json:"compressedSize"`
	Encoding       string           `json:"encoding"`
	Status         Status           `json:"status"`
	Progress       float64          `json:"progress"`
	Stage          string           `json:"stage"`
	StageProgress  float64          `json:"stageProgress"`
	FileInfo       *models.FileInfo `json:"fileInfo,omitempty"`
	Error          string           `json:"error,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	CompletedAt    *time.Time       `json:"completedAt,omitempty"`
}

// Request describes a chunked upload to finalize.
type Request struct {
	UploadID       string
	FileName       string
	MediaType      string
	SessionID      string
	TotalChunks    int
	OriginalSize   int64
	CompressedSize int64
	Encoding       string
}

// Store defines the interface needed from storage layer.
type Store interface {
	CompleteChunkedUpload(uploadID, name, mediaType string, totalChunks int) (*models.FileInfo, error)
	GetFilePath(id string) (string, error)
	RegisterFile(info *models.FileInfo)
	Delete(id string) error
	MaxSize() int64
}

// Selector receives assembled files that were uploaded for a session.
type Selector interface {
	SelectFile(sessionID string, file *models.FileInfo) (*models.AnalysisSession, error)
}

// Manager handles async upload processing.
type Manager struct {
	jobs     map[string]*Job
	mu       sync.RWMutex
	store    Store
	selector Selector
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewManager creates a new upload processing manager. selector may be nil.
func NewManager(store Store, selector Selector, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		jobs:     make(map[string]*Job),
		store:    store,
		selector: selector,
		logger:   logger,
	}
}

// StartJob begins async processing of an upload.
func (m *Manager) StartJob(req Request) *Job {
	job := &Job{
		ID:             uuid.New().String(),
		UploadID:       req.UploadID,
		FileName:       req.FileName,
		MediaType:      req.MediaType,
		SessionID:      req.SessionID,
		TotalChunks:    req.TotalChunks,
		OriginalSize:   req.OriginalSize,
		CompressedSize: req.CompressedSize,
		Encoding:       req.Encoding,
		Status:         StatusProcessing,
		Stage:          "preparing",
		CreatedAt:      time.Now(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	snap := *job
	m.mu.Unlock()

	m.wg.Add(1)
	go m.processJob(job)

	return &snap
}

// GetJob returns a snapshot of a job.
func (m *Manager) GetJob(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	snap := *job
	return &snap, true
}

// Wait blocks until every started job has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) processJob(job *Job) {
	defer m.wg.Done()
	log := m.logger.With("job_id", job.ID, "upload_id", job.UploadID)
	log.Info("upload.job.start", "file_name", job.FileName, "chunks", job.TotalChunks, "encoding", job.Encoding)

	m.updateJobStatus(job, StatusAssembling, "assembling chunks", 0)

	info, err := m.store.CompleteChunkedUpload(job.UploadID, job.FileName, job.MediaType, job.TotalChunks)
	if err != nil {
		m.markJobError(job, fmt.Sprintf("failed to assemble chunks: %v", err))
		return
	}

	m.updateJobStatus(job, StatusAssembling, "assembling chunks", 100)
	log.Info("upload.job.assembled", "file_id", info.ID, "bytes", info.Size)

	if job.Encoding == "gzip" || job.Encoding == "binary-gzip" {
		m.updateJobStatus(job, StatusDecompressing, "decompressing file", 0)

		if err := m.decompressFileWithProgress(job, info.ID); errors.Is(err, storage.ErrFileTooLarge) {
			if delErr := m.store.Delete(info.ID); delErr != nil {
				log.Warn("upload.job.discard_failed", "file_id", info.ID, "error", delErr)
			}
			m.markJobError(job, fmt.Sprintf("failed to decompress file: %v", err))
			return
		} else if err != nil {
			// The file may still be readable as-is.
			log.Warn("upload.job.decompress_failed", "file_id", info.ID, "error", err)
		} else {
			info.Size = job.OriginalSize
			m.store.RegisterFile(info)
			log.Info("upload.job.decompressed", "file_id", info.ID, "bytes", info.Size)
		}

		m.updateJobStatus(job, StatusDecompressing, "decompressing file", 100)
	}

	if job.SessionID != "" && m.selector != nil {
		if _, err := m.selector.SelectFile(job.SessionID, info); err != nil {
			m.mu.Lock()
			job.FileInfo = info
			m.mu.Unlock()
			m.markJobError(job, fmt.Sprintf("failed to select file into session %s: %v", job.SessionID, err))
			return
		}
	}

	m.markJobComplete(job, info)
	log.Info("upload.job.complete", "file_id", info.ID, "bytes", info.Size)
}

// decompressFileWithProgress decompresses a gzip file in place. Output larger
// than the store's size limit aborts with storage.ErrFileTooLarge.
func (m *Manager) decompressFileWithProgress(job *Job, fileID string) error {
	path, err := m.store.GetFilePath(fileID)
	if err != nil {
		return err
	}

	compressedFile, err := os.Open(path)
	if err != nil {
		return err
	}
	defer compressedFile.Close()

	magic := make([]byte, 2)
	if _, err := io.ReadFull(compressedFile, magic); err != nil {
		return err
	}
	if magic[0] != 0x1f || magic[1] != 0x8b {
		return fmt.Errorf("not a gzip file")
	}
	if _, err := compressedFile.Seek(0, io.SeekStart); err != nil {
		return err
	}

	reader, err := gzip.NewReader(compressedFile)
	if err != nil {
		return err
	}
	defer reader.Close()

	maxSize := m.store.MaxSize()
	var src io.Reader = reader
	if maxSize > 0 {
		src = io.LimitReader(reader, maxSize+1)
	}

	tempPath := path + ".decompressing"
	outFile, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	buf := make([]byte, 1024*1024)
	var written int64
	lastProgressUpdate := time.Now()

	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, writeErr := outFile.Write(buf[:n]); writeErr != nil {
				outFile.Close()
				os.Remove(tempPath)
				return fmt.Errorf("write error: %w", writeErr)
			}
			written += int64(n)
			if maxSize > 0 && written > maxSize {
				outFile.Close()
				os.Remove(tempPath)
				return fmt.Errorf("%w: more than %d bytes after decompression", storage.ErrFileTooLarge, maxSize)
			}

			if time.Since(lastProgressUpdate) > 100*time.Millisecond && job.OriginalSize > 0 {
				progress := float64(written) / float64(job.OriginalSize) * 100
				if progress > 99 {
					progress = 99
				}
				m.updateJobStatus(job, StatusDecompressing, "decompressing file", progress)
				lastProgressUpdate = time.Now()
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				outFile.Close()
				os.Remove(tempPath)
				return fmt.Errorf("read error: %w", readErr)
			}
			break
		}
	}

	outFile.Close()

	if written != job.OriginalSize {
		os.Remove(tempPath)
		return fmt.Errorf("decompressed size mismatch: got %d bytes, expected %d bytes", written, job.OriginalSize)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return err
	}
	return nil
}

func (m *Manager) updateJobStatus(job *Job, status Status, stage string, stageProgress float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job.Status = status
	job.Stage = stage
	job.StageProgress = stageProgress

	// Assembling: 0-40%, Decompressing: 40-90%, Finalizing: 90-100%
	switch status {
	case StatusAssembling:
		job.Progress = stageProgress * 0.4
	case StatusDecompressing:
		job.Progress = 40 + stageProgress*0.5
	case StatusComplete:
		job.Progress = 100
	}
}

func (m *Manager) markJobComplete(job *Job, info *models.FileInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job.FileInfo = info
	job.Status = StatusComplete
	job.Progress = 100
	now := time.Now()
	job.CompletedAt = &now
}

func (m *Manager) markJobError(job *Job, errMsg string) {
	m.mu.Lock()
	job.Status = StatusError
	job.Error = errMsg
	now := time.Now()
	job.CompletedAt = &now
	m.mu.Unlock()

	m.logger.Error("upload.job.failed", "job_id", job.ID, "error", errMsg)
}

// CleanupOldJobs removes finished jobs older than maxAge.
func (m *Manager) CleanupOldJobs(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, job := range m.jobs {
		if job.Status == StatusComplete || job.Status == StatusError {
			if job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
				delete(m.jobs, id)
				removed++
			}
		}
	}
	return removed
}
