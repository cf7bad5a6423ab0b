package upload

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/campaign-lens/backend/internal/models"
	"github.com/campaign-lens/backend/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSelector struct {
	sessionID string
	file      *models.FileInfo
}

func (r *recordingSelector) SelectFile(sessionID string, file *models.FileInfo) (*models.AnalysisSession, error) {
	r.sessionID = sessionID
	r.file = file
	return &models.AnalysisSession{ID: sessionID, File: file}, nil
}

type failingSelector struct{}

func (failingSelector) SelectFile(sessionID string, file *models.FileInfo) (*models.AnalysisSession, error) {
	return nil, errors.New("session not found")
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestJob_AssemblesChunks(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir(), 0)
	require.NoError(t, err)

	require.NoError(t, store.SaveChunkBytes("up-1", 0, []byte("metric,value\n")))
	require.NoError(t, store.SaveChunkBytes("up-1", 1, []byte("opens,2500\n")))

	sel := &recordingSelector{}
	m := NewManager(store, sel, quietLogger())
	job := m.StartJob(Request{UploadID: "up-1", FileName: "report.csv", TotalChunks: 2, SessionID: "sess-1"})
	m.Wait()

	got, ok := m.GetJob(job.ID)
	require.True(t, ok)
	assert.Equal(t, StatusComplete, got.Status)
	assert.Equal(t, float64(100), got.Progress)
	require.NotNil(t, got.FileInfo)
	assert.Equal(t, "text/csv", got.FileInfo.MediaType)

	data, err := store.ReadFile(got.FileInfo.ID)
	require.NoError(t, err)
	assert.Equal(t, "metric,value\nopens,2500\n", string(data))

	assert.Equal(t, "sess-1", sel.sessionID)
	require.NotNil(t, sel.file)
	assert.Equal(t, got.FileInfo.ID, sel.file.ID)
}

func TestJob_Gzip(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir(), 0)
	require.NoError(t, err)

	plain := []byte("Opens: 2500\nClicks: 250\n")
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err = zw.Write(plain)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	require.NoError(t, store.SaveChunkBytes("up-gz", 0, buf.Bytes()))

	m := NewManager(store, nil, quietLogger())
	job := m.StartJob(Request{
		UploadID:       "up-gz",
		FileName:       "notes.txt",
		TotalChunks:    1,
		OriginalSize:   int64(len(plain)),
		CompressedSize: int64(buf.Len()),
		Encoding:       "gzip",
	})
	m.Wait()

	got, _ := m.GetJob(job.ID)
	require.Equal(t, StatusComplete, got.Status)
	assert.Equal(t, int64(len(plain)), got.FileInfo.Size)

	path, err := store.GetFilePath(got.FileInfo.ID)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, plain, data)
}

func TestJob_GzipExceedsLimit(t *testing.T) {
	const limit = 4096
	store, err := storage.NewLocalStore(t.TempDir(), limit)
	require.NoError(t, err)

	plain := make([]byte, 1<<20)
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err = zw.Write(plain)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.Less(t, buf.Len(), limit)

	require.NoError(t, store.SaveChunkBytes("up-bomb", 0, buf.Bytes()))

	sel := &recordingSelector{}
	m := NewManager(store, sel, quietLogger())
	job := m.StartJob(Request{
		UploadID:       "up-bomb",
		FileName:       "notes.txt",
		SessionID:      "sess-1",
		TotalChunks:    1,
		OriginalSize:   int64(len(plain)),
		CompressedSize: int64(buf.Len()),
		Encoding:       "gzip",
	})
	m.Wait()

	got, _ := m.GetJob(job.ID)
	assert.Equal(t, StatusError, got.Status)
	assert.Contains(t, got.Error, storage.ErrFileTooLarge.Error())
	assert.Nil(t, got.FileInfo)
	assert.Nil(t, sel.file, "oversized file must not reach the session")

	files, err := store.List(0)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestJob_SelectFailureFailsJob(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir(), 0)
	require.NoError(t, err)
	require.NoError(t, store.SaveChunkBytes("up-sel", 0, []byte("a,b\n1,2\n")))

	m := NewManager(store, failingSelector{}, quietLogger())
	job := m.StartJob(Request{UploadID: "up-sel", FileName: "r.csv", TotalChunks: 1, SessionID: "gone"})
	m.Wait()

	got, _ := m.GetJob(job.ID)
	assert.Equal(t, StatusError, got.Status)
	assert.Contains(t, got.Error, "failed to select file into session gone")
	require.NotNil(t, got.FileInfo, "assembled file is still reported")
	assert.NotNil(t, got.CompletedAt)
}

func TestJob_MissingChunks(t *testing.T) {
	store, err := storage.NewLocalStore(t.TempDir(), 0)
	require.NoError(t, err)

	m := NewManager(store, nil, quietLogger())
	job := m.StartJob(Request{UploadID: "nothing", FileName: "a.txt", TotalChunks: 3})
	m.Wait()

	got, _ := m.GetJob(job.ID)
	assert.Equal(t, StatusError, got.Status)
	assert.Contains(t, got.Error, "failed to assemble chunks")
	assert.NotNil(t, got.CompletedAt)
}

func TestCleanupOldJobs(t *testing.T) {
	m := NewManager(nil, nil, quietLogger())
	old := time.Now().Add(-2 * time.Hour)
	m.jobs["done"] = &Job{ID: "done", Status: StatusComplete, CompletedAt: &old}
	m.jobs["running"] = &Job{ID: "running", Status: StatusAssembling}

	assert.Equal(t, 1, m.CleanupOldJobs(time.Hour))
	_, ok := m.GetJob("done")
	assert.False(t, ok)
	_, ok = m.GetJob("running")
	assert.True(t, ok)
}
