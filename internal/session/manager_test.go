package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/campaign-lens/backend/internal/extract"
	"github.com/campaign-lens/backend/internal/models"
	"github.com/campaign-lens/backend/internal/report"
	"github.com/campaign-lens/backend/internal/storage"
	"github.com/campaign-lens/backend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *storage.LocalStore
	provider *testutil.FakeProvider
	archive  *memArchive
	mgr      *Manager
}

type memArchive struct {
	mu      sync.Mutex
	saved   []string
	deleted []string
	// onSave runs after a row is recorded, outside the lock.
	onSave func()
}

func (a *memArchive) Save(_ context.Context, sessionID, _ string, _ *models.ReportData) (string, error) {
	a.mu.Lock()
	a.saved = append(a.saved, sessionID)
	hook := a.onSave
	a.mu.Unlock()
	if hook != nil {
		hook()
	}
	return "rep-" + sessionID, nil
}

func (a *memArchive) Delete(_ context.Context, id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deleted = append(a.deleted, id)
	return nil
}

func (a *memArchive) snapshot() (saved, deleted []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.saved...), append([]string(nil), a.deleted...)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := storage.NewLocalStore(t.TempDir(), 1<<20)
	require.NoError(t, err)

	provider := testutil.NewFakeProvider()
	archive := &memArchive{}
	gen := report.NewGenerator(provider, time.Second, logger)
	mgr := NewManager(store, extract.NewRegistry(logger), gen, Options{Archive: archive, Logger: logger})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		mgr.Shutdown(ctx)
	})

	return &fixture{store: store, provider: provider, archive: archive, mgr: mgr}
}

func (f *fixture) upload(t *testing.T, name, content string) *models.FileInfo {
	t.Helper()
	info, err := f.store.SaveBytes(name, "", []byte(content))
	require.NoError(t, err)
	return info
}

// waitForTerminal polls until the session leaves the in-flight states.
func waitForTerminal(t *testing.T, m *Manager, id string) *models.AnalysisSession {
	t.Helper()
	for i := 0; i < 100; i++ {
		s, ok := m.Get(id)
		require.True(t, ok, "session not found")
		if s.State.Terminal() {
			return s
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session %s did not finish", id)
	return nil
}

func TestGenerate_Success(t *testing.T) {
	f := newFixture(t)
	sess := f.mgr.Create()
	file := f.upload(t, "campaign.txt", "Opens: 2500\nClicks: 250")

	_, err := f.mgr.SelectFile(sess.ID, file)
	require.NoError(t, err)

	snap, err := f.mgr.Generate(sess.ID)
	require.NoError(t, err)
	assert.True(t, snap.State.InFlight())

	done := waitForTerminal(t, f.mgr, sess.ID)
	assert.Equal(t, models.SessionStateSuccess, done.State)
	require.NotNil(t, done.Report)
	assert.Equal(t, "Newsletter de Primavera", done.Report.CampaignTitle)
	assert.Len(t, done.Report.KPIs, 2)
	assert.Empty(t, done.Message)
	assert.Equal(t, "rep-"+sess.ID, done.ReportID)
	assert.Equal(t, len("Opens: 2500\nClicks: 250"), done.ExtractedChars)

	assert.Contains(t, f.provider.LastInstruction(), "Opens: 2500\nClicks: 250")
	assert.Equal(t, 1, f.provider.Calls())

	info, err := f.store.Get(file.ID)
	require.NoError(t, err)
	assert.Equal(t, "analyzed", info.Status)
}

func TestGenerate_EmptyTextFileNeverCallsProvider(t *testing.T) {
	f := newFixture(t)
	sess := f.mgr.Create()
	file := f.upload(t, "empty.txt", "")

	_, err := f.mgr.SelectFile(sess.ID, file)
	require.NoError(t, err)
	_, err = f.mgr.Generate(sess.ID)
	require.NoError(t, err)

	done := waitForTerminal(t, f.mgr, sess.ID)
	assert.Equal(t, models.SessionStateFailure, done.State)
	assert.Equal(t, extract.MsgNoText, done.Message)
	assert.Nil(t, done.Report)
	assert.Equal(t, 0, f.provider.Calls())

	info, err := f.store.Get(file.ID)
	require.NoError(t, err)
	assert.Equal(t, "error", info.Status)
}

func TestGenerate_CorruptPDF(t *testing.T) {
	f := newFixture(t)
	sess := f.mgr.Create()
	file := f.upload(t, "broken.pdf", "this is not a pdf")

	_, err := f.mgr.SelectFile(sess.ID, file)
	require.NoError(t, err)
	_, err = f.mgr.Generate(sess.ID)
	require.NoError(t, err)

	done := waitForTerminal(t, f.mgr, sess.ID)
	assert.Equal(t, models.SessionStateFailure, done.State)
	assert.Equal(t, extract.MsgCorruptPDF, done.Message)
	assert.Equal(t, 0, f.provider.Calls())
}

func TestGenerate_IncompleteReportFails(t *testing.T) {
	f := newFixture(t)
	f.provider.SetResponse([]byte(strings.Replace(testutil.ValidReportJSON,
		`"summary": "La campaña tuvo una apertura sólida y un CTR moderado.",`, "", 1)), nil)

	sess := f.mgr.Create()
	_, err := f.mgr.SelectFile(sess.ID, f.upload(t, "c.csv", "metric,value\nopens,10"))
	require.NoError(t, err)
	_, err = f.mgr.Generate(sess.ID)
	require.NoError(t, err)

	done := waitForTerminal(t, f.mgr, sess.ID)
	assert.Equal(t, models.SessionStateFailure, done.State)
	assert.Equal(t, report.MsgGenerationFailed, done.Message)
	assert.Nil(t, done.Report)
	assert.Empty(t, f.archive.saved)
}

func TestGenerate_ProviderErrorFails(t *testing.T) {
	f := newFixture(t)
	f.provider.SetResponse(nil, errors.New("quota exceeded"))

	sess := f.mgr.Create()
	_, err := f.mgr.SelectFile(sess.ID, f.upload(t, "c.txt", "data"))
	require.NoError(t, err)
	_, err = f.mgr.Generate(sess.ID)
	require.NoError(t, err)

	done := waitForTerminal(t, f.mgr, sess.ID)
	assert.Equal(t, models.SessionStateFailure, done.State)
	assert.Equal(t, report.MsgGenerationFailed, done.Message)
	assert.NotContains(t, done.Message, "quota")
}

func TestGenerate_WithoutFile(t *testing.T) {
	f := newFixture(t)
	sess := f.mgr.Create()

	_, err := f.mgr.Generate(sess.ID)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, MsgSelectFile, verr.Message)

	s, ok := f.mgr.Get(sess.ID)
	require.True(t, ok)
	assert.Equal(t, models.SessionStateIdle, s.State)
	assert.Equal(t, MsgSelectFile, s.Message)
	assert.Equal(t, 0, f.provider.Calls())
}

func TestGenerate_UnknownSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.Generate("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = f.mgr.SelectFile("missing", &models.FileInfo{ID: "x"})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestGenerate_BusyWhileInFlight(t *testing.T) {
	f := newFixture(t)
	f.provider.Block = make(chan struct{})

	sess := f.mgr.Create()
	_, err := f.mgr.SelectFile(sess.ID, f.upload(t, "c.txt", "data"))
	require.NoError(t, err)
	_, err = f.mgr.Generate(sess.ID)
	require.NoError(t, err)

	_, err = f.mgr.Generate(sess.ID)
	assert.ErrorIs(t, err, ErrBusy)

	close(f.provider.Block)
	done := waitForTerminal(t, f.mgr, sess.ID)
	assert.Equal(t, models.SessionStateSuccess, done.State)
	assert.Equal(t, 1, f.provider.Calls())
}

func TestSelectFile_ClearsPreviousOutcome(t *testing.T) {
	f := newFixture(t)
	sess := f.mgr.Create()

	_, err := f.mgr.SelectFile(sess.ID, f.upload(t, "a.txt", "data"))
	require.NoError(t, err)
	_, err = f.mgr.Generate(sess.ID)
	require.NoError(t, err)
	done := waitForTerminal(t, f.mgr, sess.ID)
	require.NotNil(t, done.Report)

	next := f.upload(t, "b.txt", "other data")
	snap, err := f.mgr.SelectFile(sess.ID, next)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateIdle, snap.State)
	assert.Nil(t, snap.Report)
	assert.Empty(t, snap.ReportID)
	assert.Empty(t, snap.Message)
	assert.Equal(t, next.ID, snap.File.ID)

	info, err := f.store.Get(next.ID)
	require.NoError(t, err)
	assert.Equal(t, "selected", info.Status)
}

func TestSelectFile_ClearsFailureMessage(t *testing.T) {
	f := newFixture(t)
	sess := f.mgr.Create()

	_, err := f.mgr.SelectFile(sess.ID, f.upload(t, "empty.txt", ""))
	require.NoError(t, err)
	_, err = f.mgr.Generate(sess.ID)
	require.NoError(t, err)
	done := waitForTerminal(t, f.mgr, sess.ID)
	require.Equal(t, models.SessionStateFailure, done.State)

	snap, err := f.mgr.SelectFile(sess.ID, f.upload(t, "b.txt", "data"))
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateIdle, snap.State)
	assert.Empty(t, snap.Message)
}

func TestSelectFile_SupersedesRunningPipeline(t *testing.T) {
	f := newFixture(t)
	f.provider.Block = make(chan struct{})

	sess := f.mgr.Create()
	_, err := f.mgr.SelectFile(sess.ID, f.upload(t, "a.txt", "first"))
	require.NoError(t, err)
	_, err = f.mgr.Generate(sess.ID)
	require.NoError(t, err)

	// Wait for the first run to reach the provider.
	for i := 0; i < 100 && f.provider.Calls() == 0; i++ {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 1, f.provider.Calls())

	snap, err := f.mgr.SelectFile(sess.ID, f.upload(t, "b.txt", "second"))
	require.NoError(t, err)
	assert.Equal(t, models.SessionStateIdle, snap.State)

	// The cancelled run must not overwrite the new selection.
	time.Sleep(50 * time.Millisecond)
	s, ok := f.mgr.Get(sess.ID)
	require.True(t, ok)
	assert.Equal(t, models.SessionStateIdle, s.State)
	assert.Nil(t, s.Report)
	assert.Empty(t, s.Message)
	assert.Empty(t, f.archive.saved)
}

func TestGenerate_TerminalStatesAreReenterable(t *testing.T) {
	f := newFixture(t)
	f.provider.SetResponse(nil, errors.New("boom"))

	sess := f.mgr.Create()
	_, err := f.mgr.SelectFile(sess.ID, f.upload(t, "a.txt", "data"))
	require.NoError(t, err)
	_, err = f.mgr.Generate(sess.ID)
	require.NoError(t, err)
	done := waitForTerminal(t, f.mgr, sess.ID)
	require.Equal(t, models.SessionStateFailure, done.State)

	f.provider.SetResponse([]byte(testutil.ValidReportJSON), nil)
	snap, err := f.mgr.Generate(sess.ID)
	require.NoError(t, err)
	assert.Empty(t, snap.Message)

	done = waitForTerminal(t, f.mgr, sess.ID)
	assert.Equal(t, models.SessionStateSuccess, done.State)
	assert.Equal(t, 2, f.provider.Calls())
}

func TestGetReturnsCopies(t *testing.T) {
	f := newFixture(t)
	sess := f.mgr.Create()
	_, err := f.mgr.SelectFile(sess.ID, f.upload(t, "a.txt", "data"))
	require.NoError(t, err)

	s, _ := f.mgr.Get(sess.ID)
	s.File.Name = "mutated"
	s.State = models.SessionStateSuccess

	again, _ := f.mgr.Get(sess.ID)
	assert.Equal(t, "a.txt", again.File.Name)
	assert.Equal(t, models.SessionStateIdle, again.State)
}

func TestForgetFile(t *testing.T) {
	f := newFixture(t)
	sess := f.mgr.Create()
	file := f.upload(t, "a.txt", "data")
	_, err := f.mgr.SelectFile(sess.ID, file)
	require.NoError(t, err)

	f.mgr.ForgetFile(file.ID)

	s, _ := f.mgr.Get(sess.ID)
	assert.Nil(t, s.File)
	_, err = f.mgr.Generate(sess.ID)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestForgetFile_ClearsOutcome(t *testing.T) {
	f := newFixture(t)
	sess := f.mgr.Create()
	file := f.upload(t, "a.txt", "data")
	_, err := f.mgr.SelectFile(sess.ID, file)
	require.NoError(t, err)
	_, err = f.mgr.Generate(sess.ID)
	require.NoError(t, err)
	done := waitForTerminal(t, f.mgr, sess.ID)
	require.Equal(t, models.SessionStateSuccess, done.State)

	f.mgr.ForgetFile(file.ID)

	s, _ := f.mgr.Get(sess.ID)
	assert.Equal(t, models.SessionStateIdle, s.State)
	assert.Nil(t, s.File)
	assert.Nil(t, s.Report)
	assert.Empty(t, s.ReportID)
	assert.Zero(t, s.ProcessingTimeMs)

	_, err = f.mgr.Generate(sess.ID)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	s, _ = f.mgr.Get(sess.ID)
	assert.Equal(t, models.SessionStateIdle, s.State)
	assert.Nil(t, s.Report)
	assert.Empty(t, s.ReportID)
	assert.Equal(t, MsgSelectFile, s.Message)
}

func TestGenerate_SupersededDuringArchiveWithdrawsRow(t *testing.T) {
	f := newFixture(t)
	sess := f.mgr.Create()
	_, err := f.mgr.SelectFile(sess.ID, f.upload(t, "a.txt", "first"))
	require.NoError(t, err)

	next := f.upload(t, "b.txt", "second")
	f.archive.onSave = func() {
		_, err := f.mgr.SelectFile(sess.ID, next)
		assert.NoError(t, err)
	}

	_, err = f.mgr.Generate(sess.ID)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.mgr.Shutdown(ctx))

	saved, deleted := f.archive.snapshot()
	require.Len(t, saved, 1)
	assert.Equal(t, []string{"rep-" + sess.ID}, deleted)

	s, _ := f.mgr.Get(sess.ID)
	assert.Equal(t, models.SessionStateIdle, s.State)
	assert.Nil(t, s.Report)
	assert.Empty(t, s.ReportID)
	assert.Equal(t, next.ID, s.File.ID)
}

func TestCleanupOldSessions(t *testing.T) {
	f := newFixture(t)
	old := f.mgr.Create()
	fresh := f.mgr.Create()

	f.mgr.mu.Lock()
	f.mgr.sessions[old.ID].lastAccessed = time.Now().Add(-2 * time.Hour)
	f.mgr.mu.Unlock()

	removed := f.mgr.CleanupOldSessions(time.Hour)
	assert.Equal(t, 1, removed)

	_, ok := f.mgr.Get(old.ID)
	assert.False(t, ok)
	_, ok = f.mgr.Get(fresh.ID)
	assert.True(t, ok)
}

func TestCreateEvictsWhenFull(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := storage.NewLocalStore(t.TempDir(), 0)
	require.NoError(t, err)
	mgr := NewManager(store, extract.NewRegistry(logger),
		report.NewGenerator(testutil.NewFakeProvider(), time.Second, logger),
		Options{MaxSessions: 2, Logger: logger})

	first := mgr.Create()
	time.Sleep(time.Millisecond)
	mgr.Create()
	mgr.Create()

	assert.Equal(t, 2, mgr.Count())
	_, ok := mgr.Get(first.ID)
	assert.False(t, ok)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	sess := f.mgr.Create()
	assert.True(t, f.mgr.Delete(sess.ID))
	assert.False(t, f.mgr.Delete(sess.ID))
	assert.False(t, f.mgr.Touch(sess.ID))
}
