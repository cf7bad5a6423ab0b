package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/campaign-lens/backend/internal/extract"
	"github.com/campaign-lens/backend/internal/models"
	"github.com/campaign-lens/backend/internal/report"
	"github.com/google/uuid"
)

// DefaultMaxSessions limits concurrent sessions to bound memory.
const DefaultMaxSessions = 100

// SessionKeepAliveWindow is how long a recently used session is protected from cleanup.
const SessionKeepAliveWindow = 5 * time.Minute

// FileSource reads selected files and tracks their status.
type FileSource interface {
	ReadFile(id string) ([]byte, error)
	SetStatus(id, status string)
}

// TextExtractor turns a file into text.
type TextExtractor interface {
	Extract(ctx context.Context, file *models.FileInfo, content []byte) (string, error)
}

// ReportGenerator turns text into a report.
type ReportGenerator interface {
	Generate(ctx context.Context, text string) (*models.ReportData, error)
}

// ReportArchive persists successful reports. Delete withdraws a row whose
// run was superseded before it could be published.
type ReportArchive interface {
	Save(ctx context.Context, sessionID, fileName string, r *models.ReportData) (string, error)
	Delete(ctx context.Context, id string) error
}

// Options configures a Manager.
type Options struct {
	MaxSessions int
	Archive     ReportArchive // optional
	Logger      *slog.Logger
}

// Manager owns the analysis sessions and runs their pipelines.
// Session state is only mutated here; callers receive copies.
type Manager struct {
	sessions map[string]*sessionState
	mu       sync.RWMutex

	files     FileSource
	extractor TextExtractor
	generator ReportGenerator
	archive   ReportArchive

	maxSessions int
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type sessionState struct {
	session      *models.AnalysisSession
	generation   uint64             // bumped on every run start and file selection
	cancelRun    context.CancelFunc // cancels the in-flight pipeline, if any
	lastAccessed time.Time
}

// NewManager creates a session manager.
func NewManager(files FileSource, extractor TextExtractor, generator ReportGenerator, opts Options) *Manager {
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		sessions:    make(map[string]*sessionState),
		files:       files,
		extractor:   extractor,
		generator:   generator,
		archive:     opts.Archive,
		maxSessions: opts.MaxSessions,
		logger:      opts.Logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Create starts a new idle session.
func (m *Manager) Create() *models.AnalysisSession {
	m.cleanupOldSessionsIfNeeded()

	id := uuid.New().String()
	sess := models.NewAnalysisSession(id)

	m.mu.Lock()
	m.sessions[id] = &sessionState{session: sess, lastAccessed: time.Now()}
	snap := sess.Clone()
	m.mu.Unlock()

	m.logger.Info("session.create", "session_id", id)
	return snap
}

// Get returns a snapshot of a session.
func (m *Manager) Get(id string) (*models.AnalysisSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return st.session.Clone(), true
}

// Touch updates the keep-alive timestamp of a session.
func (m *Manager) Touch(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sessions[id]
	if !ok {
		return false
	}
	st.lastAccessed = time.Now()
	return true
}

// SelectFile replaces the session's file, clears any report or message and
// returns the session to idle. A pipeline still running for the previous
// selection is cancelled and its outcome discarded.
func (m *Manager) SelectFile(id string, file *models.FileInfo) (*models.AnalysisSession, error) {
	if file == nil {
		return nil, &ValidationError{Field: "file", Message: MsgSelectFile}
	}

	m.mu.Lock()
	st, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}

	superseded := st.session.State.InFlight()
	st.supersede()

	f := *file
	s := st.session
	s.File = &f
	s.State = models.SessionStateIdle
	resetOutcome(s)
	st.lastAccessed = time.Now()
	snap := s.Clone()
	m.mu.Unlock()

	m.files.SetStatus(file.ID, "selected")
	m.logger.Info("session.select_file",
		"session_id", id,
		"file_id", file.ID,
		"file_name", file.Name,
		"media_type", file.MediaType,
		"superseded_run", superseded,
	)
	return snap, nil
}

// Generate starts the extract-then-generate pipeline for the selected file.
// Without a file the session stays idle and a *ValidationError is returned.
// While a run is in flight it returns ErrBusy.
func (m *Manager) Generate(id string) (*models.AnalysisSession, error) {
	m.mu.Lock()
	st, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	st.lastAccessed = time.Now()
	s := st.session

	if s.File == nil {
		resetOutcome(s)
		s.State = models.SessionStateIdle
		s.Message = MsgSelectFile
		m.mu.Unlock()
		return nil, &ValidationError{Field: "file", Message: MsgSelectFile}
	}
	if s.State.InFlight() {
		m.mu.Unlock()
		return nil, ErrBusy
	}

	st.supersede()
	gen := st.generation
	runCtx, cancel := context.WithCancel(m.ctx)
	st.cancelRun = cancel

	resetOutcome(s)
	s.State = models.SessionStateExtracting
	s.StartedAt = time.Now().UnixMilli()
	file := *s.File
	snap := s.Clone()

	m.wg.Add(1)
	m.mu.Unlock()

	go m.runPipeline(runCtx, cancel, id, gen, file)

	return snap, nil
}

func (m *Manager) runPipeline(ctx context.Context, cancel context.CancelFunc, id string, gen uint64, file models.FileInfo) {
	defer m.wg.Done()
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			m.fail(id, gen, MsgUnexpected, fmt.Errorf("pipeline panic: %v", r))
		}
	}()

	start := time.Now()
	m.logger.Info("session.generate.start", "session_id", id, "file_id", file.ID, "file_name", file.Name)

	content, err := m.files.ReadFile(file.ID)
	if err != nil {
		m.fail(id, gen, extract.MsgReadFailed, err)
		return
	}

	text, err := m.extractor.Extract(ctx, &file, content)
	if err != nil {
		m.fail(id, gen, userMessage(err, extract.MsgReadFailed), err)
		return
	}

	if !m.advance(id, gen, func(s *models.AnalysisSession) {
		s.State = models.SessionStateGenerating
		s.ExtractedChars = len(text)
	}) {
		m.logger.Info("session.generate.superseded", "session_id", id, "stage", "extract")
		return
	}

	rep, err := m.generator.Generate(ctx, text)
	if err != nil {
		m.fail(id, gen, userMessage(err, report.MsgGenerationFailed), err)
		return
	}

	if !m.current(id, gen) {
		m.logger.Info("session.generate.superseded", "session_id", id, "stage", "generate")
		return
	}

	var reportID string
	if m.archive != nil {
		reportID, err = m.archive.Save(ctx, id, file.Name, rep)
		if err != nil {
			m.logger.Warn("session.archive.error", "session_id", id, "error", err)
		}
	}

	finished := m.advance(id, gen, func(s *models.AnalysisSession) {
		s.State = models.SessionStateSuccess
		s.Report = rep
		s.ReportID = reportID
		finish(s)
	})
	if !finished {
		m.logger.Info("session.generate.superseded", "session_id", id, "stage", "archive")
		if reportID != "" {
			// The run's context is already cancelled once superseded.
			if err := m.archive.Delete(context.WithoutCancel(ctx), reportID); err != nil {
				m.logger.Warn("session.archive.withdraw_failed", "session_id", id, "report_id", reportID, "error", err)
			}
		}
		return
	}
	m.files.SetStatus(file.ID, "analyzed")

	m.logger.Info("session.generate.ok",
		"session_id", id,
		"report_id", reportID,
		"kpis", len(rep.KPIs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
}

// advance applies fn if gen is still the session's current run.
func (m *Manager) advance(id string, gen uint64, fn func(s *models.AnalysisSession)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sessions[id]
	if !ok || st.generation != gen {
		return false
	}
	fn(st.session)
	return true
}

func (m *Manager) current(id string, gen uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.sessions[id]
	return ok && st.generation == gen
}

func (m *Manager) fail(id string, gen uint64, message string, cause error) {
	var fileID string
	applied := m.advance(id, gen, func(s *models.AnalysisSession) {
		s.State = models.SessionStateFailure
		s.Report = nil
		s.ReportID = ""
		s.Message = message
		if s.File != nil {
			fileID = s.File.ID
		}
		finish(s)
	})
	if !applied {
		m.logger.Info("session.generate.superseded", "session_id", id, "error", cause)
		return
	}
	if fileID != "" {
		m.files.SetStatus(fileID, "error")
	}
	m.logger.Error("session.generate.failed", "session_id", id, "message", message, "error", cause)
}

// Delete removes a session and cancels its pipeline.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.sessions[id]
	if !ok {
		return false
	}
	st.supersede()
	delete(m.sessions, id)
	return true
}

// ForgetFile detaches a deleted file from every session that selected it.
// Runs still using the file are cancelled and any outcome produced from the
// file is cleared, so the session returns to idle.
func (m *Manager) ForgetFile(fileID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, st := range m.sessions {
		s := st.session
		if s.File == nil || s.File.ID != fileID {
			continue
		}
		st.supersede()
		resetOutcome(s)
		s.State = models.SessionStateIdle
		s.File = nil
		m.logger.Info("session.forget_file", "session_id", id, "file_id", fileID)
	}
}

// cleanupOldSessionsIfNeeded evicts the least recently used sessions that
// are not running when the manager is at capacity.
func (m *Manager) cleanupOldSessionsIfNeeded() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) < m.maxSessions {
		return
	}

	type candidate struct {
		id   string
		seen time.Time
	}
	var idle []candidate
	for id, st := range m.sessions {
		if !st.session.State.InFlight() {
			idle = append(idle, candidate{id, st.lastAccessed})
		}
	}
	sort.Slice(idle, func(i, j int) bool { return idle[i].seen.Before(idle[j].seen) })

	toFree := len(m.sessions) - m.maxSessions + 1
	for i := 0; i < toFree && i < len(idle); i++ {
		delete(m.sessions, idle[i].id)
		m.logger.Info("session.evict", "session_id", idle[i].id)
	}
}

// CleanupOldSessions removes sessions not accessed within maxAge. Running
// sessions and sessions used within SessionKeepAliveWindow are kept.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	keepAliveCutoff := time.Now().Add(-SessionKeepAliveWindow)

	removed := 0
	for id, st := range m.sessions {
		if st.session.State.InFlight() {
			continue
		}
		if st.lastAccessed.After(keepAliveCutoff) {
			continue
		}
		if st.lastAccessed.Before(cutoff) {
			delete(m.sessions, id)
			removed++
			m.logger.Info("session.cleanup",
				"session_id", id,
				"idle_for", time.Since(st.lastAccessed).Round(time.Second).String(),
			)
		}
	}
	return removed
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Shutdown cancels running pipelines and waits for them to exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// supersede invalidates the current run, if any.
func (st *sessionState) supersede() {
	st.generation++
	if st.cancelRun != nil {
		st.cancelRun()
		st.cancelRun = nil
	}
}

func resetOutcome(s *models.AnalysisSession) {
	s.Report = nil
	s.ReportID = ""
	s.Message = ""
	s.ExtractedChars = 0
	s.StartedAt = 0
	s.FinishedAt = 0
	s.ProcessingTimeMs = 0
}

func finish(s *models.AnalysisSession) {
	now := time.Now().UnixMilli()
	s.FinishedAt = now
	if s.StartedAt > 0 {
		s.ProcessingTimeMs = now - s.StartedAt
	}
}

// userMessage picks the client-facing message carried by err.
func userMessage(err error, fallback string) string {
	var xe *extract.ExtractionError
	if errors.As(err, &xe) && xe.Message != "" {
		return xe.Message
	}
	var ge *report.GenerationError
	if errors.As(err, &ge) {
		return ge.UserMessage()
	}
	return fallback
}
