package models

// SessionState is the interaction state of an analysis session.
type SessionState string

const (
	SessionStateIdle       SessionState = "idle"
	SessionStateExtracting SessionState = "extracting"
	SessionStateGenerating SessionState = "generating"
	SessionStateSuccess    SessionState = "success"
	SessionStateFailure    SessionState = "failure"
)

// InFlight reports whether a pipeline is currently running.
func (s SessionState) InFlight() bool {
	return s == SessionStateExtracting || s == SessionStateGenerating
}

// Terminal reports whether the last pipeline run has finished.
func (s SessionState) Terminal() bool {
	return s == SessionStateSuccess || s == SessionStateFailure
}

// AnalysisSession is the snapshot of one user's analysis session.
type AnalysisSession struct {
	ID               string       `json:"id" msgpack:"id"`
	State            SessionState `json:"state" msgpack:"state"`
	File             *FileInfo    `json:"file,omitempty" msgpack:"file,omitempty"`
	Report           *ReportData  `json:"report,omitempty" msgpack:"report,omitempty"`
	ReportID         string       `json:"reportId,omitempty" msgpack:"reportId,omitempty"`
	Message          string       `json:"message,omitempty" msgpack:"message,omitempty"`
	ExtractedChars   int          `json:"extractedChars,omitempty" msgpack:"extractedChars,omitempty"`
	StartedAt        int64        `json:"startedAt,omitempty" msgpack:"startedAt,omitempty"`   // Unix ms
	FinishedAt       int64        `json:"finishedAt,omitempty" msgpack:"finishedAt,omitempty"` // Unix ms
	ProcessingTimeMs int64        `json:"processingTimeMs,omitempty" msgpack:"processingTimeMs,omitempty"`
}

// NewAnalysisSession creates an AnalysisSession in idle state.
func NewAnalysisSession(id string) *AnalysisSession {
	return &AnalysisSession{
		ID:    id,
		State: SessionStateIdle,
	}
}

// Clone returns a copy that shares nothing mutable with the original.
func (s *AnalysisSession) Clone() *AnalysisSession {
	if s == nil {
		return nil
	}
	out := *s
	if s.File != nil {
		f := *s.File
		out.File = &f
	}
	out.Report = s.Report.Clone()
	return &out
}
