package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrProjectBusy is returned when another caller holds the project's lease.
var ErrProjectBusy = errors.New("project busy")

// Status is the lifecycle status of a project.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusPreview  Status = "preview"
	StatusApproved Status = "approved"
	StatusKilled   Status = "killed"
	StatusFailed   Status = "failed"
)

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusDraft, StatusPreview, StatusApproved, StatusKilled, StatusFailed:
		return st, nil
	}
	return "", errors.New("unknown status " + s)
}

// Stage is one step of the fixed pipeline sequence.
type Stage string

const (
	StageIdeaSelection      Stage = "idea_selection"
	StageScriptGeneration   Stage = "script_generation"
	StageVoiceSynthesis     Stage = "voice_synthesis"
	StageFootageAcquisition Stage = "footage_acquisition"
	StageAssembly           Stage = "assembly"
	StageMetadataExport     Stage = "metadata_export"
)

// Stages lists the pipeline in execution order.
var Stages = []Stage{
	StageIdeaSelection,
	StageScriptGeneration,
	StageVoiceSynthesis,
	StageFootageAcquisition,
	StageAssembly,
	StageMetadataExport,
}

// Checkpoint records the last completed stage of a project. The zero value
// means no stage has completed yet.
type Checkpoint string

const (
	CheckpointNone          Checkpoint = ""
	CheckpointIdeaSelected  Checkpoint = "idea_selected"
	CheckpointScriptReady   Checkpoint = "script_ready"
	CheckpointVoiceReady    Checkpoint = "voice_ready"
	CheckpointFootageReady  Checkpoint = "footage_ready"
	CheckpointAssembled     Checkpoint = "assembled"
	CheckpointMetadataReady Checkpoint = "metadata_ready"
)

var checkpoints = []Checkpoint{
	CheckpointIdeaSelected,
	CheckpointScriptReady,
	CheckpointVoiceReady,
	CheckpointFootageReady,
	CheckpointAssembled,
	CheckpointMetadataReady,
}

// Index returns the position of s in Stages, or -1.
func (s Stage) Index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}

// Checkpoint returns the checkpoint reached once s succeeds.
func (s Stage) Checkpoint() Checkpoint {
	if i := s.Index(); i >= 0 {
		return checkpoints[i]
	}
	return CheckpointNone
}

// ParseStage validates a stage name.
func ParseStage(s string) (Stage, error) {
	if st := Stage(s); st.Index() >= 0 {
		return st, nil
	}
	return "", errors.New("unknown stage " + s)
}

// Completed returns how many stages have finished at checkpoint c.
func (c Checkpoint) Completed() int {
	for i, cp := range checkpoints {
		if cp == c {
			return i + 1
		}
	}
	return 0
}

// Next returns the stage that runs after checkpoint c. ok is false once the
// pipeline is complete.
func (c Checkpoint) Next() (Stage, bool) {
	n := c.Completed()
	if n >= len(Stages) {
		return "", false
	}
	return Stages[n], true
}

// Before returns the checkpoint that precedes stage s, i.e. the checkpoint a
// project is reset to when s and everything after it is invalidated.
func Before(s Stage) Checkpoint {
	i := s.Index()
	if i <= 0 {
		return CheckpointNone
	}
	return checkpoints[i-1]
}

// FootageClip is one stock clip selected for a project.
type FootageClip struct {
	ID      string  `json:"id"`
	Ref     string  `json:"ref"`
	Keyword string  `json:"keyword"`
	Seconds float64 `json:"seconds,omitempty"`
}

// Artifacts holds one optional locator per stage. A field is only set once
// its producing stage has committed.
type Artifacts struct {
	Idea     string        `json:"idea,omitempty"`
	Script   string        `json:"script,omitempty"`
	Voice    string        `json:"voice,omitempty"`
	Footage  []FootageClip `json:"footage,omitempty"`
	Assembly string        `json:"assembly,omitempty"`
	Metadata string        `json:"metadata,omitempty"`
}

// Has reports whether the artifact of stage s is populated.
func (a Artifacts) Has(s Stage) bool {
	switch s {
	case StageIdeaSelection:
		return a.Idea != ""
	case StageScriptGeneration:
		return a.Script != ""
	case StageVoiceSynthesis:
		return a.Voice != ""
	case StageFootageAcquisition:
		return len(a.Footage) > 0
	case StageAssembly:
		return a.Assembly != ""
	case StageMetadataExport:
		return a.Metadata != ""
	}
	return false
}

// Clear drops the artifact of stage s.
func (a *Artifacts) Clear(s Stage) {
	switch s {
	case StageIdeaSelection:
		a.Idea = ""
	case StageScriptGeneration:
		a.Script = ""
	case StageVoiceSynthesis:
		a.Voice = ""
	case StageFootageAcquisition:
		a.Footage = nil
	case StageAssembly:
		a.Assembly = ""
	case StageMetadataExport:
		a.Metadata = ""
	}
}

// Project is the persisted state of one video.
type Project struct {
	ID           string
	Topic        string
	Niche        string
	Status       Status
	CurrentStage Checkpoint
	Generation   int
	Voice        string
	Music        string
	Artifacts    Artifacts
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ApprovedAt   time.Time
}

// Outcome is the result of one stage attempt.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeTransientFailure Outcome = "transient_failure"
	OutcomeFatalFailure     Outcome = "fatal_failure"
)

// StageAttempt is one execution attempt of a stage. FinishedAt is zero while
// the attempt is in flight.
type StageAttempt struct {
	ID         int64
	ProjectID  string
	Stage      Stage
	Generation int
	Number     int
	StartedAt  time.Time
	FinishedAt time.Time
	Outcome    Outcome
	Detail     string
}

// Open reports whether the attempt has not finished yet.
func (a StageAttempt) Open() bool {
	return a.FinishedAt.IsZero()
}

// DedupKind distinguishes ledger records.
type DedupKind string

const (
	DedupTopic   DedupKind = "topic"
	DedupFootage DedupKind = "footage"
)

// DedupRecord is one binding dedup fact.
type DedupRecord struct {
	Kind       DedupKind
	Key        string
	ProjectID  string
	RecordedAt time.Time
}
