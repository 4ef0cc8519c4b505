package models

import (
	"errors"
	"time"
)

// ErrMeetingNotFound is returned when a meeting record does not exist
var ErrMeetingNotFound = errors.New("meeting not found")

// ErrShareLinkNotFound is returned for unknown share tokens.
var ErrShareLinkNotFound = errors.New("share link not found")

// Event types pushed to meeting subscribers.
const (
	EventTranscript = "TRANSCRIPT"
	EventInsights   = "INSIGHTS"
	EventFinalized  = "FINALIZED"
)

// Event is the outbound envelope delivered to every subscriber of a meeting.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Segment is a piece of transcript attributed to a stable speaker label.
// Finalized segments are immutable once appended to a session.
type Segment struct {
	ID         string    `json:"id"`
	MeetingID  string    `json:"meetingId"`
	Text       string    `json:"text"`
	Speaker    string    `json:"speaker"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence"`
	IsFinal    bool      `json:"isFinal"`
}

// ActionItem is a task surfaced by insight extraction.
type ActionItem struct {
	ID        int64      `json:"id,omitempty"`
	MeetingID string     `json:"meetingId"`
	Task      string     `json:"task"`
	Owner     string     `json:"owner"`
	Deadline  *time.Time `json:"deadline,omitempty"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"createdAt,omitempty"`
}

// ActionItemStatusPending is the status assigned to freshly extracted action items.
const ActionItemStatusPending = "PENDING"

// Insights is the structured output of one extraction batch.
type Insights struct {
	ActionItems []InsightActionItem `json:"actionItems"`
	Decisions   []string            `json:"decisions"`
	Topics      []string            `json:"topics"`
}

// InsightActionItem is the action item shape as returned by the language model.
type InsightActionItem struct {
	Task     string `json:"task"`
	Owner    string `json:"owner"`
	Deadline string `json:"deadline,omitempty"`
}

// Empty reports whether the batch carries nothing worth emitting.
func (i Insights) Empty() bool {
	return len(i.ActionItems) == 0 && len(i.Decisions) == 0 && len(i.Topics) == 0
}

// Summary is produced once per session at finalization.
type Summary struct {
	ExecutiveSummary string   `json:"executiveSummary"`
	KeyPoints        []string `json:"keyPoints"`
	Decisions        []string `json:"decisions"`
}

// MeetingStatus is the persisted lifecycle status of a meeting record.
type MeetingStatus string

const (
	MeetingStatusInProgress    MeetingStatus = "IN_PROGRESS"
	MeetingStatusCompleted     MeetingStatus = "COMPLETED"
	MeetingStatusFailedSummary MeetingStatus = "FAILED_SUMMARY"
)

// MeetingResult carries everything finalization writes back to the meeting record.
type MeetingResult struct {
	MeetingID        string        `json:"meetingId"`
	Status           MeetingStatus `json:"status"`
	EndedAt          time.Time     `json:"endedAt"`
	Duration         time.Duration `json:"duration"`
	Summary          Summary       `json:"summary"`
	SegmentCount     int           `json:"segmentCount"`
	TranscriptChars  int           `json:"transcriptChars"`
	SummaryTruncated bool          `json:"summaryTruncated"`
}

// Meeting is the stored meeting record.
type Meeting struct {
	ID               string        `json:"id"`
	UserID           string        `json:"userId,omitempty"`
	Title            string        `json:"title,omitempty"`
	Status           MeetingStatus `json:"status"`
	StartedAt        time.Time     `json:"startedAt"`
	EndedAt          *time.Time    `json:"endedAt,omitempty"`
	DurationSeconds  int64         `json:"durationSeconds"`
	Summary          Summary       `json:"summary"`
	SummaryTruncated bool          `json:"summaryTruncated"`
	FollowUpEmail    string        `json:"followUpEmail,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// Job types handed to the post-processing queue.
const (
	JobGenerateFollowUp  = "meeting.followup.generate"
	JobCRMSync           = "meeting.crm.sync"
	JobRegenerateSummary = "meeting.summary.regenerate"
	JobPayloadVersion    = "v1"
)

// FollowUpJob is the payload of JobGenerateFollowUp.
type FollowUpJob struct {
	MeetingID string  `json:"meeting_id"`
	Summary   Summary `json:"summary"`
}

// CRMSyncJob is the payload of JobCRMSync.
type CRMSyncJob struct {
	MeetingID string `json:"meeting_id"`
	CRMType   string `json:"crm_type,omitempty"`
	DealID    string `json:"deal_id,omitempty"`
}

// RegenerateSummaryJob is the payload of JobRegenerateSummary.
type RegenerateSummaryJob struct {
	MeetingID string `json:"meeting_id"`
	Reason    string `json:"reason,omitempty"`
}

// ShareLink grants read-only access to one meeting until it expires.
type ShareLink struct {
	Token            string    `json:"token"`
	MeetingID        string    `json:"meetingId"`
	ExpiresAt        time.Time `json:"expiresAt"`
	IncludeRecording bool      `json:"includeRecording"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Expired reports whether the link is no longer valid at now.
func (l ShareLink) Expired(now time.Time) bool { return !now.Before(l.ExpiresAt) }
