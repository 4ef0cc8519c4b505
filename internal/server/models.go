package server

import (
	"time"

	"github.com/mohammad-safakhou/meetingmind/models"
)

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// MeetingDetail is a stored meeting with its transcript and action items.
type MeetingDetail struct {
	models.Meeting
	Live        bool                `json:"live"`
	Transcript  []models.Segment    `json:"transcript"`
	ActionItems []models.ActionItem `json:"actionItems"`
	ShareLinks  []models.ShareLink  `json:"shareLinks,omitempty"`
}

// MeetingList wraps the meetings of the caller.
type MeetingList struct {
	Meetings []models.Meeting `json:"meetings"`
	Active   []string         `json:"active,omitempty"`
}

// RegenerateRequest is the optional body of a summary regeneration.
type RegenerateRequest struct {
	Reason string `json:"reason"`
}

// CRMSyncRequest selects the CRM target of a sync.
type CRMSyncRequest struct {
	CRMType string `json:"crmType"`
	DealID  string `json:"dealId"`
}

// QueuedResponse acknowledges an enqueued job.
type QueuedResponse struct {
	MeetingID string `json:"meetingId"`
	Job       string `json:"job"`
	Status    string `json:"status"`
}

// ShareRequest configures a new share link. ExpiresInDays defaults to 7.
type ShareRequest struct {
	ExpiresInDays    *int `json:"expiresInDays"`
	IncludeRecording bool `json:"includeRecording"`
}

// ShareResponse returns the public address of a share link.
type ShareResponse struct {
	URL       string    `json:"url"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SharedMeeting is the read-only view served for a share token.
type SharedMeeting struct {
	models.Meeting
	Transcript  []models.Segment    `json:"transcript"`
	ActionItems []models.ActionItem `json:"actionItems"`
	ExpiresAt   time.Time           `json:"expiresAt"`
}
