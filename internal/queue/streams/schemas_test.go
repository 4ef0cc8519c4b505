package streams

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/meetingmind/models"
)

func TestJobSchemasValidate(t *testing.T) {
	reg, err := NewJobRegistry()
	if err != nil {
		t.Fatalf("register job schemas: %v", err)
	}

	cases := []struct {
		jobType string
		payload interface{}
	}{
		{models.JobGenerateFollowUp, models.FollowUpJob{MeetingID: "m1", Summary: models.Summary{ExecutiveSummary: "ok", KeyPoints: []string{"a"}}}},
		{models.JobGenerateFollowUp, models.FollowUpJob{MeetingID: "m1"}},
		{models.JobCRMSync, models.CRMSyncJob{MeetingID: "m1"}},
		{models.JobCRMSync, models.CRMSyncJob{MeetingID: "m1", CRMType: "hubspot", DealID: "d-9"}},
		{models.JobRegenerateSummary, models.RegenerateSummaryJob{MeetingID: "m1", Reason: "summary generation failed"}},
	}
	for _, tc := range cases {
		data, err := json.Marshal(tc.payload)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if err := reg.Validate(tc.jobType, models.JobPayloadVersion, data); err != nil {
			t.Fatalf("%s payload %s should validate: %v", tc.jobType, data, err)
		}
	}
}

func TestJobSchemasReject(t *testing.T) {
	reg, err := NewJobRegistry()
	if err != nil {
		t.Fatalf("register job schemas: %v", err)
	}
	bad := map[string]string{
		models.JobGenerateFollowUp:  `{"meeting_id":"m1"}`,
		models.JobCRMSync:           `{"meeting_id":""}`,
		models.JobRegenerateSummary: `{"reason":"x"}`,
	}
	for jobType, payload := range bad {
		if err := reg.Validate(jobType, models.JobPayloadVersion, []byte(payload)); err == nil {
			t.Fatalf("%s payload %s should be rejected", jobType, payload)
		}
	}
	if err := reg.Validate("meeting.unknown", "v1", []byte(`{}`)); err == nil {
		t.Fatalf("unknown job type should be rejected")
	}
	if err := reg.Validate(models.JobCRMSync, "v2", []byte(`{"meeting_id":"m1"}`)); err == nil || !strings.Contains(err.Error(), "v2") {
		t.Fatalf("unknown version should be rejected, got %v", err)
	}
	if !reg.Known(models.JobCRMSync) || reg.Known("meeting.unknown") {
		t.Fatalf("Known mismatch")
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(models.JobCRMSync, models.JobPayloadVersion, models.CRMSyncJob{MeetingID: "m1"})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	env.EventID = "evt-1"
	env.MeetingID = "m1"
	raw, err := env.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	back, err := UnmarshalEnvelope(raw)
	if err != nil {
		t.Fatalf("UnmarshalEnvelope: %v", err)
	}
	var job models.CRMSyncJob
	if err := back.Decode(&job); err != nil || job.MeetingID != "m1" {
		t.Fatalf("Decode: %v %+v", err, job)
	}
	if back.OccurredAt.IsZero() || time.Since(back.OccurredAt) > time.Minute {
		t.Fatalf("occurred_at not preserved: %v", back.OccurredAt)
	}
}

func TestEnvelopeValidateBasic(t *testing.T) {
	if _, err := UnmarshalEnvelope([]byte(`{"event_type":"x","payload_version":"v1","data":{}}`)); err == nil {
		t.Fatalf("missing event_id should fail")
	}
	if _, err := UnmarshalEnvelope([]byte(`not json`)); err == nil {
		t.Fatalf("invalid json should fail")
	}
}
