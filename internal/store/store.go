package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/mohammad-safakhou/meetingmind/config"
	"github.com/mohammad-safakhou/meetingmind/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// Store persists meetings, transcript segments and action items in Postgres.
type Store struct {
	DB *sql.DB
}

// ErrNotFound is returned when a meeting row does not exist.
var ErrNotFound = models.ErrMeetingNotFound

var (
	metricsOnce   sync.Once
	writeCounter  otelmetric.Int64Counter
	errorsCounter otelmetric.Int64Counter
)

func initStoreMetrics() {
	meter := otel.Meter("store")
	var err error
	if writeCounter, err = meter.Int64Counter("store_rows_written_total"); err != nil {
		return
	}
	errorsCounter, _ = meter.Int64Counter("store_errors_total")
}

func recordWrite(ctx context.Context, table string, rows int, err error) {
	metricsOnce.Do(initStoreMetrics)
	attrs := otelmetric.WithAttributes(attribute.String("table", table))
	if err != nil {
		if errorsCounter != nil {
			errorsCounter.Add(ctx, 1, attrs)
		}
		return
	}
	if writeCounter != nil {
		writeCounter.Add(ctx, int64(rows), attrs)
	}
}

// New opens the store using the postgres settings.
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	return NewWithDSN(ctx, cfg.DSN())
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.DB.Close() }

// Ping checks database reachability.
func (s *Store) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }

// StartMeeting records a meeting as IN_PROGRESS, creating it when absent.
func (s *Store) StartMeeting(ctx context.Context, meetingID, userID, title string, startedAt time.Time) error {
	if strings.TrimSpace(meetingID) == "" {
		return fmt.Errorf("meeting id required")
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO meetings (id, user_id, title, status, started_at, created_at, updated_at)
VALUES ($1, NULLIF($2,''), NULLIF($3,''), $4, $5, NOW(), NOW())
ON CONFLICT (id) DO UPDATE SET
  status     = EXCLUDED.status,
  started_at = EXCLUDED.started_at,
  ended_at   = NULL,
  updated_at = NOW()
`, meetingID, userID, title, string(models.MeetingStatusInProgress), startedAt.UTC())
	recordWrite(ctx, "meetings", 1, err)
	return err
}

// CompleteMeeting writes the finalization result onto the meeting row.
func (s *Store) CompleteMeeting(ctx context.Context, res models.MeetingResult) error {
	startedAt := res.EndedAt.Add(-res.Duration).UTC()
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO meetings (id, status, started_at, ended_at, duration_seconds,
                      executive_summary, key_points, decisions, summary_truncated,
                      segment_count, transcript_chars, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW(),NOW())
ON CONFLICT (id) DO UPDATE SET
  status            = EXCLUDED.status,
  ended_at          = EXCLUDED.ended_at,
  duration_seconds  = EXCLUDED.duration_seconds,
  executive_summary = EXCLUDED.executive_summary,
  key_points        = EXCLUDED.key_points,
  decisions         = EXCLUDED.decisions,
  summary_truncated = EXCLUDED.summary_truncated,
  segment_count     = EXCLUDED.segment_count,
  transcript_chars  = EXCLUDED.transcript_chars,
  updated_at        = NOW()
`, res.MeetingID, string(res.Status), startedAt, res.EndedAt.UTC(), int64(res.Duration/time.Second),
		res.Summary.ExecutiveSummary, pq.Array(nonNil(res.Summary.KeyPoints)), pq.Array(nonNil(res.Summary.Decisions)),
		res.SummaryTruncated, res.SegmentCount, res.TranscriptChars)
	recordWrite(ctx, "meetings", 1, err)
	return err
}

// UpdateSummary replaces the summary fields and status after regeneration.
func (s *Store) UpdateSummary(ctx context.Context, meetingID string, status models.MeetingStatus, sum models.Summary, truncated bool) error {
	res, err := s.DB.ExecContext(ctx, `
UPDATE meetings
SET status=$2,
    executive_summary=$3,
    key_points=$4,
    decisions=$5,
    summary_truncated=$6,
    updated_at=NOW()
WHERE id=$1
`, meetingID, string(status), sum.ExecutiveSummary, pq.Array(nonNil(sum.KeyPoints)), pq.Array(nonNil(sum.Decisions)), truncated)
	recordWrite(ctx, "meetings", 1, err)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// SetFollowUpEmail stores the generated follow-up email body.
func (s *Store) SetFollowUpEmail(ctx context.Context, meetingID, body string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE meetings SET follow_up_email=$2, updated_at=NOW() WHERE id=$1`, meetingID, body)
	recordWrite(ctx, "meetings", 1, err)
	if err != nil {
		return err
	}
	return expectOne(res)
}

const meetingColumns = `id, COALESCE(user_id,''), COALESCE(title,''), status, started_at, ended_at,
       COALESCE(duration_seconds,0), COALESCE(executive_summary,''), key_points, decisions,
       summary_truncated, COALESCE(follow_up_email,''), created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMeeting(row rowScanner) (models.Meeting, error) {
	var (
		m         models.Meeting
		status    string
		endedAt   sql.NullTime
		keyPoints pq.StringArray
		decisions pq.StringArray
	)
	if err := row.Scan(&m.ID, &m.UserID, &m.Title, &status, &m.StartedAt, &endedAt,
		&m.DurationSeconds, &m.Summary.ExecutiveSummary, &keyPoints, &decisions,
		&m.SummaryTruncated, &m.FollowUpEmail, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return models.Meeting{}, err
	}
	m.Status = models.MeetingStatus(status)
	if endedAt.Valid {
		t := endedAt.Time
		m.EndedAt = &t
	}
	m.Summary.KeyPoints = []string(keyPoints)
	m.Summary.Decisions = []string(decisions)
	return m, nil
}

// GetMeeting loads one meeting row.
func (s *Store) GetMeeting(ctx context.Context, meetingID string) (models.Meeting, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE id=$1`, meetingID)
	m, err := scanMeeting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Meeting{}, ErrNotFound
	}
	return m, err
}

// ListMeetings returns the newest meetings first. An empty userID lists all.
func (s *Store) ListMeetings(ctx context.Context, userID string, limit int) ([]models.Meeting, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT `+meetingColumns+`
FROM meetings
WHERE ($1 = '' OR user_id = $1)
ORDER BY started_at DESC
LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// InsertSegment appends one finalized segment. Segment ids are unique, so a
// replayed insert is ignored.
func (s *Store) InsertSegment(ctx context.Context, seg models.Segment) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO transcript_segments (id, meeting_id, speaker, text, confidence, spoken_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO NOTHING
`, seg.ID, seg.MeetingID, seg.Speaker, seg.Text, seg.Confidence, seg.Timestamp.UTC())
	recordWrite(ctx, "transcript_segments", 1, err)
	return err
}

// ListSegments returns a meeting's segments in arrival order.
func (s *Store) ListSegments(ctx context.Context, meetingID string) ([]models.Segment, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, meeting_id, speaker, text, confidence, spoken_at
FROM transcript_segments
WHERE meeting_id=$1
ORDER BY seq ASC`, meetingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Segment
	for rows.Next() {
		var seg models.Segment
		if err := rows.Scan(&seg.ID, &seg.MeetingID, &seg.Speaker, &seg.Text, &seg.Confidence, &seg.Timestamp); err != nil {
			return nil, err
		}
		seg.IsFinal = true
		out = append(out, seg)
	}
	return out, rows.Err()
}

// InsertActionItems stores a batch of action items in one transaction.
func (s *Store) InsertActionItems(ctx context.Context, items []models.ActionItem) (err error) {
	if len(items) == 0 {
		return nil
	}
	defer func() { recordWrite(ctx, "action_items", len(items), err) }()
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO action_items (meeting_id, task, owner, deadline, status)
VALUES ($1,$2,NULLIF($3,''),$4,$5)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, it := range items {
		status := it.Status
		if status == "" {
			status = models.ActionItemStatusPending
		}
		var deadline interface{}
		if it.Deadline != nil {
			deadline = it.Deadline.UTC()
		}
		if _, err = stmt.ExecContext(ctx, it.MeetingID, it.Task, it.Owner, deadline, status); err != nil {
			return fmt.Errorf("insert action item: %w", err)
		}
	}
	return tx.Commit()
}

// ListActionItems returns a meeting's action items oldest first.
func (s *Store) ListActionItems(ctx context.Context, meetingID string) ([]models.ActionItem, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, meeting_id, task, COALESCE(owner,''), deadline, status, created_at
FROM action_items
WHERE meeting_id=$1
ORDER BY id ASC`, meetingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ActionItem
	for rows.Next() {
		var (
			it       models.ActionItem
			deadline sql.NullTime
		)
		if err := rows.Scan(&it.ID, &it.MeetingID, &it.Task, &it.Owner, &deadline, &it.Status, &it.CreatedAt); err != nil {
			return nil, err
		}
		if deadline.Valid {
			t := deadline.Time
			it.Deadline = &t
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// ClaimIdempotency records a (scope, key) pair. It returns false when the
// pair was already claimed.
func (s *Store) ClaimIdempotency(ctx context.Context, scope, key string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
INSERT INTO idempotency_keys (scope, key, created_at)
VALUES ($1,$2,NOW())
ON CONFLICT (scope, key) DO NOTHING`, scope, key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CreateShareLink stores a new share link.
func (s *Store) CreateShareLink(ctx context.Context, link models.ShareLink) error {
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO share_links (token, meeting_id, expires_at, include_recording, created_at)
VALUES ($1,$2,$3,$4,$5)`, link.Token, link.MeetingID, link.ExpiresAt.UTC(), link.IncludeRecording, link.CreatedAt.UTC())
	recordWrite(ctx, "share_links", 1, err)
	if err != nil {
		return fmt.Errorf("insert share link: %w", err)
	}
	return nil
}

// GetShareLink resolves a share token. Expired links are returned as stored;
// callers decide how to treat them.
func (s *Store) GetShareLink(ctx context.Context, token string) (models.ShareLink, error) {
	var l models.ShareLink
	err := s.DB.QueryRowContext(ctx, `
SELECT token, meeting_id, expires_at, include_recording, created_at
FROM share_links WHERE token=$1`, token).Scan(&l.Token, &l.MeetingID, &l.ExpiresAt, &l.IncludeRecording, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return l, models.ErrShareLinkNotFound
	}
	return l, err
}

// ListShareLinks returns a meeting's share links newest first.
func (s *Store) ListShareLinks(ctx context.Context, meetingID string) ([]models.ShareLink, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT token, meeting_id, expires_at, include_recording, created_at
FROM share_links WHERE meeting_id=$1
ORDER BY created_at DESC`, meetingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.ShareLink
	for rows.Next() {
		var l models.ShareLink
		if err := rows.Scan(&l.Token, &l.MeetingID, &l.ExpiresAt, &l.IncludeRecording, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
