package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/meetingmind/internal/runtime"
	"github.com/mohammad-safakhou/meetingmind/models"
)

const (
	defaultShareDays = 7
	maxShareDays     = 365
)

// ShareStore persists share links.
type ShareStore interface {
	CreateShareLink(ctx context.Context, link models.ShareLink) error
	GetShareLink(ctx context.Context, token string) (models.ShareLink, error)
	ListShareLinks(ctx context.Context, meetingID string) ([]models.ShareLink, error)
}

// ShareHandler issues share links and serves shared meetings without auth.
type ShareHandler struct {
	Meetings *MeetingsHandler
	Shares   ShareStore
	BaseURL  string
	now      func() time.Time
}

func (h *ShareHandler) clock() time.Time {
	if h.now != nil {
		return h.now()
	}
	return time.Now()
}

// Register mounts link creation under the authenticated meetings group.
func (h *ShareHandler) Register(g *echo.Group) {
	g.POST("/:id/share", h.create, runtime.RequireScopes(runtime.ScopeWrite))
}

// RegisterPublic mounts the token-addressed read-only view.
func (h *ShareHandler) RegisterPublic(e *echo.Echo) {
	e.GET("/shared/:token", h.shared)
}

// URL is the public address of a share token.
func (h *ShareHandler) URL(token string) string {
	return strings.TrimRight(h.BaseURL, "/") + "/shared/" + token
}

func (h *ShareHandler) create(c echo.Context) error {
	m, err := h.Meetings.owned(c)
	if err != nil {
		return err
	}
	var req ShareRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	days := defaultShareDays
	if req.ExpiresInDays != nil {
		days = *req.ExpiresInDays
	}
	if days < 1 || days > maxShareDays {
		return echo.NewHTTPError(http.StatusBadRequest, "expiresInDays must be between 1 and 365")
	}
	now := h.clock().UTC()
	link := models.ShareLink{
		Token:            uuid.NewString(),
		MeetingID:        m.ID,
		ExpiresAt:        now.Add(time.Duration(days) * 24 * time.Hour),
		IncludeRecording: req.IncludeRecording,
		CreatedAt:        now,
	}
	if err := h.Shares.CreateShareLink(c.Request().Context(), link); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, ShareResponse{URL: h.URL(link.Token), Token: link.Token, ExpiresAt: link.ExpiresAt})
}

func (h *ShareHandler) shared(c echo.Context) error {
	ctx := c.Request().Context()
	link, err := h.Shares.GetShareLink(ctx, c.Param("token"))
	if errors.Is(err, models.ErrShareLinkNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "share link not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if link.Expired(h.clock()) {
		return echo.NewHTTPError(http.StatusGone, "share link expired")
	}
	store := h.Meetings.Store
	m, err := store.GetMeeting(ctx, link.MeetingID)
	if errors.Is(err, models.ErrMeetingNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "share link not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	segs, err := store.ListSegments(ctx, m.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	items, err := store.ListActionItems(ctx, m.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	// the owner and follow-up draft stay private
	m.UserID = ""
	m.FollowUpEmail = ""
	return c.JSON(http.StatusOK, SharedMeeting{Meeting: m, Transcript: segs, ActionItems: items, ExpiresAt: link.ExpiresAt})
}
