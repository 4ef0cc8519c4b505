package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/meetingmind/internal/export"
	"github.com/mohammad-safakhou/meetingmind/internal/runtime"
	"github.com/mohammad-safakhou/meetingmind/models"
)

var crmTypes = map[string]bool{"hubspot": true, "salesforce": true}

// MeetingsHandler serves stored meetings and queues post-processing.
type MeetingsHandler struct {
	Store  MeetingStore
	Jobs   JobEnqueuer
	Live   Live
	Shares ShareStore
}

func (h *MeetingsHandler) Register(g *echo.Group) {
	read := runtime.RequireScopes(runtime.ScopeRead)
	write := runtime.RequireScopes(runtime.ScopeWrite)
	g.GET("", h.list, read)
	g.GET("/:id", h.get, read)
	g.GET("/:id/transcript.md", h.transcript, read)
	g.POST("/:id/summary/regenerate", h.regenerate, write)
	g.POST("/:id/sync-crm", h.syncCRM, write)
}

func userID(c echo.Context) string {
	if v, ok := c.Get("user_id").(string); ok {
		return v
	}
	return ""
}

// owned loads a meeting the caller may see. Meetings recorded without an
// owner are visible to every authenticated caller.
func (h *MeetingsHandler) owned(c echo.Context) (models.Meeting, error) {
	m, err := h.Store.GetMeeting(c.Request().Context(), c.Param("id"))
	if errors.Is(err, models.ErrMeetingNotFound) {
		return m, echo.NewHTTPError(http.StatusNotFound, "meeting not found")
	}
	if err != nil {
		return m, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if m.UserID != "" && m.UserID != userID(c) {
		return models.Meeting{}, echo.NewHTTPError(http.StatusNotFound, "meeting not found")
	}
	return m, nil
}

func (h *MeetingsHandler) isLive(id string) bool {
	if h.Live == nil {
		return false
	}
	for _, a := range h.Live.Active() {
		if a == id {
			return true
		}
	}
	return false
}

func (h *MeetingsHandler) list(c echo.Context) error {
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be within 1..500")
		}
		limit = n
	}
	ms, err := h.Store.ListMeetings(c.Request().Context(), userID(c), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := MeetingList{Meetings: ms}
	for _, m := range ms {
		if h.isLive(m.ID) {
			out.Active = append(out.Active, m.ID)
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (h *MeetingsHandler) get(c echo.Context) error {
	m, err := h.owned(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	segs, err := h.Store.ListSegments(ctx, m.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	items, err := h.Store.ListActionItems(ctx, m.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	detail := MeetingDetail{Meeting: m, Live: h.isLive(m.ID), Transcript: segs, ActionItems: items}
	if h.Shares != nil {
		if detail.ShareLinks, err = h.Shares.ListShareLinks(ctx, m.ID); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(http.StatusOK, detail)
}

func (h *MeetingsHandler) transcript(c echo.Context) error {
	m, err := h.owned(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	segs, err := h.Store.ListSegments(ctx, m.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	items, err := h.Store.ListActionItems(ctx, m.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `inline; filename="`+m.ID+`.md"`)
	return c.Blob(http.StatusOK, "text/markdown; charset=utf-8", []byte(export.RenderMarkdown(m, segs, items)))
}

func (h *MeetingsHandler) regenerate(c echo.Context) error {
	m, err := h.owned(c)
	if err != nil {
		return err
	}
	if m.Status == models.MeetingStatusInProgress || h.isLive(m.ID) {
		return echo.NewHTTPError(http.StatusConflict, "meeting still in progress")
	}
	var req RegenerateRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	if strings.TrimSpace(req.Reason) == "" {
		req.Reason = "requested"
	}
	payload := models.RegenerateSummaryJob{MeetingID: m.ID, Reason: req.Reason}
	if err := h.Jobs.Enqueue(c.Request().Context(), models.JobRegenerateSummary, payload); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusAccepted, QueuedResponse{MeetingID: m.ID, Job: models.JobRegenerateSummary, Status: "queued"})
}

func (h *MeetingsHandler) syncCRM(c echo.Context) error {
	m, err := h.owned(c)
	if err != nil {
		return err
	}
	var req CRMSyncRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.CRMType = strings.ToLower(strings.TrimSpace(req.CRMType))
	if req.CRMType != "" && !crmTypes[req.CRMType] {
		return echo.NewHTTPError(http.StatusBadRequest, "crmType must be hubspot or salesforce")
	}
	payload := models.CRMSyncJob{MeetingID: m.ID, CRMType: req.CRMType, DealID: strings.TrimSpace(req.DealID)}
	if err := h.Jobs.Enqueue(c.Request().Context(), models.JobCRMSync, payload); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusAccepted, QueuedResponse{MeetingID: m.ID, Job: models.JobCRMSync, Status: "queued"})
}
