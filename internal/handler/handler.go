// Package handler wires the attendance engine to its HTTP edge. Handlers
// translate requests into store/service calls and rejections into statuses;
// all domain rules live below this layer.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"rollcall/internal/attendance"
	"rollcall/internal/auth"
	"rollcall/internal/config"
	"rollcall/internal/metrics"
	"rollcall/internal/report"
	"rollcall/internal/session"
)

// ClassSource resolves the configured classroom.
type ClassSource interface {
	ClassByName(ctx context.Context, name string) (*attendance.Class, error)
}

// Handler carries the dependencies of every route.
type Handler struct {
	cfg      config.App
	sessions session.Store
	cache    *session.Cache
	svc      *attendance.Service
	records  attendance.RecordStore
	roster   attendance.Roster
	reports  *report.Service
	classes  ClassSource
}

// New builds a Handler. cache may be nil, in which case the active-session
// poll reads the store directly.
func New(cfg config.App, sessions session.Store, cache *session.Cache, svc *attendance.Service,
	records attendance.RecordStore, roster attendance.Roster, reports *report.Service, classes ClassSource) *Handler {
	return &Handler{
		cfg:      cfg,
		sessions: sessions,
		cache:    cache,
		svc:      svc,
		records:  records,
		roster:   roster,
		reports:  reports,
		classes:  classes,
	}
}

// Register mounts all routes on the engine.
func (h *Handler) Register(r *gin.Engine) {
	r.POST("/v1/login", h.login)
	r.GET("/v1/sessions/active", h.activeSession)
	r.GET("/v1/students/:enrollment_no", h.studentName)
	r.POST("/v1/attendance", h.markAttendance)

	ctl := r.Group("/v1", auth.ControllerAuth(h.cfg.JWTSigningKey, h.cfg.JWTIssuer))
	ctl.POST("/sessions", h.startSession)
	ctl.POST("/sessions/:id/end", h.endSession)
	ctl.GET("/sessions", h.listSessions)
	ctl.GET("/sessions/:id/records", h.sessionRecords)
	ctl.GET("/report", h.reportGrid)
	ctl.GET("/report/export", h.reportExport)
	ctl.GET("/attendance/days/:date", h.dayOverview)
	ctl.PUT("/attendance/days/:date", h.setPresence)
	ctl.DELETE("/attendance/days/:date", h.deleteDay)
}

func (h *Handler) class(ctx context.Context) (*attendance.Class, error) {
	cls, err := h.classes.ClassByName(ctx, h.cfg.ClassName)
	if err != nil {
		return nil, err
	}
	if cls == nil {
		return nil, fmt.Errorf("class %q not configured", h.cfg.ClassName)
	}
	return cls, nil
}

func (h *Handler) login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Username != h.cfg.ControllerUser || req.Password != h.cfg.ControllerPass {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
		return
	}
	token, exp, err := auth.Issue(req.Username, h.cfg.JWTIssuer, h.cfg.JWTSigningKey, h.cfg.AccessTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token, "expires_at": exp.Unix()})
}

// activeSession is the student polling endpoint. It reports the open window
// without the token, which students receive out of band.
func (h *Handler) activeSession(c *gin.Context) {
	cls, err := h.class(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "class lookup failed"})
		return
	}

	var sess *session.Session
	if h.cache != nil {
		sess, err = h.cache.Active(c.Request.Context(), cls.ID)
	} else {
		sess, err = h.sessions.Active(c.Request.Context(), cls.ID)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session lookup failed"})
		return
	}
	if sess == nil {
		c.JSON(http.StatusOK, gin.H{"active": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"active":            true,
		"session_id":        sess.ID,
		"class_name":        cls.ClassName,
		"remaining_seconds": sess.RemainingSeconds(time.Now().UTC()),
	})
}

func (h *Handler) studentName(c *gin.Context) {
	st, err := h.roster.StudentByEnrollment(c.Request.Context(), normalizeEnrollment(c.Param("enrollment_no")))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if st == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "student not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enrollment_no": st.EnrollmentNo, "name": st.Name})
}

func (h *Handler) markAttendance(c *gin.Context) {
	// Coordinates bind through pointers: 0 is a legal latitude and
	// longitude, so presence has to be distinguishable from zero.
	var req struct {
		SessionID    string   `json:"session_id"`
		SessionToken string   `json:"session_token"`
		EnrollmentNo string   `json:"enrollment_no" binding:"required"`
		Latitude     *float64 `json:"latitude" binding:"required"`
		Longitude    *float64 `json:"longitude" binding:"required"`
		Fingerprint  string   `json:"fingerprint"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.SessionID == "" && req.SessionToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id or session_token required"})
		return
	}

	rec, err := h.svc.Mark(c.Request.Context(), attendance.MarkRequest{
		SessionID:    req.SessionID,
		SessionToken: req.SessionToken,
		EnrollmentNo: req.EnrollmentNo,
		Latitude:     *req.Latitude,
		Longitude:    *req.Longitude,
		Fingerprint:  req.Fingerprint,
	})
	if err != nil {
		var rej *attendance.Rejection
		if errors.As(err, &rej) {
			body := gin.H{"code": rej.Code, "error": rej.Message}
			if rej.Code == attendance.RejectOutOfRange {
				body["distance_meters"] = rej.DistanceMeters
			}
			c.JSON(rejectionStatus(rej.Code), body)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "attendance could not be recorded"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"record_id": rec.ID, "marked_at": rec.MarkedAt})
}

// rejectionStatus maps validation outcomes to HTTP statuses. These mirror
// what students and the dashboard expect; none of them is a server fault.
func rejectionStatus(code attendance.RejectCode) int {
	switch code {
	case attendance.RejectSessionNotFound, attendance.RejectStudentNotFound:
		return http.StatusNotFound
	case attendance.RejectSessionExpired:
		return http.StatusBadRequest
	case attendance.RejectAlreadyMarked:
		return http.StatusConflict
	case attendance.RejectOutOfRange, attendance.RejectDeviceAlreadyUsed, attendance.RejectStudentDeviceMismatch:
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}

func (h *Handler) startSession(c *gin.Context) {
	var req struct {
		Latitude        *float64 `json:"latitude" binding:"required"`
		Longitude       *float64 `json:"longitude" binding:"required"`
		RadiusMeters    float64  `json:"radius_meters"`
		DurationSeconds int      `json:"duration_seconds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "location data is required"})
		return
	}

	cls, err := h.class(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "class lookup failed"})
		return
	}

	radius := req.RadiusMeters
	if radius <= 0 {
		radius = cls.RadiusMeters
	}
	if radius <= 0 {
		radius = h.cfg.GeofenceRadiusM
	}
	duration := h.cfg.SessionDuration
	if req.DurationSeconds > 0 {
		duration = time.Duration(req.DurationSeconds) * time.Second
	}

	sess, err := h.sessions.Start(c.Request.Context(), cls.ID, *req.Latitude, *req.Longitude, radius, duration)
	if errors.Is(err, session.ErrActiveSessionExists) {
		c.JSON(http.StatusConflict, gin.H{"error": "an active session already exists"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session could not be started"})
		return
	}
	if h.cache != nil {
		h.cache.Invalidate(c.Request.Context(), cls.ID)
	}
	metrics.SessionsStartedTotal.Inc()
	c.JSON(http.StatusCreated, sess)
}

func (h *Handler) endSession(c *gin.Context) {
	if err := h.sessions.End(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session could not be ended"})
		return
	}
	if h.cache != nil {
		if cls, err := h.class(c.Request.Context()); err == nil {
			h.cache.Invalidate(c.Request.Context(), cls.ID)
		}
	}
	metrics.SessionsEndedTotal.Inc()
	c.JSON(http.StatusOK, gin.H{"ended": true})
}

func (h *Handler) listSessions(c *gin.Context) {
	cls, err := h.class(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "class lookup failed"})
		return
	}
	sessions, err := h.sessions.List(c.Request.Context(), cls.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handler) sessionRecords(c *gin.Context) {
	entries, err := h.records.ListBySession(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "record list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": entries})
}

func (h *Handler) reportGrid(c *gin.Context) {
	cls, err := h.class(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "class lookup failed"})
		return
	}
	grid, err := h.reports.Grid(c.Request.Context(), cls.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, grid)
}

func (h *Handler) reportExport(c *gin.Context) {
	cls, err := h.class(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "class lookup failed"})
		return
	}
	grid, err := h.reports.Grid(c.Request.Context(), cls.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	buf, err := report.Export(grid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}
	metrics.ReportExportsTotal.Inc()
	c.Header("Content-Disposition", `attachment; filename="attendance_report.xlsx"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

func (h *Handler) dayOverview(c *gin.Context) {
	day, ok := h.parseDay(c)
	if !ok {
		return
	}
	cls, err := h.class(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "class lookup failed"})
		return
	}
	overview, err := h.svc.DayOverview(c.Request.Context(), cls.ID, day)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "overview failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": day.Format("2006-01-02"), "students": overview})
}

func (h *Handler) setPresence(c *gin.Context) {
	day, ok := h.parseDay(c)
	if !ok {
		return
	}
	var req struct {
		StudentID string `json:"student_id" binding:"required"`
		IsPresent *bool  `json:"is_present" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cls, err := h.class(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "class lookup failed"})
		return
	}
	if err := h.svc.SetPresence(c.Request.Context(), cls.ID, day, req.StudentID, *req.IsPresent); err != nil {
		if errors.Is(err, attendance.ErrEditWindowClosed) {
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "attendance could not be updated"})
		return
	}
	if h.cache != nil {
		h.cache.Invalidate(c.Request.Context(), cls.ID)
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

func (h *Handler) deleteDay(c *gin.Context) {
	day, ok := h.parseDay(c)
	if !ok {
		return
	}
	cls, err := h.class(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "class lookup failed"})
		return
	}
	deleted, err := h.svc.DeleteDay(c.Request.Context(), cls.ID, day)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "day delete failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (h *Handler) parseDay(c *gin.Context) (time.Time, bool) {
	day, err := time.Parse("2006-01-02", c.Param("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return time.Time{}, false
	}
	return day.UTC(), true
}

func normalizeEnrollment(no string) string {
	return strings.ToUpper(strings.TrimSpace(no))
}
