package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"rollcall/internal/attendance"
	"rollcall/internal/config"
	"rollcall/internal/report"
	"rollcall/internal/session"
)

const (
	centerLat = 23.828889
	centerLon = 78.775000
	nearLat   = 23.829339 // ~50m north of center
	farLat    = 23.830688 // ~200m north
)

type env struct {
	router   *gin.Engine
	cfg      config.App
	sessions *session.MemoryStore
	repo     *attendance.MemoryRepository
	sess     session.Session
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	cfg := config.App{
		JWTIssuer:       "rollcall-test",
		JWTSigningKey:   "test-signing-key",
		AccessTTL:       time.Hour,
		ControllerUser:  "controller",
		ControllerPass:  "controller_pass_123",
		ClassName:       "BA - Anthropology",
		SessionDuration: 30 * time.Minute,
		GeofenceRadiusM: 80,
	}

	sessions := session.NewMemoryStore()
	repo := attendance.NewMemoryRepository(sessions)
	repo.UpsertClass(attendance.Class{
		ID: "class-1", ClassName: cfg.ClassName,
		CenterLat: centerLat, CenterLon: centerLon, RadiusMeters: 80,
	})
	if err := repo.UpsertStudent(ctx, attendance.Student{
		ID: "stu-1", EnrollmentNo: "Y24120001", Name: "Asha Verma", Batch: "BA",
	}); err != nil {
		t.Fatalf("seed student: %v", err)
	}

	svc := attendance.NewService(sessions, repo, repo, false, 0)
	h := New(cfg, sessions, nil, svc, repo, repo, report.NewService(repo), repo)

	router := gin.New()
	h.Register(router)

	sess, err := sessions.Start(ctx, "class-1", centerLat, centerLon, 80, 30*time.Minute)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	return &env{router: router, cfg: cfg, sessions: sessions, repo: repo, sess: sess}
}

func (e *env) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) login(t *testing.T) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/v1/login", gin.H{
		"username": e.cfg.ControllerUser,
		"password": e.cfg.ControllerPass,
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return resp.AccessToken
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodPost, "/v1/login", gin.H{"username": "controller", "password": "nope"}, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestControllerRoutesRequireToken(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodGet, "/v1/sessions", nil, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestMarkAttendanceFlow(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/v1/attendance", gin.H{
		"session_token": e.sess.Token,
		"enrollment_no": "y24120001",
		"latitude":      nearLat,
		"longitude":     centerLon,
	}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("mark status = %d: %s", w.Code, w.Body.String())
	}

	// Duplicate submission.
	w = e.do(t, http.MethodPost, "/v1/attendance", gin.H{
		"session_token": e.sess.Token,
		"enrollment_no": "Y24120001",
		"latitude":      nearLat,
		"longitude":     centerLon,
	}, "")
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate status = %d, want 409", w.Code)
	}
}

func TestMarkAttendanceZeroCoordinates(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// A fence on the equator/prime-meridian intersection: 0 is a legal
	// coordinate and must not be treated as a missing field.
	if err := e.sessions.End(ctx, e.sess.ID); err != nil {
		t.Fatalf("end: %v", err)
	}
	sess, err := e.sessions.Start(ctx, "class-1", 0, 0, 80, 30*time.Minute)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	w := e.do(t, http.MethodPost, "/v1/attendance", gin.H{
		"session_token": sess.Token,
		"enrollment_no": "Y24120001",
		"latitude":      0.0,
		"longitude":     0.0,
	}, "")
	if w.Code != http.StatusCreated {
		t.Fatalf("mark at (0,0) status = %d, want 201: %s", w.Code, w.Body.String())
	}

	// Omitting a coordinate entirely is still a binding error.
	w = e.do(t, http.MethodPost, "/v1/attendance", gin.H{
		"session_token": sess.Token,
		"enrollment_no": "Y24120001",
		"latitude":      0.0,
	}, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing longitude status = %d, want 400", w.Code)
	}
}

func TestMarkAttendanceStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		body func(e *env) gin.H
		want int
	}{
		{
			name: "unknown session",
			body: func(e *env) gin.H {
				return gin.H{"session_token": "deadbeef", "enrollment_no": "Y24120001", "latitude": nearLat, "longitude": centerLon}
			},
			want: http.StatusNotFound,
		},
		{
			name: "unknown student",
			body: func(e *env) gin.H {
				return gin.H{"session_token": e.sess.Token, "enrollment_no": "Y24999999", "latitude": nearLat, "longitude": centerLon}
			},
			want: http.StatusNotFound,
		},
		{
			name: "out of range",
			body: func(e *env) gin.H {
				return gin.H{"session_token": e.sess.Token, "enrollment_no": "Y24120001", "latitude": farLat, "longitude": centerLon}
			},
			want: http.StatusForbidden,
		},
		{
			name: "missing session reference",
			body: func(e *env) gin.H {
				return gin.H{"enrollment_no": "Y24120001", "latitude": nearLat, "longitude": centerLon}
			},
			want: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			w := e.do(t, http.MethodPost, "/v1/attendance", tt.body(e), "")
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestMarkAttendanceOutOfRangeBody(t *testing.T) {
	e := newEnv(t)
	w := e.do(t, http.MethodPost, "/v1/attendance", gin.H{
		"session_token": e.sess.Token,
		"enrollment_no": "Y24120001",
		"latitude":      farLat,
		"longitude":     centerLon,
	}, "")
	var resp struct {
		Code           string  `json:"code"`
		DistanceMeters float64 `json:"distance_meters"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Code != string(attendance.RejectOutOfRange) {
		t.Errorf("code = %s", resp.Code)
	}
	if resp.DistanceMeters < 190 || resp.DistanceMeters > 210 {
		t.Errorf("distance = %.1f, want ≈200", resp.DistanceMeters)
	}
}

func TestActiveSessionPoll(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodGet, "/v1/sessions/active", nil, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Active           bool   `json:"active"`
		SessionID        string `json:"session_id"`
		RemainingSeconds int    `json:"remaining_seconds"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Active || resp.SessionID != e.sess.ID {
		t.Errorf("poll = %+v", resp)
	}
	if resp.RemainingSeconds <= 0 || resp.RemainingSeconds > 1800 {
		t.Errorf("remaining = %d, want (0, 1800]", resp.RemainingSeconds)
	}

	if err := e.sessions.End(context.Background(), e.sess.ID); err != nil {
		t.Fatalf("end: %v", err)
	}
	w = e.do(t, http.MethodGet, "/v1/sessions/active", nil, "")
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Active {
		t.Error("poll still active after end")
	}
}

func TestStartAndEndSession(t *testing.T) {
	e := newEnv(t)
	token := e.login(t)

	// A session is already open, so starting another conflicts.
	w := e.do(t, http.MethodPost, "/v1/sessions", gin.H{"latitude": centerLat, "longitude": centerLon}, token)
	if w.Code != http.StatusConflict {
		t.Errorf("start during active session = %d, want 409: %s", w.Code, w.Body.String())
	}

	w = e.do(t, http.MethodPost, fmt.Sprintf("/v1/sessions/%s/end", e.sess.ID), nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("end status = %d", w.Code)
	}

	w = e.do(t, http.MethodPost, "/v1/sessions", gin.H{"latitude": centerLat, "longitude": centerLon, "duration_seconds": 600}, token)
	if w.Code != http.StatusCreated {
		t.Fatalf("restart status = %d: %s", w.Code, w.Body.String())
	}
	var sess session.Session
	if err := json.Unmarshal(w.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if sess.RadiusMeters != 80 {
		t.Errorf("radius = %v, want class default 80", sess.RadiusMeters)
	}
	if got := sess.EndTime.Sub(sess.StartTime); got != 10*time.Minute {
		t.Errorf("window = %v, want 10m", got)
	}
}

func TestDayEditAndDelete(t *testing.T) {
	e := newEnv(t)
	token := e.login(t)
	day := time.Now().UTC().Format("2006-01-02")

	present := true
	w := e.do(t, http.MethodPut, "/v1/attendance/days/"+day, gin.H{"student_id": "stu-1", "is_present": &present}, token)
	if w.Code != http.StatusOK {
		t.Fatalf("set presence = %d: %s", w.Code, w.Body.String())
	}

	w = e.do(t, http.MethodGet, "/v1/attendance/days/"+day, nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("overview = %d", w.Code)
	}
	var overview struct {
		Students []attendance.StudentPresence `json:"students"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &overview); err != nil {
		t.Fatalf("decode overview: %v", err)
	}
	if len(overview.Students) != 1 || !overview.Students[0].IsPresent {
		t.Errorf("overview = %+v", overview.Students)
	}

	w = e.do(t, http.MethodDelete, "/v1/attendance/days/"+day, nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("delete day = %d", w.Code)
	}
	var deleted struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &deleted); err != nil {
		t.Fatalf("decode delete: %v", err)
	}
	if deleted.Deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted.Deleted)
	}

	w = e.do(t, http.MethodGet, "/v1/attendance/days/not-a-date", nil, token)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad date = %d, want 400", w.Code)
	}
}
