package main

import (
	"net/http"
	"testing"
)

func TestHealthResponse(t *testing.T) {
	tests := []struct {
		name       string
		db, redis  bool
		wantStatus int
		wantLabel  string
	}{
		{name: "all healthy", db: true, redis: true, wantStatus: http.StatusOK, wantLabel: "ok"},
		{name: "redis down stays ok", db: true, redis: false, wantStatus: http.StatusOK, wantLabel: "ok"},
		{name: "db down degrades", db: false, redis: true, wantStatus: http.StatusServiceUnavailable, wantLabel: "degraded"},
		{name: "everything down", db: false, redis: false, wantStatus: http.StatusServiceUnavailable, wantLabel: "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := healthResponse(tt.db, tt.redis)
			if status != tt.wantStatus {
				t.Errorf("status = %d, want %d", status, tt.wantStatus)
			}
			if body["status"] != tt.wantLabel {
				t.Errorf("label = %v, want %s", body["status"], tt.wantLabel)
			}
			if body["db"] != tt.db || body["redis"] != tt.redis {
				t.Errorf("probe flags = %v", body)
			}
		})
	}
}
