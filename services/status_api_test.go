package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"neurolink/models"

	"github.com/gin-gonic/gin"
)

func newTestStatusAPI(t *testing.T) *StatusAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	sup := NewSupervisor(testConfig(), testLogger())
	return NewStatusAPI("127.0.0.1:0", sup, testLogger())
}

func doRequest(t *testing.T, api *StatusAPI, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	api.server.Handler.ServeHTTP(w, req)
	return w
}

func TestStatusAPIRoutes(t *testing.T) {
	api := newTestStatusAPI(t)
	for _, path := range []string{
		"/api/v1/status",
		"/api/v1/metrics",
		"/api/v1/streaming",
		"/api/v1/alerts",
		"/api/v1/can-record",
		"/api/v1/debug",
	} {
		w := doRequest(t, api, path)
		if w.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, w.Code)
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
			t.Errorf("GET %s content type %q", path, ct)
		}
	}
}

func TestStatusAPIStatusShape(t *testing.T) {
	api := newTestStatusAPI(t)
	w := doRequest(t, api, "/api/v1/status")

	var body struct {
		Status  models.ConnectionStatus `json:"status"`
		Overall models.OverallStatus    `json:"overall"`
		Device  DeviceSession           `json:"device"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Overall != models.StatusOffline {
		t.Errorf("unstarted supervisor should report offline, got %s", body.Overall)
	}
	if body.Device.Connected {
		t.Errorf("no device should be connected")
	}
}

func TestStatusAPICanRecordCarriesReason(t *testing.T) {
	api := newTestStatusAPI(t)
	w := doRequest(t, api, "/api/v1/can-record")

	var decision RecordingDecision
	if err := json.Unmarshal(w.Body.Bytes(), &decision); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decision.Allowed {
		t.Errorf("gate must be closed on an unstarted supervisor")
	}
	if decision.Reason == "" {
		t.Errorf("refusal must carry a reason")
	}
}

func TestStatusAPIAlertsShape(t *testing.T) {
	api := newTestStatusAPI(t)
	w := doRequest(t, api, "/api/v1/alerts")

	var body struct {
		Count  int            `json:"count"`
		Alerts []models.Alert `json:"alerts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != len(body.Alerts) {
		t.Errorf("count %d disagrees with %d alerts", body.Count, len(body.Alerts))
	}
}

func TestStatusAPIUnknownRoute(t *testing.T) {
	api := newTestStatusAPI(t)
	if w := doRequest(t, api, "/api/v1/nope"); w.Code != http.StatusNotFound {
		t.Errorf("unknown route = %d, want 404", w.Code)
	}
}
