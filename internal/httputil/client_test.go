package httputil

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestStandardClient_Wraps(t *testing.T) {
	customClient := &http.Client{}
	if client := NewStandardClient(customClient); client.Client != customClient {
		t.Error("expected custom client to be wrapped")
	}
	if client := NewStandardClient(nil); client.Client != http.DefaultClient {
		t.Error("expected nil to fall back to http.DefaultClient")
	}
}

func TestPostJSON_DecodesResponse(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, `{"id":"abc","points":4}`)

	var out struct {
		ID     string `json:"id"`
		Points int    `json:"points"`
	}
	err := PostJSON(mock, "http://vitals.local/api/bia/sweep", map[string]any{"mode": "fixed"}, &out)
	if err != nil {
		t.Fatalf("PostJSON failed: %v", err)
	}
	if out.ID != "abc" || out.Points != 4 {
		t.Errorf("unexpected decoded body %+v", out)
	}

	if mock.RequestCount() != 1 {
		t.Fatalf("got %d requests, want 1", mock.RequestCount())
	}
	req := mock.Requests[0]
	if req.Method != http.MethodPost || req.Header.Get("Content-Type") != "application/json" {
		t.Errorf("unexpected request %s %q", req.Method, req.Header.Get("Content-Type"))
	}
	if mock.Bodies[0] != `{"mode":"fixed"}` {
		t.Errorf("unexpected request body %q", mock.Bodies[0])
	}
}

func TestPostJSON_ErrorStatus(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddResponse(http.StatusConflict, `{"error":"sweep already in progress"}`)
	mock.AddResponse(http.StatusBadGateway, `<html>nope</html>`)

	err := PostJSON(mock, "http://vitals.local/x", struct{}{}, nil)
	if err == nil || !strings.Contains(err.Error(), "409 Conflict: sweep already in progress") {
		t.Errorf("expected conflict error with message, got %v", err)
	}

	err = PostJSON(mock, "http://vitals.local/x", struct{}{}, nil)
	if err == nil || err.Error() != "502 Bad Gateway" {
		t.Errorf("expected bare status error, got %v", err)
	}
}

func TestPostJSON_TransportError(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddErrorResponse(errors.New("connection refused"))

	err := PostJSON(mock, "http://vitals.local/x", struct{}{}, nil)
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("expected transport error, got %v", err)
	}
}

func TestPostJSON_BadResponseBody(t *testing.T) {
	mock := NewMockHTTPClient()
	mock.AddResponse(http.StatusOK, `not json`)

	var out map[string]any
	if err := PostJSON(mock, "http://vitals.local/x", struct{}{}, &out); err == nil {
		t.Error("expected decode error")
	}
}

func TestPostJSON_StandardClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"echo":` + string(body) + `}`))
	}))
	defer srv.Close()

	var out struct {
		Echo map[string]float64 `json:"echo"`
	}
	if err := PostJSON(NewStandardClient(srv.Client()), srv.URL, map[string]float64{"weight_kg": 16}, &out); err != nil {
		t.Fatalf("PostJSON failed: %v", err)
	}
	if out.Echo["weight_kg"] != 16 {
		t.Errorf("unexpected echo %+v", out)
	}
}

func TestMockHTTPClient_DefaultResponse(t *testing.T) {
	mock := NewMockHTTPClient()
	req, _ := http.NewRequest(http.MethodGet, "http://vitals.local/api/bp", nil)
	resp, err := mock.Do(req)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("got status %d, want 200", resp.StatusCode)
	}
}
