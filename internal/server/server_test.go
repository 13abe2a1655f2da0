package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/instaxemu/internal/emulator"
	"github.com/danmuck/instaxemu/internal/events"
	"github.com/danmuck/instaxemu/internal/printer/model"
	"github.com/danmuck/instaxemu/internal/printer/state"
	"github.com/danmuck/instaxemu/internal/storage"
	"github.com/danmuck/instaxemu/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
)

type panel struct {
	srv       *Server
	store     *state.Store
	files     *storage.FileStore
	statePath string
}

func newPanel(t *testing.T) *panel {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	p := &panel{
		store:     state.NewStore(state.Defaults()),
		files:     storage.NewFileStore(filepath.Join(dir, "prints")),
		statePath: filepath.Join(dir, "state.yaml"),
	}
	profile := model.MustLookup(model.Square)
	persister := state.NewPersister(p.statePath, profile.ID.String())
	if err := persister.Attach(p.store); err != nil {
		t.Fatalf("attach persister: %v", err)
	}
	session := emulator.NewSession(emulator.NewDispatcher(p.store, profile, p.files), nil, nil)
	t.Cleanup(session.Close)
	p.srv = New(Config{ID: "instaxemu-test"}, Printer{
		Store:     p.store,
		Profile:   profile,
		Files:     p.files,
		Session:   session,
		Persister: persister,
	})
	return p
}

func (p *panel) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	p.srv.HTTPRouter().ServeHTTP(rr, req)

	var out map[string]any
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s body: %v", method, path, err)
		}
	}
	return rr, out
}

func (p *panel) storePrint(t *testing.T, data []byte) string {
	t.Helper()
	w, err := p.files.OpenJobSink(emulator.JobHint{ExpectedSize: uint32(len(data)), Model: "square"})
	if err != nil {
		t.Fatalf("open job: %v", err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("write job: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close job: %v", err)
	}
	files, err := p.files.List()
	if err != nil || len(files) == 0 {
		t.Fatalf("list after write: %v", err)
	}
	return files[0].Name
}

func TestStatusAndPrinterInfo(t *testing.T) {
	testlog.Start(t)
	p := newPanel(t)

	rr, body := p.do(t, http.MethodGet, "/api/status", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status code %d", rr.Code)
	}
	if body["model"] != "square" || body["connected"] != false || body["battery_state"] != float64(3) {
		t.Fatalf("unexpected status body: %#v", body)
	}
	job, _ := body["job"].(map[string]any)
	if job["state"] != "idle" {
		t.Fatalf("unexpected job status: %#v", body["job"])
	}

	rr, body = p.do(t, http.MethodGet, "/api/printer-info", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("printer-info code %d", rr.Code)
	}
	if body["width"] != float64(800) || body["device_name"] != "INSTAX-50555555(IOS)" || body["photos_remaining"] != float64(8) {
		t.Fatalf("unexpected printer info: %#v", body)
	}

	rr, _ = p.do(t, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("health code %d", rr.Code)
	}
}

func TestSettersValidateAndPersist(t *testing.T) {
	testlog.Start(t)
	p := newPanel(t)

	cases := []struct {
		path string
		body string
		code int
	}{
		{"/api/set-battery", `{"percentage": 15}`, http.StatusOK},
		{"/api/set-battery", `{"percentage": 101}`, http.StatusBadRequest},
		{"/api/set-battery", `{}`, http.StatusBadRequest},
		{"/api/set-prints", `{"count": 3}`, http.StatusOK},
		{"/api/set-prints", `{"count": 16}`, http.StatusBadRequest},
		{"/api/set-charging", `{"charging": true}`, http.StatusOK},
		{"/api/set-charging", `{"charging": "yes"}`, http.StatusBadRequest},
		{"/api/set-suspend-decrement", `{"suspend": true}`, http.StatusOK},
		{"/api/set-cover-open", `{"cover_open": true}`, http.StatusOK},
		{"/api/set-printer-busy", `{"printer_busy": true}`, http.StatusOK},
		{"/api/set-printer-busy", `not json`, http.StatusBadRequest},
		{"/api/set-accelerometer", `{"x": -5, "y": 12, "z": 300, "orientation": 2}`, http.StatusOK},
		{"/api/set-accelerometer", `{"x": 40000, "y": 0, "z": 0}`, http.StatusBadRequest},
		{"/api/set-accelerometer", `{"x": 1}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		rr, body := p.do(t, http.MethodPost, tc.path, tc.body)
		if rr.Code != tc.code {
			t.Fatalf("%s %s: got %d want %d body=%s", tc.path, tc.body, rr.Code, tc.code, rr.Body.String())
		}
		if tc.code == http.StatusOK && body["success"] != true {
			t.Fatalf("%s: expected success body, got %#v", tc.path, body)
		}
	}

	snap := p.store.Snapshot()
	want := state.Accelerometer{X: -5, Y: 12, Z: 300, Orientation: 2}
	if snap.BatteryPercentage != 15 || snap.PhotosRemaining != 3 || !snap.Charging || !snap.SuspendDecrement ||
		!snap.CoverOpen || !snap.PrinterBusy || snap.Accelerometer != want {
		t.Fatalf("unexpected state after setters: %+v", snap)
	}

	saved, ok, err := state.LoadFile(p.statePath)
	if err != nil || !ok {
		t.Fatalf("load persisted state: ok=%v err=%v", ok, err)
	}
	if saved.State != snap {
		t.Fatalf("persisted state lags: got=%+v want=%+v", saved.State, snap)
	}
}

func TestSetModelRequiresRestart(t *testing.T) {
	testlog.Start(t)
	p := newPanel(t)

	rr, body := p.do(t, http.MethodPost, "/api/set-model", `{"model": "wide"}`)
	if rr.Code != http.StatusOK || body["restart_required"] != true || body["model"] != "wide" {
		t.Fatalf("unexpected set-model response %d %#v", rr.Code, body)
	}
	saved, _, err := state.LoadFile(p.statePath)
	if err != nil || saved.Model != "wide" {
		t.Fatalf("expected persisted model wide, got %q err=%v", saved.Model, err)
	}
	_, status := p.do(t, http.MethodGet, "/api/status", "")
	if status["model"] != "square" || status["next_model"] != "wide" || status["restart_required"] != true {
		t.Fatalf("running model must not change before restart: %#v", status)
	}

	if rr, _ := p.do(t, http.MethodPost, "/api/set-model", `{"model": "polaroid"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown model, got %d", rr.Code)
	}
}

func TestFileRoutes(t *testing.T) {
	testlog.Start(t)
	p := newPanel(t)

	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10}
	name := p.storePrint(t, jpeg)

	rr, body := p.do(t, http.MethodGet, "/api/files", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list code %d", rr.Code)
	}
	files, _ := body["files"].([]any)
	if len(files) != 1 {
		t.Fatalf("unexpected files: %#v", body)
	}

	rr, _ = p.do(t, http.MethodGet, "/api/files/"+name, "")
	if rr.Code != http.StatusOK || !bytes.Equal(rr.Body.Bytes(), jpeg) {
		t.Fatalf("download: code=%d body=% x", rr.Code, rr.Body.Bytes())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Fatalf("unexpected content type %q", ct)
	}

	if rr, _ := p.do(t, http.MethodGet, "/api/files/print_missing.jpg", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing file, got %d", rr.Code)
	}
	if rr, _ := p.do(t, http.MethodDelete, "/api/files/a%5Cb.jpg", ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for escaping name, got %d", rr.Code)
	}

	if rr, _ := p.do(t, http.MethodDelete, "/api/files?file="+name, ""); rr.Code != http.StatusOK {
		t.Fatalf("delete by query: %d", rr.Code)
	}
	p.storePrint(t, jpeg)
	p.storePrint(t, jpeg)
	rr, body = p.do(t, http.MethodPost, "/api/files-delete-all", "")
	if rr.Code != http.StatusOK || body["deleted"] != float64(2) {
		t.Fatalf("delete all: %d %#v", rr.Code, body)
	}
	if stats, _ := p.files.Stats(); stats.Files != 0 {
		t.Fatalf("expected empty store, got %+v", stats)
	}
}

func TestTokenGuardsMutatingRoutes(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)

	store := state.NewStore(state.Defaults())
	profile := model.MustLookup(model.Mini)
	files := storage.NewFileStore(filepath.Join(t.TempDir(), "prints"))
	session := emulator.NewSession(emulator.NewDispatcher(store, profile, files), nil, nil)
	t.Cleanup(session.Close)
	srv := New(Config{ID: "instaxemu-test", Token: "panel"}, Printer{
		Store:   store,
		Profile: profile,
		Files:   files,
		Session: session,
	})

	send := func(method, path, body, token string) int {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rr := httptest.NewRecorder()
		srv.HTTPRouter().ServeHTTP(rr, req)
		return rr.Code
	}

	if code := send(http.MethodGet, "/api/status", "", ""); code != http.StatusOK {
		t.Fatalf("reads must stay open, got %d", code)
	}
	if code := send(http.MethodPost, "/api/set-battery", `{"percentage":10}`, ""); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}
	if store.Snapshot().BatteryPercentage == 10 {
		t.Fatalf("rejected request must not change state")
	}
	if code := send(http.MethodPost, "/api/set-battery", `{"percentage":10}`, "panel"); code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", code)
	}
	if got := store.Snapshot().BatteryPercentage; got != 10 {
		t.Fatalf("unexpected battery: %d", got)
	}
}

func TestUploadStoresImage(t *testing.T) {
	testlog.Start(t)

	p := newPanel(t)
	jpeg := append([]byte{0xFF, 0xD8, 0xFF}, bytes.Repeat([]byte{0x42}, 2000)...)

	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	part, err := mw.CreateFormFile("file", "photo.jpg")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(jpeg); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close form: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/upload", &form)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()
	p.srv.HTTPRouter().ServeHTTP(rr, req)

	var out map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	name, _ := out["filename"].(string)
	if rr.Code != http.StatusOK || out["success"] != true || !strings.HasPrefix(name, "image_") {
		t.Fatalf("unexpected upload response: %d %v", rr.Code, out)
	}
	stored, err := p.files.Read(name)
	if err != nil || !bytes.Equal(stored, jpeg) {
		t.Fatalf("stored upload differs: err=%v", err)
	}

	raw := bytes.Repeat([]byte{0x01}, 500)
	req = httptest.NewRequest(http.MethodPost, "/api/upload", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "image/jpeg")
	rr = httptest.NewRecorder()
	p.srv.HTTPRouter().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("raw upload: expected 200, got %d", rr.Code)
	}

	files, err := p.files.List()
	if err != nil || len(files) != 2 {
		t.Fatalf("expected two stored uploads, got %d err=%v", len(files), err)
	}
}

func TestUploadRejectsOversizedBody(t *testing.T) {
	testlog.Start(t)

	p := newPanel(t)
	big := bytes.Repeat([]byte{0x01}, storage.MaxUploadSize+1)
	req := httptest.NewRequest(http.MethodPost, "/api/upload", bytes.NewReader(big))
	req.Header.Set("Content-Type", "image/jpeg")
	rr := httptest.NewRecorder()
	p.srv.HTTPRouter().ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized upload, got %d", rr.Code)
	}
	if files, _ := p.files.List(); len(files) != 0 {
		t.Fatalf("oversized upload must not be stored, got %d files", len(files))
	}
}

type stuckQueue []events.Pending

func (q stuckQueue) PendingCount() int        { return len(q) }
func (q stuckQueue) Pending() []events.Pending { return q }

func TestPendingEventsAreReported(t *testing.T) {
	testlog.Start(t)

	p := newPanel(t)
	_, body := p.do(t, http.MethodGet, "/api/events", "")
	if body["count"] != float64(0) {
		t.Fatalf("expected no pending events without a queue, got %v", body)
	}

	p.srv.printer.Events = stuckQueue{
		{Message: events.Message{EventID: "e1", Type: "job_complete"}, Attempts: 2, LastError: "broker unavailable"},
	}
	_, body = p.do(t, http.MethodGet, "/api/status", "")
	if body["events_pending"] != float64(1) {
		t.Fatalf("expected events_pending=1, got %v", body["events_pending"])
	}
	rr, body := p.do(t, http.MethodGet, "/api/events", "")
	pending, _ := body["pending"].([]any)
	if rr.Code != http.StatusOK || len(pending) != 1 {
		t.Fatalf("unexpected pending list: %d %v", rr.Code, body)
	}
	first, _ := pending[0].(map[string]any)
	if first["last_error"] != "broker unavailable" || first["attempts"] != float64(2) {
		t.Fatalf("unexpected pending entry: %v", first)
	}
}
