package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/54b3r/docchat-go/internal/ingestion"
	"github.com/54b3r/docchat-go/internal/session"
	"github.com/54b3r/docchat-go/internal/store"
)

// multipartBody builds a multipart body with one "files" part per name.
func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestHandleUpload_Success(t *testing.T) {
	t.Parallel()

	a := &fakeAsker{}
	s := newTestServer(a)
	body, ct := multipartBody(t, map[string]string{"policy.pdf": "%PDF-1.4 stub"})

	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	s.handleUpload(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var report session.UploadReport
	if err := json.NewDecoder(w.Body).Decode(&report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(report.Files) != 1 || report.Files[0].Name != "policy.pdf" || report.Files[0].Chunks != 3 {
		t.Errorf("unexpected report: %+v", report)
	}
	if len(a.gotFiles) != 1 || string(a.gotFiles[0].Data) != "%PDF-1.4 stub" {
		t.Errorf("session received %+v", a.gotFiles)
	}
}

func TestHandleUpload_PerFileErrorsInBody(t *testing.T) {
	t.Parallel()

	err := errors.New(`ingestion: "notes.txt": unsupported format`)
	a := &fakeAsker{report: &session.UploadReport{Files: []session.FileResult{
		{Name: "notes.txt", Err: ingestion.ErrUnsupportedFormat, Error: err.Error()},
	}}}
	s := newTestServer(a)
	body, ct := multipartBody(t, map[string]string{"notes.txt": "plain"})

	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", ct)
	w := httptest.NewRecorder()
	s.handleUpload(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "unsupported format") {
		t.Errorf("expected per-file error in body, got %s", w.Body.String())
	}
}

func TestHandleUpload_BadRequests(t *testing.T) {
	t.Parallel()

	t.Run("not multipart", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(&fakeAsker{})
		req := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader("{}"))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		s.handleUpload(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})

	t.Run("no files part", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(&fakeAsker{})
		body, ct := multipartBody(t, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
		req.Header.Set("Content-Type", ct)
		w := httptest.NewRecorder()
		s.handleUpload(w, req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", w.Code)
		}
	})

	t.Run("too large", func(t *testing.T) {
		t.Parallel()
		s := newTestServer(&fakeAsker{})
		s.cfg.MaxUploadBytes = 512
		body, ct := multipartBody(t, map[string]string{"big.pdf": strings.Repeat("x", 4096)})
		req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
		req.Header.Set("Content-Type", ct)
		w := httptest.NewRecorder()
		s.handleUpload(w, req)
		if w.Code != http.StatusRequestEntityTooLarge {
			t.Errorf("expected 413, got %d", w.Code)
		}
	})
}

func TestHandleHistory(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a := &fakeAsker{history: []store.Message{
		{Seq: 1, Role: store.RoleUser, Content: "When are <b>invoices</b> due?", CreatedAt: now},
		{Seq: 2, Role: store.RoleAssistant, Content: "Within **30 days**.", CreatedAt: now},
	}}
	s := newTestServer(a)

	t.Run("json", func(t *testing.T) {
		t.Parallel()
		w := httptest.NewRecorder()
		s.handleHistory(w, httptest.NewRequest(http.MethodGet, "/api/history", nil))

		var resp historyResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(resp.Messages) != 2 || resp.Messages[0].Role != "user" || resp.Messages[1].Seq != 2 {
			t.Errorf("unexpected history: %+v", resp.Messages)
		}
		if resp.Messages[1].HTML != "" {
			t.Errorf("html must be empty without format=html")
		}
	})

	t.Run("html", func(t *testing.T) {
		t.Parallel()
		w := httptest.NewRecorder()
		s.handleHistory(w, httptest.NewRequest(http.MethodGet, "/api/history?format=html", nil))

		var resp historyResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !strings.Contains(resp.Messages[0].HTML, "&lt;b&gt;invoices&lt;/b&gt;") {
			t.Errorf("user message must be escaped, got %q", resp.Messages[0].HTML)
		}
		if !strings.Contains(resp.Messages[1].HTML, "<strong>30 days</strong>") {
			t.Errorf("assistant markdown not rendered, got %q", resp.Messages[1].HTML)
		}
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		w := httptest.NewRecorder()
		newTestServer(&fakeAsker{}).handleHistory(w, httptest.NewRequest(http.MethodGet, "/api/history", nil))
		if !strings.Contains(w.Body.String(), `"messages":[]`) {
			t.Errorf("expected empty messages array, got %s", w.Body.String())
		}
	})
}
