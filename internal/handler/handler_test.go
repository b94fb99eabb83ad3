package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"interviewd/internal/engine"
	"interviewd/internal/model"
	"interviewd/internal/store"
	"interviewd/internal/stream"
)

type testServer struct {
	srv      *httptest.Server
	store    *store.Store
	registry *stream.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	registry, err := stream.NewRegistry(t.TempDir(), time.Minute)
	if err != nil {
		t.Fatalf("create registry: %v", err)
	}

	eng := engine.New(s)
	h := New(eng, registry, s)
	r := chi.NewRouter()
	h.Routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, store: s, registry: registry}
}

func (ts *testServer) seedQuestion(t *testing.T, text string, category model.Category, expected []model.ExpectedItem) int64 {
	t.Helper()
	id, err := ts.store.InsertQuestion(model.Question{
		Text:       text,
		Category:   category,
		Expected:   expected,
		Difficulty: model.DifficultyMedium,
		TimeLimit:  60,
	})
	if err != nil {
		t.Fatalf("seed question: %v", err)
	}
	return id
}

func (ts *testServer) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(ts.srv.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func (ts *testServer) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	decodeBody(t, resp, &body)
	return body.Error.Code
}

func TestInterviewFlow(t *testing.T) {
	ts := newTestServer(t)
	ts.seedQuestion(t, "Explain polymorphism and why it is useful.", model.CategoryTechnical,
		[]model.ExpectedItem{{Term: "polymorphism", Weight: 2}, {Term: "reuse"}})

	// Start.
	resp := ts.postJSON(t, "/api/session/start", map[string]any{
		"name":            "Ada",
		"email":           "ada@example.com",
		"category":        "Technical",
		"total_questions": 1,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d", resp.StatusCode)
	}
	var started struct {
		Session model.Session `json:"session"`
	}
	decodeBody(t, resp, &started)
	sess := started.Session
	if sess.ID == 0 || len(sess.QuestionIDs) != 1 {
		t.Fatalf("unexpected session: %+v", sess)
	}

	// Next question.
	resp = ts.get(t, fmt.Sprintf("/api/session/%d/next", sess.ID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("next status = %d", resp.StatusCode)
	}
	var step model.QuestionStep
	decodeBody(t, resp, &step)
	if step.Done || step.Question == nil || step.Position != 1 {
		t.Fatalf("unexpected step: %+v", step)
	}

	// Answer with multipart transcript and audio.
	transcript := "The idea works because polymorphism encourages reuse. For example, one function handles many shapes. Overall it simplifies code."
	audio := []byte("webm-bytes")
	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	if err := mw.WriteField("transcript", transcript); err != nil {
		t.Fatalf("write field: %v", err)
	}
	fw, err := mw.CreateFormFile("audio", "answer.webm")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(audio); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	mw.Close()

	answerURL := fmt.Sprintf("%s/api/session/%d/answer/%d", ts.srv.URL, sess.ID, step.Question.ID)
	resp, err = http.Post(answerURL, mw.FormDataContentType(), &form)
	if err != nil {
		t.Fatalf("POST answer: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("answer status = %d", resp.StatusCode)
	}
	var answered struct {
		Answer model.Answer `json:"answer"`
	}
	decodeBody(t, resp, &answered)
	if answered.Answer.Transcript != transcript || answered.Answer.Score <= 0 {
		t.Fatalf("unexpected answer: %+v", answered.Answer)
	}
	if !strings.HasPrefix(answered.Answer.AudioPath, stream.PublicPrefix+"/") {
		t.Fatalf("audio path = %q", answered.Answer.AudioPath)
	}
	saved, err := os.ReadFile(filepath.Join(ts.registry.Dir(), filepath.Base(answered.Answer.AudioPath)))
	if err != nil {
		t.Fatalf("read saved audio: %v", err)
	}
	if !bytes.Equal(saved, audio) {
		t.Fatalf("saved audio = %q, want %q", saved, audio)
	}

	// Finish.
	resp = ts.postJSON(t, fmt.Sprintf("/api/session/%d/finish", sess.ID), map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("finish status = %d", resp.StatusCode)
	}
	var finished model.Report
	decodeBody(t, resp, &finished)
	if finished.SessionID != sess.ID || len(finished.Items) != 1 {
		t.Fatalf("unexpected report: %+v", finished)
	}
	if finished.Summary == "" || finished.OverallScore <= 0 {
		t.Fatalf("report missing summary/overall: %+v", finished)
	}

	// Report read path matches the finish result.
	resp = ts.get(t, fmt.Sprintf("/api/session/%d/report", sess.ID))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("report status = %d", resp.StatusCode)
	}
	var report model.Report
	decodeBody(t, resp, &report)
	if report.OverallScore != finished.OverallScore || report.Summary != finished.Summary {
		t.Fatalf("stored report diverges: %+v vs %+v", report, finished)
	}
}

func TestAnswerWithJSONBody(t *testing.T) {
	ts := newTestServer(t)
	qid := ts.seedQuestion(t, "Tell me about yourself.", model.CategoryHR, nil)

	resp := ts.postJSON(t, "/api/session/start", map[string]any{
		"name": "Ada", "category": "HR", "total_questions": 1,
	})
	var started struct {
		Session model.Session `json:"session"`
	}
	decodeBody(t, resp, &started)

	resp = ts.postJSON(t, fmt.Sprintf("/api/session/%d/answer/%d", started.Session.ID, qid),
		map[string]string{"transcript": "I have worked on backend systems for five years."})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("answer status = %d", resp.StatusCode)
	}
	var answered struct {
		Answer model.Answer `json:"answer"`
	}
	decodeBody(t, resp, &answered)
	if answered.Answer.AudioPath != "" {
		t.Errorf("JSON answer should have no audio path, got %q", answered.Answer.AudioPath)
	}
}

func TestErrorStatuses(t *testing.T) {
	ts := newTestServer(t)
	ts.seedQuestion(t, "q", model.CategoryTechnical, nil)

	resp := ts.postJSON(t, "/api/session/start", map[string]any{
		"name": "Ada", "category": "Technical", "total_questions": 1,
	})
	var started struct {
		Session model.Session `json:"session"`
	}
	decodeBody(t, resp, &started)
	sessID := started.Session.ID

	t.Run("malformed session id", func(t *testing.T) {
		resp := ts.get(t, "/api/session/abc/next")
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
		if code := errorCode(t, resp); code != string(engine.CodeInvalidRequest) {
			t.Errorf("code = %q", code)
		}
	})

	t.Run("unknown session", func(t *testing.T) {
		resp := ts.get(t, "/api/session/9999/next")
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
		if code := errorCode(t, resp); code != string(engine.CodeNotFound) {
			t.Errorf("code = %q", code)
		}
	})

	t.Run("finish without answers", func(t *testing.T) {
		resp := ts.postJSON(t, fmt.Sprintf("/api/session/%d/finish", sessID), map[string]any{})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
		if code := errorCode(t, resp); code != string(engine.CodeEmptySession) {
			t.Errorf("code = %q", code)
		}
	})

	t.Run("report before finish", func(t *testing.T) {
		resp := ts.get(t, fmt.Sprintf("/api/session/%d/report", sessID))
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("invalid start category", func(t *testing.T) {
		resp := ts.postJSON(t, "/api/session/start", map[string]any{
			"name": "Ada", "category": "Astrology", "total_questions": 1,
		})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
	})

	t.Run("malformed start body", func(t *testing.T) {
		resp, err := http.Post(ts.srv.URL+"/api/session/start", "application/json",
			strings.NewReader("{not json"))
		if err != nil {
			t.Fatalf("POST: %v", err)
		}
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", resp.StatusCode)
		}
		resp.Body.Close()
	})
}

func TestQuestionAdminEndpoints(t *testing.T) {
	ts := newTestServer(t)

	// Create.
	resp := ts.postJSON(t, "/api/questions", map[string]any{
		"text":     "Describe a project you are proud of.",
		"category": "Behavioral",
		"expected_content": []map[string]any{
			{"term": "project"},
			{"term": "impact", "synonyms": []string{"result"}},
		},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var created model.Question
	decodeBody(t, resp, &created)
	if created.ID == 0 {
		t.Fatal("created question has no id")
	}
	if created.Difficulty != model.DifficultyMedium || created.TimeLimit != 60 {
		t.Errorf("defaults not applied: %+v", created)
	}

	// Reject incomplete questions.
	resp = ts.postJSON(t, "/api/questions", map[string]any{"text": "", "category": "Behavioral"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("create without text status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	// List with category filter.
	resp = ts.get(t, "/api/questions?category=Behavioral")
	var listed []model.Question
	decodeBody(t, resp, &listed)
	if len(listed) != 1 || listed[0].ID != created.ID {
		t.Errorf("listed = %+v", listed)
	}
	resp = ts.get(t, "/api/questions?category=HR")
	var empty []model.Question
	decodeBody(t, resp, &empty)
	if len(empty) != 0 {
		t.Errorf("HR list = %+v, want empty", empty)
	}

	// Update.
	created.Text = "Describe a project that shaped you."
	body, _ := json.Marshal(created)
	req, err := http.NewRequest(http.MethodPut,
		fmt.Sprintf("%s/api/questions/%d", ts.srv.URL, created.ID), bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Update of a missing question is a 404.
	req, err = http.NewRequest(http.MethodPut, ts.srv.URL+"/api/questions/999", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("update missing status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()

	// Delete.
	req, err = http.NewRequest(http.MethodDelete,
		fmt.Sprintf("%s/api/questions/%d", ts.srv.URL, created.ID), nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = ts.get(t, "/api/questions")
	var remaining []model.Question
	decodeBody(t, resp, &remaining)
	if len(remaining) != 0 {
		t.Errorf("questions after delete = %+v", remaining)
	}
}
