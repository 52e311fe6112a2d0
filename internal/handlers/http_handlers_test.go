package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"html/template"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"raffle/internal/draw"
	"raffle/internal/events"
	"raffle/internal/export"
	"raffle/internal/history"
	"raffle/internal/hub"
	"raffle/internal/i18n"
	"raffle/internal/parser"
	"raffle/internal/services"
	"raffle/internal/store"
)

const testTemplates = `{{define "layout.html"}}<html lang="{{.Lang}}"><title>{{.title}}</title><body>{{.PageContent}}</body></html>{{end}}` +
	`{{define "index.html"}}<h1>{{.State.Title}}</h1><p>{{index .Labels "Winner"}}</p>{{end}}`

type testServer struct {
	router  *gin.Engine
	service *services.RaffleService
	cookie  *http.Cookie
}

func newTestServer(t *testing.T, locale string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tr := i18n.MustNew(locale)
	ctx, cancel := context.WithCancel(context.Background())
	hist := history.New(store.NewMemory(), tr.SyntheticLocationName)
	svc := services.NewRaffleService(ctx, draw.NewSeeded(1, tr.SyntheticLocationName), parser.New(tr), hist,
		nil, &events.Recorder{}, services.Options{RevealDelay: time.Millisecond, DefaultTitle: "Raffle"})
	wsHub := hub.New(svc.Snapshot)
	go wsHub.Run(ctx)
	svc.SetNotifier(wsHub)
	t.Cleanup(func() {
		cancel()
		svc.Wait()
	})

	templates := template.Must(template.New("").Parse(testTemplates))
	h := NewHTTPHandler(svc, hist, wsHub, export.New(tr), tr, templates, Options{
		BaseURL:       "http://raffle.test",
		MaxUploadSize: 1024,
	})

	router := gin.New()
	h.RegisterPublicRoutes(router)
	tenantRoutes := router.Group("/")
	tenantRoutes.Use(h.TenantMiddleware())
	h.RegisterTenantRoutes(tenantRoutes)

	return &testServer{router: router, service: svc}
}

func (s *testServer) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if s.cookie != nil {
		req.AddCookie(s.cookie)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.Name == tenantCookie {
			s.cookie = c
		}
	}
	return rec
}

func (s *testServer) doJSON(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	return s.do(t, method, path, strings.NewReader(body), "application/json")
}

func (s *testServer) upload(t *testing.T, path, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return s.do(t, http.MethodPost, path, &buf, w.FormDataContentType())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, rec)["error"]
}

// finishedRaffle runs a two winner draw with placeholder locations and
// returns the final state.
func (s *testServer) finishedRaffle(t *testing.T) services.State {
	t.Helper()
	rec := s.upload(t, "/api/participants", "people.csv", "Alice\nBob\nCarol\n")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = s.doJSON(t, http.MethodPut, "/api/settings", `{"title":"Stands 2025","winners":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/draw", nil, "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, services.StatusDrawing, decode[services.State](t, rec).Status)
	s.service.Wait()

	rec = s.do(t, http.MethodGet, "/api/state", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	return decode[services.State](t, rec)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, "en")

	rec := s.do(t, http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","sessions":0,"clients":0}`, rec.Body.String())
	assert.Nil(t, s.cookie)
}

func TestTenantMiddleware(t *testing.T) {
	s := newTestServer(t, "en")

	rec := s.do(t, http.MethodGet, "/api/state", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, s.cookie)
	assert.NoError(t, uuid.Validate(s.cookie.Value))
	assert.True(t, s.cookie.HttpOnly)
	first := s.cookie.Value

	rec = s.do(t, http.MethodGet, "/api/state", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
	assert.Equal(t, first, s.cookie.Value)

	s.cookie = &http.Cookie{Name: tenantCookie, Value: "not-a-uuid"}
	s.do(t, http.MethodGet, "/api/state", nil, "")
	assert.NotEqual(t, "not-a-uuid", s.cookie.Value)
}

func TestShowIndex(t *testing.T) {
	s := newTestServer(t, "es")

	rec := s.do(t, http.MethodGet, "/", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), `<html lang="es">`)
	assert.Contains(t, rec.Body.String(), "<h1>Raffle</h1>")
	assert.Contains(t, rec.Body.String(), "<p>Ganador</p>")
}

func TestRaffleFlow(t *testing.T) {
	s := newTestServer(t, "en")

	st := s.finishedRaffle(t)
	assert.Equal(t, services.StatusFinished, st.Status)
	assert.Len(t, st.Awards, 2)
	assert.Len(t, st.Waitlist, 1)
	require.NotEmpty(t, st.RaffleID)

	rec := s.do(t, http.MethodGet, "/api/history", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	items := decode[[]historyItem](t, rec)
	require.Len(t, items, 1)
	assert.Equal(t, st.RaffleID, items[0].ID)
	assert.Equal(t, "Stands 2025", items[0].Title)
	assert.Equal(t, 2, items[0].Winners)
	assert.Equal(t, "3", items[0].Participants)
	assert.NotEmpty(t, items[0].Ago)

	rec = s.do(t, http.MethodGet, "/raffles/"+st.RaffleID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Stands 2025", decode[map[string]any](t, rec)["title"])
}

func TestExports(t *testing.T) {
	s := newTestServer(t, "en")
	id := s.finishedRaffle(t).RaffleID
	base := "/raffles/" + id

	rec := s.do(t, http.MethodGet, base+"/winners.csv", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, `attachment; filename="winners_stands_2025.csv"`, rec.Header().Get("Content-Disposition"))
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.True(t, strings.HasPrefix(rec.Body.String(), "\xef\xbb\xbfRaffle title: Stands 2025\n"))
	assert.Contains(t, rec.Body.String(), "Winner #1,")

	rec = s.do(t, http.MethodGet, base+"/waitlist.csv", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="waitlist_stands_2025.csv"`, rec.Header().Get("Content-Disposition"))

	rec = s.do(t, http.MethodGet, base+"/unassigned.txt", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "There is nothing to export.", errorMessage(t, rec))

	for _, path := range []string{"/board.png", "/qr.png"} {
		rec = s.do(t, http.MethodGet, base+path, nil, "")
		require.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
		assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")), path)
	}

	rec = s.do(t, http.MethodGet, "/raffles/missing/winners.csv", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Raffle not found.", errorMessage(t, rec))
}

func TestCustomLocationsUnassignedExport(t *testing.T) {
	s := newTestServer(t, "en")
	require.Equal(t, http.StatusOK, s.upload(t, "/api/locations", "stands.json", `["Stand 1","Stand 2","Stand 3"]`).Code)
	rec := s.do(t, http.MethodGet, "/api/unassigned.txt", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	st := s.finishedRaffle(t)
	id := st.RaffleID
	require.Len(t, st.Unassigned, 1)

	rec = s.do(t, http.MethodGet, "/api/unassigned.txt", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="unassigned_stands_2025.txt"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, st.Unassigned[0].Name, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/raffles/"+id+"/unassigned.txt", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="unassigned_stands_2025.txt"`, rec.Header().Get("Content-Disposition"))
	assert.Len(t, strings.Split(rec.Body.String(), "\n"), 1)
}

func TestDuplicateResolution(t *testing.T) {
	s := newTestServer(t, "en")

	rec := s.upload(t, "/api/participants", "people.txt", "Alice\nalice\nBob\n")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[services.State](t, rec)
	assert.Empty(t, st.Participants)
	assert.Equal(t, map[string]int{"alice": 2}, st.ParticipantDuplicates)

	rec = s.doJSON(t, http.MethodPost, "/api/participants/duplicates", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request.", errorMessage(t, rec))

	rec = s.doJSON(t, http.MethodPost, "/api/participants/duplicates", `{"action":"remove"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[services.State](t, rec).Participants, 2)

	rec = s.doJSON(t, http.MethodPost, "/api/participants/duplicates", `{"action":"remove"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.upload(t, "/api/locations", "stands.csv", "A\na\n")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.doJSON(t, http.MethodPost, "/api/locations/duplicates", `{"action":"keep"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[services.State](t, rec).Locations, 2)
}

func TestErrorResponses(t *testing.T) {
	s := newTestServer(t, "en")

	rec := s.do(t, http.MethodPost, "/api/draw", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Please upload a list of participants.", errorMessage(t, rec))

	rec = s.upload(t, "/api/participants", "people.xlsx", "Alice")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Unsupported file type. Please use CSV, TXT or JSON.", errorMessage(t, rec))

	rec = s.upload(t, "/api/participants", "people.csv", strings.Repeat("x", 2048))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "The file is too large.", errorMessage(t, rec))

	rec = s.doJSON(t, http.MethodPost, "/api/participants", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No file was uploaded.", errorMessage(t, rec))

	rec = s.doJSON(t, http.MethodPut, "/api/settings", `{"winners":"two"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.doJSON(t, http.MethodPut, "/api/settings", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.doJSON(t, http.MethodPost, "/api/history/missing/load", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s.finishedRaffle(t)
	rec = s.doJSON(t, http.MethodPut, "/api/settings", `{"title":"Again"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "This raffle is finished. Start a new raffle to make changes.", errorMessage(t, rec))

	rec = s.do(t, http.MethodPost, "/api/reset", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, services.StatusIdle, decode[services.State](t, rec).Status)
}

func TestErrorResponsesAreLocalized(t *testing.T) {
	s := newTestServer(t, "es")

	rec := s.do(t, http.MethodPost, "/api/draw", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Por favor, sube una lista de participantes.", errorMessage(t, rec))

	rec = s.do(t, http.MethodGet, "/raffles/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Sorteo no encontrado.", errorMessage(t, rec))
}

func TestHistoryImportLoadClear(t *testing.T) {
	s := newTestServer(t, "en")

	payload := `[{"id":"r1","title":"Imported","date":"2025-11-21T10:00:00Z",` +
		`"participants":[{"id":"a","name":"Alice"},{"id":"b","name":"Bob"}],` +
		`"locations":[],"awards":[{"winner":{"id":"a","name":"Alice"},"location":{"id":"0","name":"Winner #1"}}],` +
		`"waitlist":[{"id":"b","name":"Bob"}]}]`
	rec := s.upload(t, "/api/history/import", "history.json", payload)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"imported":1}`, rec.Body.String())

	rec = s.upload(t, "/api/history/import", "history.json", `{"not":"an array"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "The history file must contain an array of raffles.", errorMessage(t, rec))

	rec = s.do(t, http.MethodPost, "/api/history/r1/load", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[services.State](t, rec)
	assert.Equal(t, services.StatusFinished, st.Status)
	assert.Equal(t, "r1", st.RaffleID)
	assert.Equal(t, "Imported", st.Title)

	rec = s.do(t, http.MethodDelete, "/api/history", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/history", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]historyItem](t, rec))
}
