package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/autoapply/orchestrator/internal/domain"
	"github.com/autoapply/orchestrator/internal/eventlog"
	"github.com/autoapply/orchestrator/internal/executor/noop"
	"github.com/autoapply/orchestrator/internal/intervention"
	"github.com/autoapply/orchestrator/internal/policy/effort"
	"github.com/autoapply/orchestrator/internal/ratelimit"
	"github.com/autoapply/orchestrator/internal/repository/memory"
	"github.com/autoapply/orchestrator/internal/sessionctl"
	"github.com/autoapply/orchestrator/internal/worker"
)

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type sequentialIDs struct{ n int }

func (s *sequentialIDs) NewID() (string, error) {
	s.n++
	return "id-" + time.Now().Format("150405") + "-" + string(rune('a'+s.n)), nil
}

func newTestServer(t *testing.T) (*Server, *memory.Repository) {
	t.Helper()
	repo := memory.New()
	clock := systemClock{}
	logger := zap.NewNop()
	events := eventlog.New(repo, clock, logger)
	governor := ratelimit.New(clock, time.UTC, func(domain.EventType, string, map[string]any) {})
	bridge := intervention.New(50*time.Millisecond, clock, nil, logger)
	exec := noop.New()

	factory := func(domain.Session) []*worker.Worker {
		return []*worker.Worker{worker.New(1, exec, repo, events, governor, bridge, clock, logger)}
	}
	controller := sessionctl.New(repo, events, governor, factory, effort.Policy{}, clock, &sequentialIDs{}, nil, nil, logger)
	server := NewServer(controller, repo, bridge, logger, false, "")
	return server, repo
}

func TestCreateSessionReturnsCreated(t *testing.T) {
	t.Parallel()
	server, _ := newTestServer(t)

	body := []byte(`{"user_id":"u1","timezone":"UTC","limits":{"max_items":5}}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), `"UserID":"u1"`)
}

func TestCreateSessionRejectsMissingUserID(t *testing.T) {
	t.Parallel()
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSessionNotFound(t *testing.T) {
	t.Parallel()
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/missing", nil)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEnqueueItemsThenStartRunsSession(t *testing.T) {
	t.Parallel()
	server, repo := newTestServer(t)

	createReq := httptest.NewRequest(http.MethodPost, "/v1/sessions/", bytes.NewReader([]byte(`{"user_id":"u1","limits":{"max_items":3}}`)))
	createRec := httptest.NewRecorder()
	server.Handler().ServeHTTP(createRec, createReq)
	require.Equal(t, http.StatusCreated, createRec.Code)

	sessions, err := repo.ListNonTerminalSessions(createReq.Context())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	sessionID := sessions[0].ID

	itemsBody := []byte(`{"applications":[{"JobURL":"https://jobs.example.com/1"}]}`)
	itemsReq := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+sessionID+"/items", bytes.NewReader(itemsBody))
	itemsRec := httptest.NewRecorder()
	server.Handler().ServeHTTP(itemsRec, itemsReq)
	require.Equal(t, http.StatusAccepted, itemsRec.Code)

	startReq := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+sessionID+"/start", nil)
	startRec := httptest.NewRecorder()
	server.Handler().ServeHTTP(startRec, startReq)
	require.Equal(t, http.StatusOK, startRec.Code)

	require.Eventually(t, func() bool {
		s, err := repo.GetSession(startReq.Context(), sessionID)
		return err == nil && s.Status == domain.SessionCompleted
	}, time.Second, 5*time.Millisecond)
}

func TestResolveInterventionUnknownApplication(t *testing.T) {
	t.Parallel()
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions/s1/interventions/app-missing/resolve", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}
