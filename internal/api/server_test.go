package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/oversightlabs/parlscan/internal/metrics"
	"github.com/oversightlabs/parlscan/internal/parliament"
	"github.com/oversightlabs/parlscan/internal/scan"
)

func TestMain(m *testing.M) {
	metrics.Init()
	os.Exit(m.Run())
}

type fakeScans struct {
	run      *scan.Run
	admitted scan.AdmitResult
	err      error

	cancelErr error
	cancelled []string

	snap scan.Snapshot
	live bool
}

func (f *fakeScans) Submit(_ context.Context, _ scan.RunConfig) (*scan.Run, scan.AdmitResult, error) {
	return f.run, f.admitted, f.err
}

func (f *fakeScans) Cancel(_ context.Context, runID string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, runID)
	return nil
}

func (f *fakeScans) Progress(string) (scan.Snapshot, bool) {
	return f.snap, f.live
}

type fakeRunStore struct {
	runs      map[string]*scan.Run
	results   map[string][]*scan.Result
	auditRows map[string][]scan.Audit
	snapshots map[string]scan.Snapshot
	listErr   error
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{
		runs:      map[string]*scan.Run{},
		results:   map[string][]*scan.Result{},
		auditRows: map[string][]scan.Audit{},
		snapshots: map[string]scan.Snapshot{},
	}
}

func (f *fakeRunStore) GetRun(_ context.Context, runID string) (*scan.Run, error) {
	run, ok := f.runs[runID]
	if !ok {
		return nil, scan.ErrRunNotFound
	}
	return run, nil
}

func (f *fakeRunStore) ListRuns(_ context.Context, limit int) ([]*scan.Run, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]*scan.Run, 0, len(f.runs))
	for _, run := range f.runs {
		if len(out) == limit {
			break
		}
		out = append(out, run)
	}
	return out, nil
}

func (f *fakeRunStore) Results(_ context.Context, runID string) ([]*scan.Result, error) {
	return f.results[runID], nil
}

func (f *fakeRunStore) Audits(_ context.Context, runID string) ([]scan.Audit, error) {
	return f.auditRows[runID], nil
}

func (f *fakeRunStore) GetSnapshot(_ context.Context, runID string) (scan.Snapshot, error) {
	snap, ok := f.snapshots[runID]
	if !ok {
		return scan.Snapshot{}, scan.ErrRunNotFound
	}
	return snap, nil
}

type fakeMembers struct {
	members []parliament.MemberInfo
	parties []parliament.Party
	err     error
}

func (f *fakeMembers) SearchMembers(_ context.Context, _ string, _ int) ([]parliament.MemberInfo, error) {
	return f.members, f.err
}

func (f *fakeMembers) Parties(_ context.Context) ([]parliament.Party, error) {
	return f.parties, f.err
}

func newTestServer(runner *fakeScans, store *fakeRunStore, members *fakeMembers) *Server {
	if runner == nil {
		runner = &fakeScans{}
	}
	if store == nil {
		store = newFakeRunStore()
	}
	if members == nil {
		members = &fakeMembers{}
	}
	return NewServer(runner, store, members, zap.NewNop())
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := newTestServer(nil, nil, nil)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestReadyzReportsStoreOutage(t *testing.T) {
	t.Parallel()

	store := newFakeRunStore()
	store.listErr = errors.New("connection refused")
	srv := newTestServer(nil, store, nil)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSubmitScanAccepted(t *testing.T) {
	t.Parallel()

	runner := &fakeScans{
		run:      &scan.Run{ID: "run-1", Status: scan.StatusPending},
		admitted: scan.Started,
	}
	srv := newTestServer(runner, nil, nil)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/scans", scanRequest{
		Topics: []scan.Topic{{Name: "Housing", Keywords: []string{"housing"}}},
		From:   "2026-01-01",
		To:     "2026-01-31",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		Run    scan.Run `json:"run"`
		Queued bool     `json:"queued"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "run-1", resp.Run.ID)
	require.False(t, resp.Queued)
}

func TestSubmitScanReportsQueued(t *testing.T) {
	t.Parallel()

	runner := &fakeScans{
		run:      &scan.Run{ID: "run-2", Status: scan.StatusPending},
		admitted: scan.Queued,
	}
	srv := newTestServer(runner, nil, nil)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/scans", scanRequest{
		Topics: []scan.Topic{{Name: "Rail", Keywords: []string{"rail"}}},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), `"queued":true`)
}

func TestSubmitScanRejectsEmptyConfig(t *testing.T) {
	t.Parallel()

	runner := &fakeScans{err: scan.ErrEmptyConfig}
	srv := newTestServer(runner, nil, nil)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/scans", scanRequest{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitScanRejectsInvalidJSON(t *testing.T) {
	t.Parallel()

	srv := newTestServer(nil, nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/scans", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetScanNotFound(t *testing.T) {
	t.Parallel()

	srv := newTestServer(nil, nil, nil)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/scans/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetScanPrefersLiveProgress(t *testing.T) {
	t.Parallel()

	store := newFakeRunStore()
	store.runs["run-1"] = &scan.Run{ID: "run-1", Status: scan.StatusRunning}
	store.snapshots["run-1"] = scan.Snapshot{Percent: 10}
	runner := &fakeScans{live: true, snap: scan.Snapshot{Percent: 72}}
	srv := newTestServer(runner, store, nil)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/scans/run-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Progress scan.Snapshot `json:"progress"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, float64(72), resp.Progress.Percent)
}

func TestGetScanFallsBackToStoredSnapshot(t *testing.T) {
	t.Parallel()

	store := newFakeRunStore()
	store.runs["run-1"] = &scan.Run{ID: "run-1", Status: scan.StatusCompleted}
	store.snapshots["run-1"] = scan.Snapshot{Percent: 100, Completed: true}
	srv := newTestServer(&fakeScans{}, store, nil)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/scans/run-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"percent":100`)
}

func TestListScansLimitValidation(t *testing.T) {
	t.Parallel()

	srv := newTestServer(nil, nil, nil)
	for _, raw := range []string{"0", "-5", "9999", "abc"} {
		rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/scans?limit="+raw, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", raw)
	}
}

func TestCancelScan(t *testing.T) {
	t.Parallel()

	runner := &fakeScans{}
	srv := newTestServer(runner, nil, nil)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/scans/run-1/cancel", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, []string{"run-1"}, runner.cancelled)
}

func TestCancelScanNotFound(t *testing.T) {
	t.Parallel()

	runner := &fakeScans{cancelErr: scan.ErrRunNotFound}
	srv := newTestServer(runner, nil, nil)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/api/scans/run-1/cancel", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetResults(t *testing.T) {
	t.Parallel()

	store := newFakeRunStore()
	store.runs["run-1"] = &scan.Run{ID: "run-1", Status: scan.StatusCompleted}
	store.results["run-1"] = []*scan.Result{{
		RunID:      "run-1",
		DedupKey:   "debates:d1",
		Confidence: "High",
		CreatedAt:  time.Now(),
	}}
	srv := newTestServer(nil, store, nil)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/scans/run-1/results", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "debates:d1")
}

func TestGetResultsUnknownRun(t *testing.T) {
	t.Parallel()

	srv := newTestServer(nil, nil, nil)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/scans/nope/results", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetAudits(t *testing.T) {
	t.Parallel()

	store := newFakeRunStore()
	store.runs["run-1"] = &scan.Run{ID: "run-1", Status: scan.StatusCompleted}
	store.auditRows["run-1"] = []scan.Audit{{
		RunID:    "run-1",
		DedupKey: "motions:m9",
		Reason:   "filtered before classification",
	}}
	srv := newTestServer(nil, store, nil)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/scans/run-1/audits", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "motions:m9")
}

func TestSearchMembersRequiresQuery(t *testing.T) {
	t.Parallel()

	srv := newTestServer(nil, nil, nil)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/members/search", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchMembersRejectsBadHouse(t *testing.T) {
	t.Parallel()

	srv := newTestServer(nil, nil, nil)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/members/search?q=smith&house=3", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchMembers(t *testing.T) {
	t.Parallel()

	members := &fakeMembers{members: []parliament.MemberInfo{
		{ID: "1471", Name: "Example Member", Party: "Independent"},
	}}
	srv := newTestServer(nil, nil, members)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/members/search?q=example&house=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Example Member")
}

func TestListParties(t *testing.T) {
	t.Parallel()

	members := &fakeMembers{parties: []parliament.Party{{ID: "4", Name: "Conservative"}}}
	srv := newTestServer(nil, nil, members)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/members/parties", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Conservative")
}

func TestStreamProgressStoredSnapshot(t *testing.T) {
	t.Parallel()

	store := newFakeRunStore()
	store.snapshots["run-1"] = scan.Snapshot{Percent: 100, Completed: true}
	srv := newTestServer(&fakeScans{}, store, nil)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/scans/run-1/progress", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Body.String(), "event: progress")
	require.Contains(t, rec.Body.String(), `"completed":true`)
}

func TestStreamProgressUnknownRun(t *testing.T) {
	t.Parallel()

	srv := newTestServer(nil, nil, nil)
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/scans/none/progress", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamProgressLiveCompletedRun(t *testing.T) {
	t.Parallel()

	runner := &fakeScans{live: true, snap: scan.Snapshot{Percent: 100, Completed: true}}
	srv := newTestServer(runner, newFakeRunStore(), nil)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/api/scans/run-1/progress", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "event: progress")
}
