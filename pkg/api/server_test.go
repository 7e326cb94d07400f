package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ctt-hpc/ctt/pkg/notify"
	"github.com/ctt-hpc/ctt/pkg/reconciler"
	"github.com/ctt-hpc/ctt/pkg/scheduler"
	"github.com/ctt-hpc/ctt/pkg/storage"
	"github.com/ctt-hpc/ctt/pkg/topology"
	"github.com/ctt-hpc/ctt/pkg/tracker"
	"github.com/ctt-hpc/ctt/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	srv   *Server
	store storage.Store
	sched *scheduler.Memory
	sink  *notify.Recorder
	topo  topology.Topology
	trk   *tracker.Tracker
	lock  *tracker.Lock
}

func newTestAPI(t *testing.T, opts Options) *testAPI {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sched := scheduler.NewMemory()
	for _, n := range []string{"node01", "node02"} {
		sched.SetNode(n, types.NodeReport{State: "free"})
	}
	topo := topology.NewStatic([][]string{{"node01", "node02"}}, [][]string{{"node01", "node02"}})
	trk := tracker.New(store, sched, topo)
	sink := &notify.Recorder{}

	lock := tracker.NewLock()
	srv := NewServer(opts, trk, reconciler.NewResolver(store, topo), lock, sink)
	return &testAPI{srv: srv, store: store, sched: sched, sink: sink, topo: topo, trk: trk, lock: lock}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set(OperatorHeader, "alice")
	w := httptest.NewRecorder()
	a.srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(v))
}

func (a *testAPI) openIssue(t *testing.T, req tracker.NewIssue) *types.Issue {
	t.Helper()
	w := a.do(t, http.MethodPost, "/v1/issues", req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var issue types.Issue
	decodeBody(t, w, &issue)
	return &issue
}

func TestHealthRoutes(t *testing.T) {
	a := newTestAPI(t, Options{})

	tests := []struct {
		method string
		path   string
		code   int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodPost, "/health", http.StatusMethodNotAllowed},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodDelete, "/v1/targets", http.StatusMethodNotAllowed},
		{http.MethodGet, "/v1/nothing", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			assert.Equal(t, tt.code, a.do(t, tt.method, tt.path, nil).Code)
		})
	}
}

func TestCreateIssue(t *testing.T) {
	a := newTestAPI(t, Options{})

	issue := a.openIssue(t, tracker.NewIssue{Target: "node01", Title: "bad dimm", ToOffline: types.ToOfflineNode})
	assert.Equal(t, "alice", issue.CreatedBy)
	assert.Equal(t, types.IssueStatusOpen, issue.Status)
	assert.Equal(t, []string{"alice opened issue for node01: bad dimm"}, a.sink.Messages())

	tests := []struct {
		name string
		body interface{}
		code int
	}{
		{"unknown node", tracker.NewIssue{Target: "login01", Title: "x"}, http.StatusBadRequest},
		{"no title", tracker.NewIssue{Target: "node01"}, http.StatusBadRequest},
		{"bad scope", map[string]string{"target": "node01", "title": "x", "to_offline": "Rack"}, http.StatusBadRequest},
		{"not json", "{", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := a.do(t, http.MethodPost, "/v1/issues", tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
			var resp errorResponse
			decodeBody(t, w, &resp)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestGetTargetsAndIssues(t *testing.T) {
	a := newTestAPI(t, Options{})
	issue := a.openIssue(t, tracker.NewIssue{Target: "node01", Title: "fan"})

	w := a.do(t, http.MethodGet, "/v1/targets", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var targets []types.Target
	decodeBody(t, w, &targets)
	require.Len(t, targets, 1)
	assert.Equal(t, "node01", targets[0].Name)
	assert.Equal(t, types.TargetStatusUnknown, targets[0].Status)

	w = a.do(t, http.MethodGet, "/v1/targets/node01", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var target TargetResponse
	decodeBody(t, w, &target)
	assert.Equal(t, "node01", target.Name)
	require.Len(t, target.Issues, 1)
	assert.Equal(t, issue.ID, target.Issues[0].ID)

	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodGet, "/v1/targets/node09", nil).Code)

	t.Run("list issues", func(t *testing.T) {
		tests := []struct {
			query string
			code  int
			count int
		}{
			{"", http.StatusOK, 1},
			{"?target=node01&status=Open", http.StatusOK, 1},
			{"?status=Closed", http.StatusOK, 0},
			{"?status=Pending", http.StatusBadRequest, 0},
			{"?target=node09", http.StatusNotFound, 0},
		}
		for _, tt := range tests {
			w := a.do(t, http.MethodGet, "/v1/issues"+tt.query, nil)
			require.Equal(t, tt.code, w.Code, tt.query)
			if tt.code == http.StatusOK {
				var issues []types.Issue
				decodeBody(t, w, &issues)
				assert.Len(t, issues, tt.count, tt.query)
			}
		}
	})

	t.Run("comments", func(t *testing.T) {
		w := a.do(t, http.MethodPost, "/v1/issues/"+issue.ID+"/comments", CommentRequest{Comment: "ordered fan"})
		require.Equal(t, http.StatusCreated, w.Code)

		assert.Equal(t, http.StatusBadRequest,
			a.do(t, http.MethodPost, "/v1/issues/"+issue.ID+"/comments", CommentRequest{}).Code)
		assert.Equal(t, http.StatusNotFound,
			a.do(t, http.MethodPost, "/v1/issues/missing/comments", CommentRequest{Comment: "x"}).Code)

		w = a.do(t, http.MethodGet, "/v1/issues/"+issue.ID, nil)
		require.Equal(t, http.StatusOK, w.Code)
		var got IssueResponse
		decodeBody(t, w, &got)
		assert.Equal(t, "node01", got.Target)
		assert.Equal(t, "fan", got.Title)
		require.Len(t, got.Comments, 1)
		assert.Equal(t, "ordered fan", got.Comments[0].Text)
		assert.Equal(t, "alice", got.Comments[0].CreatedBy)
	})
}

func TestOfflineOnlineTarget(t *testing.T) {
	a := newTestAPI(t, Options{})

	w := a.do(t, http.MethodPost, "/v1/targets/node02/offline", CommentRequest{Comment: "firmware"})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
	report, _ := a.sched.Node("node02")
	assert.Equal(t, "offline", report.State)
	assert.Equal(t, "firmware", report.Comment)

	w = a.do(t, http.MethodPost, "/v1/targets/node02/online", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	report, _ = a.sched.Node("node02")
	assert.Equal(t, "free", report.State)

	assert.Equal(t, []string{"alice offlining: node02, firmware", "alice onlining node: node02"}, a.sink.Messages())

	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/v1/targets/node02/offline", CommentRequest{}).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/v1/targets/login01/offline", CommentRequest{Comment: "x"}).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodPost, "/v1/targets/login01/online", nil).Code)
}

func TestCloseIssueOnlinesNode(t *testing.T) {
	ctx := context.Background()
	a := newTestAPI(t, Options{})

	issue := a.openIssue(t, tracker.NewIssue{Target: "node01", Title: "bad dimm", ToOffline: types.ToOfflineNode})
	require.NoError(t, a.sched.OfflineNode(ctx, "node01", "bad dimm"))
	target, err := a.store.GetTargetByName(ctx, "node01")
	require.NoError(t, err)
	require.NoError(t, a.store.UpdateTargetStatus(ctx, target.ID, types.TargetStatusOffline))
	a.sched.ResetCommands()
	a.sink.Reset()

	w := a.do(t, http.MethodPost, "/v1/issues/"+issue.ID+"/close", CommentRequest{Comment: "dimm replaced"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp CloseResponse
	decodeBody(t, w, &resp)
	assert.Equal(t, []string{"node01"}, resp.Onlined)
	assert.Equal(t, types.IssueStatusClosed, resp.Issue.Status)

	assert.Equal(t, []scheduler.Command{{Op: "online", Node: "node01"}}, a.sched.Commands())
	assert.Equal(t, []string{"alice closed issue for node01: bad dimm\nalice onlining node: node01"}, a.sink.Messages())

	comments, err := a.store.ListComments(ctx, issue.ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "dimm replaced", comments[0].Text)
}

func TestCloseIssueKeepsNodeWithOtherIssues(t *testing.T) {
	ctx := context.Background()
	a := newTestAPI(t, Options{})

	first := a.openIssue(t, tracker.NewIssue{Target: "node01", Title: "bad dimm", ToOffline: types.ToOfflineNode})
	a.openIssue(t, tracker.NewIssue{Target: "node02", Title: "card swap", ToOffline: types.ToOfflineSiblings})
	target, err := a.store.GetTargetByName(ctx, "node01")
	require.NoError(t, err)
	require.NoError(t, a.store.UpdateTargetStatus(ctx, target.ID, types.TargetStatusDraining))

	w := a.do(t, http.MethodPost, "/v1/issues/"+first.ID+"/close", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp CloseResponse
	decodeBody(t, w, &resp)
	assert.Empty(t, resp.Onlined, "sibling issue still holds node01 offline")
	assert.Empty(t, a.sched.Commands())

	assert.Equal(t, http.StatusNotFound, a.do(t, http.MethodPost, "/v1/issues/missing/close", nil).Code)
}

func TestCloseSiblingIssueOnlinesPeers(t *testing.T) {
	ctx := context.Background()
	a := newTestAPI(t, Options{})
	rec := reconciler.NewReconciler(reconciler.Config{}, reconciler.Deps{
		Store:     a.store,
		Scheduler: a.sched,
		Topology:  a.topo,
		Tracker:   a.trk,
		Lock:      a.lock,
		Sink:      a.sink,
	})
	pass := func() {
		t.Helper()
		_, err := rec.ReconcileOnce(ctx)
		require.NoError(t, err)
	}

	issue := a.openIssue(t, tracker.NewIssue{Target: "node01", Title: "card swap", ToOffline: types.ToOfflineSiblings})
	pass()
	pass()
	for _, name := range []string{"node01", "node02"} {
		target, err := a.store.GetTargetByName(ctx, name)
		require.NoError(t, err)
		require.Equal(t, types.TargetStatusOffline, target.Status, name)
	}
	a.sched.ResetCommands()

	w := a.do(t, http.MethodPost, "/v1/issues/"+issue.ID+"/close", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp CloseResponse
	decodeBody(t, w, &resp)
	assert.Equal(t, []string{"node01", "node02"}, resp.Onlined)
	assert.Equal(t, []scheduler.Command{
		{Op: "online", Node: "node01"},
		{Op: "online", Node: "node02"},
	}, a.sched.Commands())

	for i := 0; i < 3; i++ {
		pass()
	}
	for _, name := range []string{"node01", "node02"} {
		target, err := a.store.GetTargetByName(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, types.TargetStatusOnline, target.Status, name)

		report, _ := a.sched.Node(name)
		assert.Equal(t, "free", report.State, name)

		open, err := a.store.ListIssues(ctx, storage.IssueFilter{TargetID: target.ID, Status: types.IssueStatusOpen})
		require.NoError(t, err)
		assert.Empty(t, open, name)
	}
}

func TestReadOnly(t *testing.T) {
	a := newTestAPI(t, Options{ReadOnly: true})

	w := a.do(t, http.MethodPost, "/v1/issues", tracker.NewIssue{Target: "node01", Title: "x"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, http.StatusOK, a.do(t, http.MethodGet, "/v1/targets", nil).Code)

	targets, err := a.store.ListTargets(context.Background())
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestServeAndShutdown(t *testing.T) {
	a := newTestAPI(t, Options{})
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- a.srv.Serve(l) }()

	resp, err := http.Get("http://" + l.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, a.srv.Shutdown(context.Background()))
	assert.NoError(t, <-done)
}
