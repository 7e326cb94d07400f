package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ctt-hpc/ctt/pkg/notify"
	"github.com/ctt-hpc/ctt/pkg/storage"
	"github.com/ctt-hpc/ctt/pkg/tracker"
	"github.com/ctt-hpc/ctt/pkg/types"
	"github.com/gorilla/mux"
)

// TargetResponse is a target with its issues
type TargetResponse struct {
	*types.Target
	Issues []*types.Issue `json:"issues"`
}

// IssueResponse is an issue with its comments and target name
type IssueResponse struct {
	*types.Issue
	Target   string           `json:"target"`
	Comments []*types.Comment `json:"comments"`
}

// CommentRequest carries free text for close, comment and offline requests
type CommentRequest struct {
	Comment string `json:"comment"`
}

// CloseResponse reports a closed issue and the nodes resumed because of it
type CloseResponse struct {
	Issue   *types.Issue `json:"issue"`
	Onlined []string     `json:"onlined"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, tracker.ErrInvalid), errors.Is(err, tracker.ErrNotRealNode):
		code = http.StatusBadRequest
	case errors.Is(err, storage.ErrConflict):
		code = http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", tracker.ErrInvalid, err)
	}
	return nil
}

// decodeOptional is decode that accepts an empty body
func decodeOptional(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: invalid request body: %v", tracker.ErrInvalid, err)
	}
	return nil
}

func (s *Server) operator(r *http.Request) string {
	if op := r.Header.Get(OperatorHeader); op != "" {
		return op
	}
	return s.opts.DefaultOperator
}

// mutate runs fn under the scheduler lock and flushes its notifications
// once the lock is released
func (s *Server) mutate(r *http.Request, fn func(ctx context.Context, n notify.Notifier) error) error {
	ctx := r.Context()
	if err := s.lock.Acquire(ctx); err != nil {
		return err
	}
	batch := notify.NewBatch(s.sink)
	err := fn(context.WithoutCancel(ctx), batch)
	s.lock.Release()
	batch.Flush(context.WithoutCancel(ctx))
	return err
}

// GET /v1/targets
func (s *Server) listTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := s.store.ListTargets(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if targets == nil {
		targets = []*types.Target{}
	}
	writeJSON(w, http.StatusOK, targets)
}

// GET /v1/targets/{name}
func (s *Server) getTarget(w http.ResponseWriter, r *http.Request) {
	target, err := s.store.GetTargetByName(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	issues, err := s.store.ListIssues(r.Context(), storage.IssueFilter{TargetID: target.ID})
	if err != nil {
		writeError(w, err)
		return
	}
	if issues == nil {
		issues = []*types.Issue{}
	}
	writeJSON(w, http.StatusOK, TargetResponse{Target: target, Issues: issues})
}

// GET /v1/issues?target=&status=
func (s *Server) listIssues(w http.ResponseWriter, r *http.Request) {
	var filter storage.IssueFilter
	q := r.URL.Query()

	if status := q.Get("status"); status != "" {
		st, err := types.ParseIssueStatus(status)
		if err != nil {
			writeError(w, fmt.Errorf("%w: %v", tracker.ErrInvalid, err))
			return
		}
		filter.Status = st
	}
	if name := q.Get("target"); name != "" {
		target, err := s.store.GetTargetByName(r.Context(), name)
		if err != nil {
			writeError(w, err)
			return
		}
		filter.TargetID = target.ID
	}

	issues, err := s.store.ListIssues(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if issues == nil {
		issues = []*types.Issue{}
	}
	writeJSON(w, http.StatusOK, issues)
}

// GET /v1/issues/{id}
func (s *Server) getIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	issue, err := s.store.GetIssue(ctx, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	target, err := s.store.GetTarget(ctx, issue.TargetID)
	if err != nil {
		writeError(w, err)
		return
	}
	comments, err := s.store.ListComments(ctx, issue.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if comments == nil {
		comments = []*types.Comment{}
	}
	writeJSON(w, http.StatusOK, IssueResponse{Issue: issue, Target: target.Name, Comments: comments})
}

// POST /v1/issues
func (s *Server) createIssue(w http.ResponseWriter, r *http.Request) {
	var req tracker.NewIssue
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	var issue *types.Issue
	err := s.mutate(r, func(ctx context.Context, n notify.Notifier) error {
		var err error
		issue, err = s.tracker.OpenIssue(ctx, req, s.operator(r), n)
		return err
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, issue)
}

// POST /v1/issues/{id}/close
//
// Once the issue is closed, every node it held out of service (the target and,
// for sibling or cousin scopes, its peers) that no longer has any other reason
// to stay out is resumed right away instead of waiting for the next pass.
func (s *Server) closeIssue(w http.ResponseWriter, r *http.Request) {
	var req CommentRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, err)
		return
	}

	resp := CloseResponse{Onlined: []string{}}
	err := s.mutate(r, func(ctx context.Context, n notify.Notifier) error {
		op := s.operator(r)
		issue, err := s.tracker.CloseIssue(ctx, mux.Vars(r)["id"], op, req.Comment, n)
		if err != nil {
			return err
		}
		resp.Issue = issue

		target, err := s.store.GetTarget(ctx, issue.TargetID)
		if err != nil {
			return err
		}
		for _, name := range s.tracker.Reach(target.Name, issue.ToOffline) {
			resumed, err := s.resume(ctx, name, op, n)
			if err != nil {
				return err
			}
			if resumed {
				resp.Onlined = append(resp.Onlined, name)
			}
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// resume onlines name if it is stored out of service and nothing keeps it
// there any more
func (s *Server) resume(ctx context.Context, name, op string, n notify.Notifier) (bool, error) {
	target, err := s.store.GetTargetByName(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if target.Status != types.TargetStatusOffline && target.Status != types.TargetStatusDraining {
		return false, nil
	}
	desired, _, err := s.resolver.Desired(ctx, name)
	if err != nil {
		return false, err
	}
	if desired != types.TargetStatusOnline {
		return false, nil
	}
	if err := s.tracker.OnlineNode(ctx, name, op, n); err != nil {
		return false, err
	}
	return true, nil
}

// POST /v1/issues/{id}/comments
func (s *Server) addComment(w http.ResponseWriter, r *http.Request) {
	var req CommentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	c, err := s.tracker.AddComment(r.Context(), mux.Vars(r)["id"], s.operator(r), req.Comment)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// POST /v1/targets/{name}/offline
func (s *Server) offlineTarget(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	var req CommentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Comment == "" {
		writeError(w, fmt.Errorf("%w: comment is required", tracker.ErrInvalid))
		return
	}
	if !s.tracker.IsRealNode(name) {
		writeError(w, fmt.Errorf("%s: %w", name, tracker.ErrNotRealNode))
		return
	}

	err := s.mutate(r, func(ctx context.Context, n notify.Notifier) error {
		return s.tracker.OfflineNode(ctx, name, req.Comment, s.operator(r), n)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /v1/targets/{name}/online
func (s *Server) onlineTarget(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if !s.tracker.IsRealNode(name) {
		writeError(w, fmt.Errorf("%s: %w", name, tracker.ErrNotRealNode))
		return
	}

	err := s.mutate(r, func(ctx context.Context, n notify.Notifier) error {
		return s.tracker.OnlineNode(ctx, name, s.operator(r), n)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
