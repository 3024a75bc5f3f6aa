package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/bryanwahyu/grups/src/app/auth"
	"github.com/bryanwahyu/grups/src/app/groups"
	"github.com/bryanwahyu/grups/src/domain/group"
	"github.com/bryanwahyu/grups/src/domain/shared"
)

const legacyCreatedMessage = "successfully created new group"

// CreateGroupRequest accepts "creator" as sent by the original web client.
type CreateGroupRequest struct {
	Name      string `json:"name"`
	CreatorID string `json:"creator_id"`
	Creator   string `json:"creator"`
}

func (req CreateGroupRequest) input() groups.CreateInput {
	creator := req.CreatorID
	if creator == "" {
		creator = req.Creator
	}
	return groups.CreateInput{Name: req.Name, CreatorID: shared.UserID(creator)}
}

type groupResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatorID string    `json:"creator_id"`
	CreatedAt time.Time `json:"created_at"`
}

func toGroupResponse(g *group.Group) *groupResponse {
	if g == nil {
		return nil
	}
	return &groupResponse{
		ID:        int64(g.ID),
		Name:      g.Name,
		CreatorID: string(g.CreatorID),
		CreatedAt: g.CreatedAt,
	}
}

func (s *Server) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, _ := auth.CallerFromContext(r.Context())
	created, err := s.cfg.GroupService.CreateGroup(r.Context(), caller, req.input())
	if err != nil {
		status, body := creationFailure(err)
		s.createOutcomes.WithLabelValues(body.Kind).Inc()
		s.writeJSON(w, status, body)
		return
	}
	s.createOutcomes.WithLabelValues("created").Inc()
	s.writeJSON(w, http.StatusCreated, toGroupResponse(created))
}

// handleLegacyGroupAdd answers in plain text, which the original client shows verbatim.
func (s *Server) handleLegacyGroupAdd(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	caller, _ := auth.CallerFromContext(r.Context())
	if _, err := s.cfg.GroupService.CreateGroup(r.Context(), caller, req.input()); err != nil {
		status, body := creationFailure(err)
		s.createOutcomes.WithLabelValues(body.Kind).Inc()
		http.Error(w, body.Error, status)
		return
	}
	s.createOutcomes.WithLabelValues("created").Inc()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(legacyCreatedMessage))
}

// creationFailure maps a workflow error to a status and body. Storage failures get a
// generic message; kind and stage stay in the body for diagnostics.
func creationFailure(err error) (int, errorResponse) {
	var cerr *group.CreationError
	if !errors.As(err, &cerr) {
		return http.StatusInternalServerError, errorResponse{Error: "failed to create group", Kind: "internal"}
	}
	body := errorResponse{Kind: cerr.Kind.String(), Stage: string(cerr.Stage)}
	switch cerr.Kind {
	case group.KindNoCallerIdentity:
		body.Error = "caller identity missing"
		return http.StatusUnauthorized, body
	case group.KindCreatorMismatch:
		body.Error = "creator must be the authenticated user"
		return http.StatusForbidden, body
	case group.KindInvalidRequest:
		body.Error = cerr.Err.Error()
		return http.StatusBadRequest, body
	case group.KindGroupAlreadyExists:
		body.Error = "group already exists"
		body.Group = toGroupResponse(cerr.Existing)
		return http.StatusConflict, body
	case group.KindConnectionUnavailable:
		body.Error = "storage unavailable"
		return http.StatusServiceUnavailable, body
	default:
		body.Error = "failed to create group"
		return http.StatusInternalServerError, body
	}
}
