package api

import (
	"context"
	"errors"
	"net/http"

	"chronicle/storage"
)

// UserStorer mirrors host user roles for the user_role field
type UserStorer interface {
	UpsertUser(ctx context.Context, user *storage.User) error
	GetUser(ctx context.Context, id string) (*storage.User, error)
	ListUsers(ctx context.Context) ([]storage.User, error)
	DeleteUser(ctx context.Context, id string) error
}

// RoleCache drops a cached role after the mirror changes
type RoleCache interface {
	Invalidate(ctx context.Context, userID string)
}

type userRequest struct {
	Login string `json:"login,omitempty" validate:"max=200"`
	Role  string `json:"role" validate:"max=100"`
}

func (a *API) usersAvailable(w http.ResponseWriter) bool {
	if a.users == nil {
		writeError(w, http.StatusServiceUnavailable, "User storage not available", nil, a.logger)
		return false
	}
	return true
}

func (a *API) invalidateRole(ctx context.Context, id string) {
	if a.roleCache != nil {
		a.roleCache.Invalidate(ctx, id)
	}
}

// getUsers godoc
//
//	@Summary	List mirrored users
//	@Tags		users
//	@Produce	json
//	@Success	200	{array}	storage.User
//	@Router		/users [get]
func (a *API) getUsers(w http.ResponseWriter, r *http.Request) {
	if !a.usersAvailable(w) {
		return
	}
	users, err := a.users.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list users", err, a.logger)
		return
	}
	a.respondJSON(w, users, http.StatusOK)
}

// getUser godoc
//
//	@Summary	Get mirrored user
//	@Tags		users
//	@Produce	json
//	@Param		id	path		string	true	"User ID"
//	@Success	200	{object}	storage.User
//	@Failure	404	{string}	string
//	@Router		/users/{id} [get]
func (a *API) getUser(w http.ResponseWriter, r *http.Request) {
	if !a.usersAvailable(w) {
		return
	}
	id, ok := pathID(w, r, a.logger)
	if !ok {
		return
	}
	user, err := a.users.GetUser(r.Context(), id)
	if errors.Is(err, storage.ErrUserNotFound) {
		writeError(w, http.StatusNotFound, "User not found", nil, a.logger)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get user", err, a.logger)
		return
	}
	a.respondJSON(w, user, http.StatusOK)
}

// putUser godoc
//
//	@Summary		Upsert mirrored user
//	@Description	Records the host's role for a user so events carrying only _user_id can match on user_role
//	@Tags			users
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string		true	"User ID"
//	@Param			user	body		userRequest	true	"User"
//	@Success		200		{object}	storage.User
//	@Router			/users/{id} [put]
func (a *API) putUser(w http.ResponseWriter, r *http.Request) {
	if !a.usersAvailable(w) {
		return
	}
	id, ok := pathID(w, r, a.logger)
	if !ok {
		return
	}
	var req userRequest
	if err := a.decodeJSONBody(w, r, &req); err != nil {
		return
	}
	if err := a.validateRequest(w, req); err != nil {
		return
	}

	user := &storage.User{ID: id, Login: req.Login, Role: req.Role}
	if err := a.users.UpsertUser(r.Context(), user); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save user", err, a.logger)
		return
	}
	a.invalidateRole(r.Context(), id)
	a.logger.Debugw("User mirrored", "user_id", id, "role", user.Role, "actor", actor(r))
	a.respondJSON(w, user, http.StatusOK)
}

// deleteUser godoc
//
//	@Summary	Delete mirrored user
//	@Tags		users
//	@Param		id	path	string	true	"User ID"
//	@Success	204
//	@Failure	404	{string}	string
//	@Router		/users/{id} [delete]
func (a *API) deleteUser(w http.ResponseWriter, r *http.Request) {
	if !a.usersAvailable(w) {
		return
	}
	id, ok := pathID(w, r, a.logger)
	if !ok {
		return
	}
	err := a.users.DeleteUser(r.Context(), id)
	if errors.Is(err, storage.ErrUserNotFound) {
		writeError(w, http.StatusNotFound, "User not found", nil, a.logger)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete user", err, a.logger)
		return
	}
	a.invalidateRole(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}
