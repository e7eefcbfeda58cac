package http

import (
	"net/http"
	"time"

	"expensemanager/internal/core"
	"expensemanager/internal/log"
	"expensemanager/internal/services"
)

type sessionResponse struct {
	Token     string    `json:"token"`
	User      core.User `json:"user"`
	CreatedAt time.Time `json:"created_at"`
}

// credentials reads first_name, last_name and password from the body.
func credentials(p *RequestBodyParser) (first, last, password string) {
	return p.Get("first_name"), p.Get("last_name"), p.Raw("password")
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		ErrorFor(err).Write(w)
		return
	}

	initial, err := p.OptionalMoney("initial_amount")
	if err != nil {
		ErrorFor(err).Write(w)
		return
	}
	first, last, password := credentials(p)

	user, err := s.api.CreateUser(r.Context(), first, last, password, initial)
	if err != nil {
		fail(w, r, log.OpCreate, err)
		return
	}
	Created(user).Header("Location", "/users/"+user.ID).Write(w)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.api.ListUsers(r.Context())
	if err != nil {
		fail(w, r, "list_users", err)
		return
	}
	OK(users).Write(w)
}

// handleDeleteUser lets a user delete only their own account.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request, sess *services.Session) {
	id := r.PathValue("id")
	if id != sess.UserID {
		ForbiddenError("cannot delete another user").Write(w)
		return
	}

	user, err := s.api.DeleteUser(r.Context(), id)
	if err != nil {
		fail(w, r, log.OpDelete, err)
		return
	}
	OK(user).Write(w)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(r)
	if err := p.Parse(); err != nil {
		ErrorFor(err).Write(w)
		return
	}
	first, last, password := credentials(p)

	sess, err := s.api.Login(r.Context(), first, last, password)
	if err != nil {
		fail(w, r, log.OpLogin, err)
		return
	}
	Created(sessionResponse{Token: sess.Token, User: sess.User(), CreatedAt: sess.CreatedAt}).Write(w)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, sess *services.Session) {
	if err := s.api.Logout(r.Context(), sess.Token); err != nil {
		fail(w, r, log.OpLogout, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
