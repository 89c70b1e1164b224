package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jbweber/marionette/api/v1alpha1"
	"github.com/jbweber/marionette/internal/hypervisor"
	"github.com/jbweber/marionette/internal/naming"
	"github.com/jbweber/marionette/internal/session"
)

// createRequest is the body of POST /. Exactly one of Connect and Clone is
// set; Snapshot only goes with Clone.
type createRequest struct {
	Connect  string `json:"connect,omitempty"`
	Clone    string `json:"clone,omitempty"`
	Snapshot string `json:"snapshot,omitempty"`
	Layout   string `json:"layout,omitempty"`
}

func (c createRequest) validate() error {
	switch {
	case c.Connect == "" && c.Clone == "":
		return fmt.Errorf("%w: one of connect or clone is required", errBadRequest)
	case c.Connect != "" && c.Clone != "":
		return fmt.Errorf("%w: connect and clone are mutually exclusive", errBadRequest)
	case c.Snapshot != "" && c.Clone == "":
		return fmt.Errorf("%w: snapshot requires clone", errBadRequest)
	}
	return nil
}

// createResponse lists the endpoints of a new session.
type createResponse struct {
	ID      string `json:"id"`
	Execute string `json:"execute"`
	Run     string `json:"run"`
	Close   string `json:"close"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, err)
		return
	}
	if err := req.validate(); err != nil {
		writeErr(w, err)
		return
	}

	layout := req.Layout
	if layout == "" {
		layout = s.opts.Layout
	}
	if _, err := s.executor(layout); err != nil {
		writeErr(w, err)
		return
	}

	mgr := session.NewManager(s.hv, session.WithLayout(layout))
	var (
		sess *session.Session
		err  error
	)
	if req.Connect != "" {
		sess, err = mgr.Attach(r.Context(), req.Connect)
	} else {
		name := naming.CloneName(req.Clone, uuid.New().String())
		sess, err = mgr.CloneAndLaunch(r.Context(), req.Clone, name, req.Snapshot)
	}
	if err != nil {
		requestLog(r).WithError(err).Error("failed to create session")
		writeErr(w, err)
		return
	}
	s.registry.Add(sess)
	sess.Log().Info("Session registered")

	base := fmt.Sprintf("%s/vm/%s", baseURL(r), sess.ID())
	writeJSON(w, http.StatusCreated, createResponse{
		ID:      sess.ID(),
		Execute: base + "/api/execute",
		Run:     base + "/run",
		Close:   base + "/close",
	})
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p == "http" || p == "https" {
		scheme = p
	}
	return scheme + "://" + r.Host
}

func (s *Server) listSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := s.registry.List()
	out := make([]*v1alpha1.Session, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.Resource())
	}
	writeJSON(w, http.StatusOK, out)
}

// sessionCtx resolves the {vm} URL parameter to a registered session.
func (s *Server) sessionCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.registry.Get(chi.URLParam(r, "vm"))
		if err != nil {
			writeErr(w, err)
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFrom(r *http.Request) *session.Session {
	return r.Context().Value(sessionKey).(*session.Session)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionFrom(r).Resource())
}

func (s *Server) runProcess(w http.ResponseWriter, r *http.Request) {
	var spec hypervisor.ProcessSpec
	if err := decodeJSON(r, &spec); err != nil {
		writeErr(w, err)
		return
	}
	if len(spec.CommandLine) == 0 {
		writeErr(w, fmt.Errorf("%w: commandLine must not be empty", errBadRequest))
		return
	}

	res, err := sessionFrom(r).RunProcess(r.Context(), spec)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// closeSession removes the session from the registry before closing it, so
// no new batch can reach it. A batch already running finishes first.
func (s *Server) closeSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Remove(sessionFrom(r).ID())
	if err != nil {
		writeErr(w, err)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	err = sess.Serialize(func() error {
		return sess.Close(ctx)
	})
	if err != nil {
		sess.Log().WithError(err).Error("failed to close session")
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
