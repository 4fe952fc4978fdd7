package fixture

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"

	"github.com/krisalay/posyandu-cache/keys"
	"github.com/krisalay/posyandu-cache/posyandu"
)

// Publisher broadcasts the tags of every write. *invalidation.Publisher satisfies it.
type Publisher interface {
	Publish(tags ...string) error
}

type failure struct {
	status  int
	message string
}

/*
Server is the fixture REST API.

Besides serving the endpoints it can delay or fail requests by path, and it
counts requests so tests can assert how many actually reached the backend.
*/
type Server struct {
	store  *Store
	token  string
	pub    Publisher
	logger *slog.Logger
	router *mux.Router

	mu       sync.Mutex
	delays   map[string]time.Duration
	failures map[string]failure
	counts   map[string]int
}

type Option func(*Server)

// WithToken requires "Authorization: Bearer <token>" on every request.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithPublisher announces the tags of every successful write.
func WithPublisher(p Publisher) Option {
	return func(s *Server) { s.pub = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func NewServer(store *Store, opts ...Option) *Server {
	s := &Server{
		store:    store,
		logger:   slog.Default(),
		router:   mux.NewRouter(),
		delays:   make(map[string]time.Duration),
		failures: make(map[string]failure),
		counts:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.logRequests, s.authenticate, s.inject)

	s.router.Methods(http.MethodGet).Path("/posyandus").HandlerFunc(s.listPosyandus)
	s.router.Methods(http.MethodPost).Path("/posyandus").HandlerFunc(s.createPosyandu)
	s.router.Methods(http.MethodGet).Path("/posyandus/{id}").HandlerFunc(s.getPosyandu)
	s.router.Methods(http.MethodPut).Path("/posyandus/{id}").HandlerFunc(s.updatePosyandu)
	s.router.Methods(http.MethodPatch).Path("/posyandus/{id}/active").HandlerFunc(s.setPosyanduActive)

	s.router.Methods(http.MethodGet).Path("/children").HandlerFunc(s.listChildren)
	s.router.Methods(http.MethodPost).Path("/children").HandlerFunc(s.createChild)
	s.router.Methods(http.MethodGet).Path("/children/{id}").HandlerFunc(s.getChild)
	s.router.Methods(http.MethodPut).Path("/children/{id}").HandlerFunc(s.updateChild)
	s.router.Methods(http.MethodGet).Path("/children/{id}/growth").HandlerFunc(s.listGrowth)
	s.router.Methods(http.MethodPost).Path("/children/{id}/growth").HandlerFunc(s.addGrowth)

	s.router.Methods(http.MethodGet).Path("/users").HandlerFunc(s.listUsers)
	s.router.Methods(http.MethodPost).Path("/users").HandlerFunc(s.createUser)
	s.router.Methods(http.MethodPatch).Path("/users/{id}/active").HandlerFunc(s.setUserActive)

	s.router.Methods(http.MethodGet).Path("/dashboard").HandlerFunc(s.dashboard)
	s.router.Methods(http.MethodGet).Path("/reports/monthly").HandlerFunc(s.monthlyReport)
}

// Delay holds every request to path for d. Zero removes the delay.
func (s *Server) Delay(path string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d <= 0 {
		delete(s.delays, clean(path))
		return
	}
	s.delays[clean(path)] = d
}

// Fail answers every request to path with status and message until Recover is called.
func (s *Server) Fail(path string, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[clean(path)] = failure{status: status, message: message}
}

func (s *Server) Recover(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, clean(path))
}

// Requests returns how many requests reached path.
func (s *Server) Requests(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[clean(path)]
}

func clean(path string) string {
	return "/" + strings.Trim(path, "/")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		s.logger.Debug("handled", "method", r.Method, "url", r.URL, "duration", m.Duration, "status", m.Code)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get("Authorization") != "Bearer "+s.token {
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// inject counts the request, then applies the delay and failure set for its path.
func (s *Server) inject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := clean(r.URL.Path)

		s.mu.Lock()
		s.counts[path]++
		delay := s.delays[path]
		fail, failing := s.failures[path]
		s.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}
		if failing {
			writeError(w, fail.status, fail.message)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

// respond writes v, or maps err to a status.
func (s *Server) respond(w http.ResponseWriter, status int, v any, err error) {
	switch {
	case err == nil:
		writeJSON(w, status, v)
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		s.logger.Error("fixture request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// written announces a successful write to other sessions.
func (s *Server) written(tags ...string) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(tags...); err != nil {
		s.logger.Warn("failed to publish invalidation", "tags", tags, "err", err)
	}
}

// ---------------- posyandus ----------------

func (s *Server) listPosyandus(w http.ResponseWriter, r *http.Request) {
	out, err := s.store.ListPosyandus(r.Context(), r.URL.Query().Get("status"))
	s.respond(w, http.StatusOK, out, err)
}

func (s *Server) getPosyandu(w http.ResponseWriter, r *http.Request) {
	out, err := s.store.GetPosyandu(r.Context(), mux.Vars(r)["id"])
	s.respond(w, http.StatusOK, out, err)
}

func (s *Server) createPosyandu(w http.ResponseWriter, r *http.Request) {
	var in posyandu.PosyanduInput
	if !decode(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.Name) == "" {
		writeError(w, http.StatusUnprocessableEntity, "name is required")
		return
	}
	out, err := s.store.CreatePosyandu(r.Context(), in)
	if err == nil {
		s.written(keys.Tag(keys.Posyandu))
	}
	s.respond(w, http.StatusCreated, out, err)
}

func (s *Server) updatePosyandu(w http.ResponseWriter, r *http.Request) {
	var in posyandu.PosyanduInput
	if !decode(w, r, &in) {
		return
	}
	id := mux.Vars(r)["id"]
	out, err := s.store.UpdatePosyandu(r.Context(), id, in)
	if err == nil {
		s.written(keys.Tag(keys.Posyandu), keys.RecordTag(keys.Posyandu, id))
	}
	s.respond(w, http.StatusOK, out, err)
}

func (s *Server) setPosyanduActive(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Active bool `json:"active"`
	}
	if !decode(w, r, &in) {
		return
	}
	id := mux.Vars(r)["id"]
	out, err := s.store.SetPosyanduActive(r.Context(), id, in.Active)
	if err == nil {
		s.written(keys.Tag(keys.Posyandu), keys.RecordTag(keys.Posyandu, id))
	}
	s.respond(w, http.StatusOK, out, err)
}

// ---------------- children ----------------

func (s *Server) listChildren(w http.ResponseWriter, r *http.Request) {
	out, err := s.store.ListChildren(r.Context(), r.URL.Query().Get("posyandu_id"))
	s.respond(w, http.StatusOK, out, err)
}

func (s *Server) getChild(w http.ResponseWriter, r *http.Request) {
	out, err := s.store.GetChild(r.Context(), mux.Vars(r)["id"])
	s.respond(w, http.StatusOK, out, err)
}

func (s *Server) createChild(w http.ResponseWriter, r *http.Request) {
	var in posyandu.ChildInput
	if !decode(w, r, &in) {
		return
	}
	out, err := s.store.CreateChild(r.Context(), in)
	if err == nil {
		s.written(keys.Tag(keys.Child))
	}
	s.respond(w, http.StatusCreated, out, err)
}

func (s *Server) updateChild(w http.ResponseWriter, r *http.Request) {
	var in posyandu.ChildInput
	if !decode(w, r, &in) {
		return
	}
	id := mux.Vars(r)["id"]
	out, err := s.store.UpdateChild(r.Context(), id, in)
	if err == nil {
		s.written(keys.Tag(keys.Child), keys.RecordTag(keys.Child, id))
	}
	s.respond(w, http.StatusOK, out, err)
}

func (s *Server) listGrowth(w http.ResponseWriter, r *http.Request) {
	out, err := s.store.ListGrowth(r.Context(), mux.Vars(r)["id"])
	s.respond(w, http.StatusOK, out, err)
}

func (s *Server) addGrowth(w http.ResponseWriter, r *http.Request) {
	var in posyandu.GrowthRecord
	if !decode(w, r, &in) {
		return
	}
	out, err := s.store.AddGrowth(r.Context(), mux.Vars(r)["id"], in)
	if err == nil {
		s.written(keys.Tag(keys.Growth))
	}
	s.respond(w, http.StatusCreated, out, err)
}

// ---------------- users ----------------

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	out, err := s.store.ListUsers(r.Context(), r.URL.Query().Get("role"))
	s.respond(w, http.StatusOK, out, err)
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var in posyandu.UserInput
	if !decode(w, r, &in) {
		return
	}
	out, err := s.store.CreateUser(r.Context(), in)
	if err == nil {
		s.written(keys.Tag(keys.User))
	}
	s.respond(w, http.StatusCreated, out, err)
}

func (s *Server) setUserActive(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Active bool `json:"active"`
	}
	if !decode(w, r, &in) {
		return
	}
	id := mux.Vars(r)["id"]
	out, err := s.store.SetUserActive(r.Context(), id, in.Active)
	if err == nil {
		s.written(keys.Tag(keys.User), keys.RecordTag(keys.User, id))
	}
	s.respond(w, http.StatusOK, out, err)
}

// ---------------- aggregates ----------------

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	out, err := s.store.Dashboard(r.Context(), r.URL.Query().Get("posyandu_id"))
	s.respond(w, http.StatusOK, out, err)
}

func (s *Server) monthlyReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	out, err := s.store.MonthlyReport(r.Context(), q.Get("posyandu_id"), q.Get("period"))
	if err != nil && !errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respond(w, http.StatusOK, out, err)
}
