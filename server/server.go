// Package server exposes the job subsystem's HTTP API: job submission and
// inspection per deposit, and the activity stream for harvesters.
package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Shyp/go-types"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"go.uber.org/zap"

	"github.com/arkstead/keepsake/activity"
	"github.com/arkstead/keepsake/config"
	"github.com/arkstead/keepsake/models"
	"github.com/arkstead/keepsake/mutator"
	"github.com/arkstead/keepsake/services"
)

// Submission bodies larger than this are rejected outright.
const maxRequestBody = 1 << 20

// PushCodeHeader carries the TOTP passcode for the privileged event push
// endpoint.
const PushCodeHeader = "X-Push-Code"

type Server struct {
	Submit  *services.Submitter
	Store   services.JobStore
	Stream  *activity.Stream
	Pusher  *services.EventPusher
	Mutator *mutator.Mutator

	// PushSecret is the shared TOTP secret for POST /v1/activity/push.
	// Empty disables the endpoint.
	PushSecret string

	Auth   Authorizer
	Logger *zap.Logger
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(serverHeaders)

	r.Get("/", s.root)

	r.Route("/v1", func(r chi.Router) {
		r.Use(authMiddleware(s.Auth))
		r.Post("/deposits/{depositID}/jobs/{kind}", s.submitJob)
		r.Get("/deposits/{depositID}/jobs", s.listDepositJobs)
		r.Get("/deposits/{depositID}/jobs/{jobID}", s.getDepositJob)
		r.Get("/jobs/{jobID}", s.getJob)
		r.Get("/activity/collection", s.activityCollection)
		r.Get("/activity/page/{page}", s.activityPage)
		// Alias used by harvesters that derive page URLs from the
		// collection URL instead of following its links.
		r.Get("/activity/collection/page/{page}", s.activityPage)
		r.Post("/activity/push", s.pushEvent)
	})

	r.NotFound(notFound)
	return r
}

// requestID tags every response with an identifier clients can quote when
// reporting problems. An inbound X-Request-Id is echoed rather than replaced.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

func serverHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "keepsake/"+config.Version)
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "keepsake",
		"version": config.Version,
	})
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	depositID := chi.URLParam(r, "depositID")
	kind := models.JobKind(chi.URLParam(r, "kind"))

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		writeError(w, r, models.NewValidation("Could not read the request body"))
		return
	}
	if len(body) > maxRequestBody {
		writeError(w, r, models.NewValidation("Request body too large"))
		return
	}

	job, err := s.Submit.Submit(r.Context(), depositID, kind, body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jr, err := models.Project(job)
	if err != nil {
		writeError(w, r, models.NewUnknown(err))
		return
	}
	w.Header().Set("Location", "/v1/deposits/"+job.DepositID+"/jobs/"+job.ID.String())
	writeJSON(w, http.StatusAccepted, s.Mutator.MutateResult(jr))
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id, err := types.NewPrefixUUID(chi.URLParam(r, "jobID"))
	if err != nil || id.Prefix != models.IDPrefix {
		notFound(w, r)
		return
	}
	job, err := s.Store.Get(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jr, err := models.Project(job)
	if err != nil {
		writeError(w, r, models.NewUnknown(err))
		return
	}
	writeJSON(w, http.StatusOK, s.Mutator.MutateResult(jr))
}

// getDepositJob is the canonical status lookup: jobs are addressed by
// deposit plus identifier, and a valid job id under the wrong deposit is a
// 404, not a leak of another deposit's job.
func (s *Server) getDepositJob(w http.ResponseWriter, r *http.Request) {
	id, err := types.NewPrefixUUID(chi.URLParam(r, "jobID"))
	if err != nil || id.Prefix != models.IDPrefix {
		notFound(w, r)
		return
	}
	job, err := s.Store.GetForDeposit(chi.URLParam(r, "depositID"), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	jr, err := models.Project(job)
	if err != nil {
		writeError(w, r, models.NewUnknown(err))
		return
	}
	writeJSON(w, http.StatusOK, s.Mutator.MutateResult(jr))
}

func (s *Server) listDepositJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.Store.GetByDeposit(chi.URLParam(r, "depositID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]*models.JobResult, 0, len(jobs))
	for _, job := range jobs {
		jr, perr := models.Project(job)
		if perr != nil {
			writeError(w, r, models.NewUnknown(perr))
			return
		}
		out = append(out, s.Mutator.MutateResult(jr))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) activityCollection(w http.ResponseWriter, r *http.Request) {
	col, err := s.Stream.Collection()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, col)
}

func (s *Server) activityPage(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil {
		notFound(w, r)
		return
	}
	page, err := s.Stream.Page(n)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// pushEventBody is the request shape for externally-reported version
// changes.
type pushEventBody struct {
	ArchivalGroup string `json:"archival_group"`
	FromVersion   string `json:"from_version"`
	ToVersion     string `json:"to_version"`
	Deleted       bool   `json:"deleted"`
}

func (s *Server) pushEvent(w http.ResponseWriter, r *http.Request) {
	if s.PushSecret == "" {
		notFound(w, r)
		return
	}
	code := r.Header.Get(PushCodeHeader)
	if !totp.Validate(code, s.PushSecret) {
		s.Logger.Warn("event push with bad passcode",
			zap.String("remote", r.RemoteAddr))
		forbidden(w, r, "Invalid or expired push code")
		return
	}

	var body pushEventBody
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&body); err != nil {
		writeError(w, r, models.NewValidation("Invalid push body: %s", err))
		return
	}
	ev, err := s.Pusher.Push(body.ArchivalGroup, body.FromVersion, body.ToVersion, body.Deleted)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.Mutator.MutateEvent(ev))
}

// New builds an http.Server with sane timeouts around the route table.
func New(s *Server, addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}
}
