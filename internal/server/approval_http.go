package server

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/teemow/ipdocket/internal/approval"
	"github.com/teemow/ipdocket/internal/automation"
	"github.com/teemow/ipdocket/internal/instrumentation"
	"github.com/teemow/ipdocket/internal/logging"
)

// Approver is the part of the approval service the HTTP handlers use.
type Approver interface {
	Verify(ctx context.Context, token string) (*approval.TokenPayload, error)
	Approve(ctx context.Context, token string) (*automation.BatchResult, error)
	Reject(ctx context.Context, token string) error
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
{{if .Token}}<form method="post" action="{{.Action}}">
<input type="hidden" name="token" value="{{.Token}}">
<button type="submit">{{.Button}}</button>
</form>{{end}}
</body></html>
`))

type page struct {
	Title   string
	Message string
	Action  string
	Token   string
	Button  string
}

// ApprovalHandler serves the links sent to approvers. GET shows a
// confirmation form so that link scanners cannot decide a batch; POST
// applies the decision.
type ApprovalHandler struct {
	approvals Approver
	logger    *slog.Logger
	metrics   *instrumentation.Metrics
}

// NewApprovalHandler creates the /approve and /reject handler.
func NewApprovalHandler(approvals Approver, logger *slog.Logger, metrics *instrumentation.Metrics) *ApprovalHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApprovalHandler{approvals: approvals, logger: logger, metrics: metrics}
}

// Register adds the approval routes to mux.
func (h *ApprovalHandler) Register(mux *http.ServeMux) {
	mux.Handle("/approve", h.instrument("/approve", http.HandlerFunc(h.serveApprove)))
	mux.Handle("/reject", h.instrument("/reject", http.HandlerFunc(h.serveReject)))
}

func (h *ApprovalHandler) serveApprove(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "/approve", "Approve", func(ctx context.Context, token string) (string, error) {
		result, err := h.approvals.Approve(ctx, token)
		if err != nil {
			return "", err
		}
		if result.Success {
			return "The batch was approved and all actions ran.", nil
		}
		return "The batch was approved but some actions failed. Finished with status " + string(result.FinalStatus()) + ".", nil
	})
}

func (h *ApprovalHandler) serveReject(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, "/reject", "Reject", func(ctx context.Context, token string) (string, error) {
		if err := h.approvals.Reject(ctx, token); err != nil {
			return "", err
		}
		return "The batch was rejected. No actions ran.", nil
	})
}

func (h *ApprovalHandler) serve(w http.ResponseWriter, r *http.Request, path, verb string, decide func(context.Context, string) (string, error)) {
	switch r.Method {
	case http.MethodGet:
		token := r.URL.Query().Get("token")
		p, err := h.approvals.Verify(r.Context(), token)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		render(w, http.StatusOK, page{
			Title:   verb + " batch " + p.BatchID,
			Message: "Confirm to " + verb + " this automation batch. The link expires at " + p.ExpiresAt().UTC().Format(time.RFC1123) + ".",
			Action:  path,
			Token:   token,
			Button:  verb,
		})

	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			render(w, http.StatusBadRequest, page{Title: "Bad request", Message: "The form could not be read."})
			return
		}
		msg, err := decide(r.Context(), r.PostForm.Get("token"))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		render(w, http.StatusOK, page{Title: "Done", Message: msg})

	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *ApprovalHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Approval request failed", slog.String("path", r.URL.Path), logging.Err(err))
	} else {
		h.logger.Info("Approval request refused", slog.String("path", r.URL.Path), slog.String("reason", msg))
	}
	render(w, status, page{Title: "Not possible", Message: msg})
}

// classify maps service errors to a status code and a message that reveals
// nothing about the token beyond it being unusable.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, approval.ErrInvalidToken):
		return http.StatusUnauthorized, "This link is invalid or has expired."
	case errors.Is(err, approval.ErrNonceReused):
		return http.StatusConflict, "This link was already used."
	case errors.Is(err, approval.ErrBatchNotPending), errors.Is(err, automation.ErrBatchRunning):
		return http.StatusConflict, "This batch was already decided."
	case errors.Is(err, approval.ErrApproverMismatch):
		return http.StatusForbidden, "This link was issued to a different approver."
	case errors.Is(err, automation.ErrBatchNotFound):
		return http.StatusNotFound, "The batch no longer exists."
	}
	return http.StatusInternalServerError, "Something went wrong. Please try again later."
}

func render(w http.ResponseWriter, status int, p page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.WriteHeader(status)
	_ = pageTemplate.Execute(w, p)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (h *ApprovalHandler) instrument(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.metrics.RecordHTTPRequest(r.Context(), r.Method, path, rec.status, time.Since(start))
	})
}
