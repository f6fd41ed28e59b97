// Package webhook serves the GitLab push notification endpoint that triggers
// a synchronization of the configured working copy.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sithukyaw666/pullhook/model"
	"github.com/sithukyaw666/pullhook/operations"
)

// TokenHeader carries the shared secret GitLab is configured with.
const TokenHeader = "X-Gitlab-Token"

// maxBodySize bounds how much of a payload is read. GitLab push events
// with many commits stay well below this.
const maxBodySize = 25 * 1024 * 1024

type authErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

type successResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Output  string `json:"output"`
}

// Handler authenticates a notification and synchronizes the working copy.
type Handler struct {
	repoPath string
	secret   []byte
	timeout  time.Duration
	syncer   operations.Syncer
	logger   *slog.Logger

	// running counts syncs in flight so shutdown can wait for them.
	running sync.WaitGroup
}

// NewHandler panics on an empty secret or repository path; either would
// make every request fail or authenticate anyone.
func NewHandler(config model.Config, syncer operations.Syncer, logger *slog.Logger) *Handler {
	if config.Secret == "" {
		panic("webhook.Handler: secret is required")
	}
	if config.RepoPath == "" {
		panic("webhook.Handler: repository path is required")
	}
	return &Handler{
		repoPath: config.RepoPath,
		secret:   []byte(config.Secret),
		timeout:  config.Sync.Timeout(),
		syncer:   syncer,
		logger:   logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.With("remote_addr", r.RemoteAddr)
	logger.Info("Received webhook request")

	tokens, present := r.Header[http.CanonicalHeaderKey(TokenHeader)]
	if !present || len(tokens) == 0 {
		logger.Warn("No GitLab token in header")
		writeJSON(w, http.StatusUnauthorized, authErrorResponse{Status: "error", Message: "No token in header"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(tokens[0]), h.secret) != 1 {
		logger.Warn("Invalid token")
		writeJSON(w, http.StatusUnauthorized, authErrorResponse{Status: "error", Message: "Invalid token"})
		return
	}

	notification := h.readNotification(r, logger)
	logger.Info("Webhook for repository",
		"repository", notification.Repository.Name,
		"object_kind", notification.ObjectKind,
		"ref", notification.Ref,
		"checkout_sha", notification.CheckoutSHA,
	)

	// A client hanging up must not abort a pull halfway through.
	ctx := context.WithoutCancel(r.Context())
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	logger.Info("Synchronizing working copy", "repo_path", h.repoPath)
	h.running.Add(1)
	output, err := h.syncer.Sync(ctx, h.repoPath)
	h.running.Done()

	var syncErr *operations.SyncError
	switch {
	case err == nil:
		logger.Info("Sync succeeded", "output", output)
		writeJSON(w, http.StatusOK, successResponse{
			Status:  "success",
			Message: "Repository updated successfully",
			Output:  output,
		})
	case errors.As(err, &syncErr):
		logger.Error("Sync failed", "error", syncErr.Output)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Status:  "error",
			Message: "Failed to update repository",
			Error:   syncErr.Output,
		})
	default:
		logger.Error("Unexpected error", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Status:  "error",
			Message: "Unexpected error",
			Error:   err.Error(),
		})
	}
}

// Wait blocks until every sync started by the handler has returned.
func (h *Handler) Wait() {
	h.running.Wait()
}

// readNotification never fails: unreadable or malformed bodies yield an
// empty notification, whose fields are only used for logging.
func (h *Handler) readNotification(r *http.Request, logger *slog.Logger) model.Notification {
	var notification model.Notification

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		logger.Warn("Failed to read request body", "error", err)
		return notification
	}
	if len(body) == 0 {
		logger.Debug("Empty request body")
		return notification
	}
	if err := json.Unmarshal(body, &notification); err != nil {
		logger.Warn("Ignoring malformed JSON payload", "error", err)
		return model.Notification{}
	}
	return notification
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
