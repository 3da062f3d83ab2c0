package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"spine"
	"spine/authz"
	"spine/engine"
	"spine/job"
)

type createJobRequest struct {
	Target      string          `json:"target"`
	Spec        string          `json:"spec"`
	Meta        json.RawMessage `json:"meta"`
	MaxAttempts int             `json:"maxAttempts"`
}

func (a *API) createJob(c *gin.Context) {
	if role(c) != authz.Head {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	var req createJobRequest
	// io.EOF means no body at all, which is fine: every create field
	// is optional.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	target := job.Target(req.Target)
	if req.Target != "" && !target.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid target"})
		return
	}

	j, err := a.eng.Create(engine.CreateInput{
		Target:      target,
		Spec:        req.Spec,
		Meta:        req.Meta,
		MaxAttempts: req.MaxAttempts,
	})
	if err != nil {
		a.fail500(c, "create", err)
		return
	}
	c.JSON(http.StatusCreated, j)
}

func (a *API) listJobs(c *gin.Context) {
	jobs, err := a.eng.List(role(c), engine.ListFilters{
		Status: job.Status(c.Query("status")),
		Target: job.Target(c.Query("target")),
	})
	if err != nil {
		a.fail500(c, "list", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (a *API) getJob(c *gin.Context) {
	j, err := a.eng.Get(role(c), c.Param("id"))
	if err != nil {
		a.renderError(c, "get", err)
		return
	}
	c.JSON(http.StatusOK, j)
}

func (a *API) claimJob(c *gin.Context) {
	r := role(c)
	if r == authz.Head {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	j, err := a.eng.Claim(r, c.Param("id"))
	if err != nil {
		a.renderError(c, "claim", err)
		return
	}
	c.JSON(http.StatusOK, j)
}

type heartbeatRequest struct {
	Progress json.RawMessage `json:"progress"`
}

func (a *API) heartbeatJob(c *gin.Context) {
	var req heartbeatRequest
	bindOptional(c, &req)

	j, err := a.eng.Heartbeat(role(c), c.Param("id"), engine.HeartbeatInput{Progress: req.Progress})
	if err != nil {
		a.renderError(c, "heartbeat", err)
		return
	}
	c.JSON(http.StatusOK, j)
}

type completeRequest struct {
	Result json.RawMessage `json:"result"`
}

func (a *API) completeJob(c *gin.Context) {
	var req completeRequest
	bindOptional(c, &req)

	j, err := a.eng.Complete(role(c), c.Param("id"), engine.CompleteInput{Result: req.Result})
	if err != nil {
		a.renderError(c, "complete", err)
		return
	}
	c.JSON(http.StatusOK, j)
}

type failRequest struct {
	Error   string `json:"error"`
	Requeue *bool  `json:"requeue"`
}

func (a *API) failJob(c *gin.Context) {
	var req failRequest
	bindOptional(c, &req)

	j, err := a.eng.Fail(role(c), c.Param("id"), engine.FailInput{Error: req.Error, Requeue: req.Requeue})
	if err != nil {
		a.renderError(c, "fail", err)
		return
	}
	c.JSON(http.StatusOK, j)
}

type releaseRequest struct {
	Reason string `json:"reason"`
}

func (a *API) releaseJob(c *gin.Context) {
	var req releaseRequest
	bindOptional(c, &req)

	j, err := a.eng.Release(role(c), c.Param("id"), engine.ReleaseInput{Reason: req.Reason})
	if err != nil {
		a.renderError(c, "release", err)
		return
	}
	c.JSON(http.StatusOK, j)
}

type commentRequest struct {
	Text string `json:"text"`
}

func (a *API) commentJob(c *gin.Context) {
	var req commentRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}

	j, err := a.eng.Comment(role(c), c.Param("id"), engine.CommentInput{Text: req.Text})
	if err != nil {
		a.renderError(c, "comment", err)
		return
	}
	c.JSON(http.StatusOK, j)
}

// bindOptional parses the request body into dst, tolerating an empty
// body. A present-but-malformed body is also tolerated: every field
// these requests carry is optional, so the zero value stands in.
func bindOptional(c *gin.Context, dst any) {
	_ = c.ShouldBindJSON(dst)
}

// renderError maps an engine sentinel to the HTTP status and
// machine-readable discriminator the caller dispatches on.
func (a *API) renderError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, spine.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, spine.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, spine.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "not_owner"})
	case errors.Is(err, spine.ErrLocked):
		c.JSON(http.StatusConflict, gin.H{"error": "locked"})
	case errors.Is(err, spine.ErrAlreadyClaimed):
		c.JSON(http.StatusConflict, gin.H{"error": "already_claimed"})
	case errors.Is(err, spine.ErrTerminalStatus):
		c.JSON(http.StatusConflict, gin.H{"error": "terminal_status"})
	case errors.Is(err, spine.ErrMaxAttemptsReached):
		c.JSON(http.StatusConflict, gin.H{"error": "max_attempts_reached"})
	case errors.Is(err, spine.ErrNotRunning):
		c.JSON(http.StatusConflict, gin.H{"error": "not_running"})
	default:
		a.fail500(c, op, err)
	}
}

func (a *API) fail500(c *gin.Context, op string, err error) {
	a.logger.Error("internal error",
		"op", op,
		"job_id", c.Param("id"),
		"error", err.Error(),
	)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
}
