package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/emilianohg/clickmirror/internal/analytics"
	"github.com/emilianohg/clickmirror/internal/jobs"
	"github.com/emilianohg/clickmirror/internal/mirror"
)

// handleReport plans the report and runs it through the job manager.
// Planning reads only the structure cache and the mirror; tasks load
// inside the job. Scopes known to be large return a handle right away,
// the rest get the result inline when it is ready within the quick wait.
func (s *Server) handleReport(c *gin.Context) {
	var req analytics.Request
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.Kind = analytics.Kind(c.Param("kind"))

	plan, err := s.reports.Plan(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err)
		return
	}

	name := "report:" + string(req.Kind)
	run := func(ctx context.Context) (any, error) { return plan.Execute(ctx) }

	if !plan.Inline() {
		id, err := s.jobs.Submit(name, run)
		if err != nil {
			s.respondError(c, err)
			return
		}
		st, err := s.jobs.Get(id)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, st)
		return
	}

	st, err := s.jobs.Dispatch(c.Request.Context(), name, run)
	if err != nil {
		s.respondError(c, err)
		return
	}
	switch st.State {
	case jobs.StateFinished:
		c.JSON(http.StatusOK, st)
	case jobs.StateFailed:
		c.JSON(http.StatusInternalServerError, st)
	default:
		c.JSON(http.StatusAccepted, st)
	}
}

func (s *Server) handleListKinds(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"kinds": analytics.Kinds()})
}

func (s *Server) handleListJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.jobs.List()})
}

func (s *Server) handlePollJob(c *gin.Context) {
	st, err := s.jobs.Poll(c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// handleJobResult returns a finished job's result. With wait=true it
// blocks up to the configured ceiling, or timeout seconds if shorter.
func (s *Server) handleJobResult(c *gin.Context) {
	id := c.Param("id")

	var (
		result any
		err    error
	)
	if wait, _ := strconv.ParseBool(c.Query("wait")); wait {
		var d time.Duration
		if secs, perr := strconv.Atoi(c.Query("timeout")); perr == nil && secs > 0 {
			d = time.Duration(secs) * time.Second
		}
		result, err = s.jobs.Await(c.Request.Context(), id, d)
	} else {
		result, err = s.jobs.Result(id)
	}

	if errors.Is(err, jobs.ErrJobNotFinished) {
		st, gerr := s.jobs.Get(id)
		if gerr != nil {
			s.respondError(c, gerr)
			return
		}
		c.JSON(http.StatusAccepted, st)
		return
	}
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "result": result})
}

// handleSync starts a full sync in the background.
func (s *Server) handleSync(c *gin.Context) {
	if s.sync == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sync not configured"})
		return
	}
	if s.sync.Running() {
		s.respondError(c, mirror.ErrSyncInProgress)
		return
	}

	id, err := s.jobs.Submit("sync", func(ctx context.Context) (any, error) {
		return s.sync.RunFull(ctx)
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	st, err := s.jobs.Get(id)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, st)
}
