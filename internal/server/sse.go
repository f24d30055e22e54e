package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/modflowai/mfai-query/internal/progress"
)

const sseHeartbeatInterval = 30 * time.Second

// handleRunEvents streams a run's progress events via Server-Sent Events.
//
// The handler subscribes to the run's NATS subject and forwards each event
// as an SSE message whose event type is the progress phase. The stream
// closes after the run-level terminal event or when the client disconnects.
//
// Example:
//
//	GET /v1/runs/{run_id}/events
//
//	event: executing
//	data: {"run_id":"r-1","stage":"query_analyzer","phase":"executing","message":"attempt 1"}
//
//	event: completed
//	data: {"run_id":"r-1","stage":"workflow","phase":"completed","message":"completed"}
func (s *Server) handleRunEvents(c echo.Context) error {
	if s.nc == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event streaming is not enabled")
	}

	runID := c.Param("run_id")
	if runID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "run_id is required")
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no") // disable nginx buffering
	c.Response().WriteHeader(http.StatusOK)
	c.Response().Flush()

	msgChan := make(chan *nats.Msg, 16)
	sub, err := s.nc.ChanSubscribe(progress.RunSubject(runID), msgChan)
	if err != nil {
		return fmt.Errorf("subscribing to run events: %w", err)
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgChan:
			var event progress.Event
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				s.logger.Warn("malformed progress event",
					zap.String("run_id", runID),
					zap.Error(err))
				continue
			}

			fmt.Fprintf(c.Response(), "event: %s\n", event.Phase)
			fmt.Fprintf(c.Response(), "data: %s\n\n", msg.Data)
			c.Response().Flush()

			// The run-level terminal event ends the stream. Stage-level
			// failures do not: the run may continue on a fallback.
			if event.Stage == progress.RunStage {
				return nil
			}

		case <-ticker.C:
			fmt.Fprintf(c.Response(), ": heartbeat\n\n")
			c.Response().Flush()

		case <-c.Request().Context().Done():
			return nil
		}
	}
}
