package tracking

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"route-tracking/internal/matcher"
	"route-tracking/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// keepAliveInterval is how often an idle event stream gets a comment line so
// proxies do not close it.
const keepAliveInterval = 15 * time.Second

// Handler exposes live tracking and arrival estimates over HTTP.
type Handler struct {
	svc      ServiceInterface
	validate *validator.Validate
	log      logrus.FieldLogger

	closing   chan struct{}
	closeOnce sync.Once
}

func NewHandler(svc ServiceInterface, log logrus.FieldLogger) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(),
		log:      log,
		closing:  make(chan struct{}),
	}
}

// CloseStreams ends every open event stream. Plain requests are not affected.
func (h *Handler) CloseStreams() {
	h.closeOnce.Do(func() { close(h.closing) })
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/routes/:routeId/track", h.StartTrack)
	g.PUT("/routes/:routeId/track", h.RecordPosition)
	g.GET("/routes/:routeId/track", h.GetActiveTrack)
	g.DELETE("/routes/:routeId/track", h.StopTrack)
	g.GET("/routes/:routeId/track/stream", h.Stream)

	g.GET("/routes/:routeId/estimate", h.EstimateArrival)
}

// bindPosition returns a non-empty message when the body is unusable.
func (h *Handler) bindPosition(c echo.Context) (models.PositionRequest, string) {
	var req models.PositionRequest
	if err := c.Bind(&req); err != nil {
		return req, "Invalid request body"
	}
	if err := h.validate.Struct(req); err != nil {
		return req, "Validation failed: " + err.Error()
	}
	return req, ""
}

func (h *Handler) StartTrack(c echo.Context) error {
	req, msg := h.bindPosition(c)
	if msg != "" {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: msg})
	}
	t, err := h.svc.StartTrack(c.Request().Context(), c.Param("routeId"), req)
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return c.JSON(http.StatusConflict, models.ErrorResponse{Message: "Route is already being tracked"})
		}
		return h.fail(c, "Handler.StartTrack", "Failed to start tracking", err)
	}
	return c.JSON(http.StatusCreated, t)
}

// RecordPosition answers 200 with the stored track when the sample was kept
// and 202 when it was ignored.
func (h *Handler) RecordPosition(c echo.Context) error {
	req, msg := h.bindPosition(c)
	if msg != "" {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: msg})
	}
	t, recorded, err := h.svc.RecordPosition(c.Request().Context(), c.Param("routeId"), req)
	if err != nil {
		return h.fail(c, "Handler.RecordPosition", "Failed to record position", err)
	}
	if !recorded {
		return c.JSON(http.StatusAccepted, t)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) GetActiveTrack(c echo.Context) error {
	t, err := h.svc.GetActiveTrack(c.Request().Context(), c.Param("routeId"))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return c.JSON(http.StatusNotFound, models.ErrorResponse{Message: "Route is not being tracked"})
		}
		return h.fail(c, "Handler.GetActiveTrack", "Failed to get track", err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) StopTrack(c echo.Context) error {
	if err := h.svc.StopTrack(c.Request().Context(), c.Param("routeId")); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return c.JSON(http.StatusNotFound, models.ErrorResponse{Message: "Route is not being tracked"})
		}
		return h.fail(c, "Handler.StopTrack", "Failed to stop tracking", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// bindReference reads the lat/lon query parameters. When they are optional
// and both absent it returns a nil position and no message.
func (h *Handler) bindReference(c echo.Context, required bool) (*models.Position, string) {
	if !required && c.QueryParam("lat") == "" && c.QueryParam("lon") == "" {
		return nil, ""
	}
	var req models.ReferenceRequest
	if err := echo.QueryParamsBinder(c).
		MustFloat64("lat", &req.Latitude).
		MustFloat64("lon", &req.Longitude).
		BindError(); err != nil {
		return nil, "lat and lon are required numbers"
	}
	if err := h.validate.Struct(req); err != nil {
		return nil, "Validation failed: " + err.Error()
	}
	return &models.Position{Latitude: req.Latitude, Longitude: req.Longitude}, ""
}

func (h *Handler) EstimateArrival(c echo.Context) error {
	ref, msg := h.bindReference(c, true)
	if msg != "" {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: msg})
	}
	est, err := h.svc.EstimateArrival(c.Request().Context(), c.Param("routeId"), *ref)
	if err != nil {
		return h.fail(c, "Handler.EstimateArrival", "Failed to estimate arrival", err)
	}
	return c.JSON(http.StatusOK, est)
}

// Stream pushes every new mover position of the route as a server-sent
// "position" event. With lat/lon query parameters an "estimate" event for
// that reference point follows each position, plus one on connect.
func (h *Handler) Stream(c echo.Context) error {
	ref, msg := h.bindReference(c, false)
	if msg != "" {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: msg})
	}

	ctx := c.Request().Context()
	routeID := c.Param("routeId")
	events, cancel, err := h.svc.Subscribe(ctx, routeID)
	if err != nil {
		return h.fail(c, "Handler.Stream", "Failed to subscribe", err)
	}
	defer cancel()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.WriteHeader(http.StatusOK)

	sendEstimate := func() error {
		est, err := h.svc.EstimateArrival(ctx, routeID, *ref)
		if err != nil {
			h.log.WithError(err).WithField("route_id", routeID).Warn("stream estimate failed")
			return nil
		}
		return writeEvent(res, "estimate", est)
	}

	if ref != nil {
		if err := sendEstimate(); err != nil {
			return nil
		}
	} else {
		res.Flush()
	}

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.closing:
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprint(res, ": keep-alive\n\n"); err != nil {
				return nil
			}
			res.Flush()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := writeEvent(res, "position", ev); err != nil {
				return nil
			}
			if ref != nil {
				if err := sendEstimate(); err != nil {
					return nil
				}
			}
		}
	}
}

func writeEvent(res *echo.Response, name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	res.Flush()
	return nil
}

func (h *Handler) fail(c echo.Context, op, msg string, err error) error {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return c.JSON(http.StatusNotFound, models.ErrorResponse{Message: "Route not found"})
	case errors.Is(err, models.ErrConflict):
		return c.JSON(http.StatusConflict, models.ErrorResponse{Message: "Concurrent modification, retry"})
	case errors.Is(err, models.ErrInvalidPosition), errors.Is(err, matcher.ErrInvalidCoordinate):
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: err.Error()})
	}
	h.log.WithError(err).WithField("op", op).Error("request failed")
	return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Message: msg})
}
