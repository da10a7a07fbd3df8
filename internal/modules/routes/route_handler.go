package routes

import (
	"errors"
	"net/http"
	"strings"

	"route-tracking/internal/matcher"
	"route-tracking/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/sirupsen/logrus"
)

// Handler exposes route recording and inspection over HTTP.
type Handler struct {
	svc      ServiceInterface
	validate *validator.Validate
	log      logrus.FieldLogger
}

func NewHandler(svc ServiceInterface, log logrus.FieldLogger) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(),
		log:      log,
	}
}

// RegisterRoutes mounts the routes endpoints on g.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/routes", h.CreateRoute)
	g.GET("/routes", h.ListRoutes)
	g.GET("/routes/:routeId", h.GetRoute)
	g.DELETE("/routes/:routeId", h.DeleteRoute)

	g.POST("/routes/:routeId/waypoints", h.RecordWaypoint)
	g.GET("/routes/:routeId/waypoints", h.ListWaypoints)
	g.DELETE("/routes/:routeId/waypoints/:waypointId", h.DeleteWaypoint)

	g.GET("/routes/:routeId/segment", h.MeasureSegment)
}

func (h *Handler) CreateRoute(c echo.Context) error {
	var req models.CreateRouteRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Invalid request body"})
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := h.validate.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Validation failed: " + err.Error()})
	}

	route, err := h.svc.CreateRoute(c.Request().Context(), req)
	if err != nil {
		h.log.WithError(err).WithField("op", "Handler.CreateRoute").Error("request failed")
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Message: "Failed to create route"})
	}
	return c.JSON(http.StatusCreated, route)
}

func (h *Handler) ListRoutes(c echo.Context) error {
	routes, err := h.svc.ListRoutes(c.Request().Context())
	if err != nil {
		h.log.WithError(err).WithField("op", "Handler.ListRoutes").Error("request failed")
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Message: "Failed to list routes"})
	}
	if routes == nil {
		routes = []*models.Route{}
	}
	return c.JSON(http.StatusOK, routes)
}

func (h *Handler) GetRoute(c echo.Context) error {
	route, err := h.svc.GetRoute(c.Request().Context(), c.Param("routeId"))
	if err != nil {
		return h.fail(c, "Handler.GetRoute", "Failed to get route", err)
	}
	return c.JSON(http.StatusOK, route)
}

func (h *Handler) DeleteRoute(c echo.Context) error {
	if err := h.svc.DeleteRoute(c.Request().Context(), c.Param("routeId")); err != nil {
		return h.fail(c, "Handler.DeleteRoute", "Failed to delete route", err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) RecordWaypoint(c echo.Context) error {
	var req models.RecordWaypointRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Invalid request body"})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Validation failed: " + err.Error()})
	}

	wp, err := h.svc.RecordWaypoint(c.Request().Context(), c.Param("routeId"), req)
	if err != nil {
		// not an error for the recorder, the sample is just not kept
		if errors.Is(err, models.ErrWaypointTooClose) {
			return c.JSON(http.StatusAccepted, models.ErrorResponse{Message: "Waypoint skipped: too close to the previous one"})
		}
		return h.fail(c, "Handler.RecordWaypoint", "Failed to record waypoint", err)
	}
	return c.JSON(http.StatusCreated, wp)
}

func (h *Handler) ListWaypoints(c echo.Context) error {
	wps, err := h.svc.ListWaypoints(c.Request().Context(), c.Param("routeId"))
	if err != nil {
		return h.fail(c, "Handler.ListWaypoints", "Failed to list waypoints", err)
	}
	if wps == nil {
		wps = []*models.Waypoint{}
	}
	return c.JSON(http.StatusOK, wps)
}

func (h *Handler) DeleteWaypoint(c echo.Context) error {
	err := h.svc.DeleteWaypoint(c.Request().Context(), c.Param("routeId"), c.Param("waypointId"))
	if err != nil {
		return h.fail(c, "Handler.DeleteWaypoint", "Failed to delete waypoint", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// MeasureSegment answers with JSON, or with a GeoJSON Feature when the client
// asks for application/geo+json.
func (h *Handler) MeasureSegment(c echo.Context) error {
	var req models.SegmentRequest
	err := echo.QueryParamsBinder(c).
		MustFloat64("from_lat", &req.FromLatitude).
		MustFloat64("from_lon", &req.FromLongitude).
		MustFloat64("to_lat", &req.ToLatitude).
		MustFloat64("to_lon", &req.ToLongitude).
		BindError()
	if err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "from_lat, from_lon, to_lat and to_lon are required numbers"})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Validation failed: " + err.Error()})
	}

	res, err := h.svc.MeasureSegment(c.Request().Context(), c.Param("routeId"), req)
	if err != nil {
		return h.fail(c, "Handler.MeasureSegment", "Failed to measure segment", err)
	}

	if strings.Contains(c.Request().Header.Get(echo.HeaderAccept), "application/geo+json") {
		body, err := segmentFeature(res).MarshalJSON()
		if err != nil {
			return h.fail(c, "Handler.MeasureSegment", "Failed to encode segment", err)
		}
		return c.Blob(http.StatusOK, "application/geo+json", body)
	}
	return c.JSON(http.StatusOK, res)
}

func segmentFeature(res *SegmentResult) *geojson.Feature {
	var geom orb.Geometry
	if len(res.Waypoints) == 1 {
		geom = orb.Point{res.Waypoints[0].Longitude, res.Waypoints[0].Latitude}
	} else {
		ls := make(orb.LineString, 0, len(res.Waypoints))
		for _, wp := range res.Waypoints {
			ls = append(ls, orb.Point{wp.Longitude, wp.Latitude})
		}
		geom = ls
	}

	f := geojson.NewFeature(geom)
	f.Properties["from_order"] = res.From.Order
	f.Properties["to_order"] = res.To.Order
	f.Properties["distance_meters"] = res.DistanceMeters
	if res.EstimatedSeconds != nil {
		f.Properties["estimated_seconds"] = *res.EstimatedSeconds
	}
	return f
}

// fail maps service errors onto status codes and logs the unexpected ones.
func (h *Handler) fail(c echo.Context, op, msg string, err error) error {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return c.JSON(http.StatusNotFound, models.ErrorResponse{Message: "Route or waypoint not found"})
	case errors.Is(err, models.ErrConflict):
		return c.JSON(http.StatusConflict, models.ErrorResponse{Message: "Concurrent modification, retry"})
	case errors.Is(err, models.ErrEndpointWaypoint), errors.Is(err, models.ErrWaypointOutOfOrder):
		return c.JSON(http.StatusConflict, models.ErrorResponse{Message: err.Error()})
	case errors.Is(err, models.ErrInvalidPosition), errors.Is(err, matcher.ErrInvalidCoordinate):
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: err.Error()})
	case errors.Is(err, matcher.ErrEmptyRoute):
		return c.JSON(http.StatusUnprocessableEntity, models.ErrorResponse{Message: "Route has no waypoints"})
	}
	h.log.WithError(err).WithField("op", op).Error("request failed")
	return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Message: msg})
}
