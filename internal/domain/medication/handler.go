package medication

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/vitasage/vitasage/internal/platform/auth"
)

type Handler struct {
	svc *Service
	log zerolog.Logger
}

func NewHandler(svc *Service, log zerolog.Logger) *Handler {
	return &Handler{svc: svc, log: log}
}

func (h *Handler) RegisterRoutes(meds *echo.Group) {
	// Read endpoints: clinical staff plus the patient's own apps.
	readGroup := meds.Group("", auth.RequireRole("admin", "physician", "nurse", "patient"))
	readGroup.GET("/reminders/:patient_source/:patient_id", h.ListReminders)
	readGroup.GET("/adherence/:patient_source/:patient_id", h.GetAdherence)

	// Write endpoints: admin, nurse, and the patient's own apps.
	writeGroup := meds.Group("", auth.RequireRole("admin", "nurse", "patient"))
	writeGroup.POST("/reminder", h.CreateReminder)
	writeGroup.PUT("/reminder/:id/time", h.UpdateReminderTime)
	writeGroup.PUT("/reminder/:id/stock", h.UpdateStock)
	writeGroup.DELETE("/reminder/:id", h.DeactivateReminder)
	writeGroup.POST("/taken/:id", h.MarkTaken)

	// Missed doses come from the reminder scheduler, not patients.
	missedGroup := meds.Group("", auth.RequireRole("admin", "nurse", "scheduler"))
	missedGroup.POST("/missed/:id", h.MarkMissed)
}

func (h *Handler) CreateReminder(c echo.Context) error {
	var rem Reminder
	if err := c.Bind(&rem); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateReminder(c.Request().Context(), &rem); err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"message":     "Reminder created",
		"reminder_id": rem.ID,
	})
}

func (h *Handler) ListReminders(c echo.Context) error {
	ref, err := patientRefFromPath(c)
	if err != nil {
		return h.mapError(c, err)
	}
	views, err := h.svc.ListReminders(c.Request().Context(), ref)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, views)
}

func (h *Handler) UpdateReminderTime(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req struct {
		ReminderTime string `json:"reminder_time"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.UpdateReminderTime(c.Request().Context(), id, req.ReminderTime); err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Reminder time updated"})
}

func (h *Handler) UpdateStock(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req struct {
		TotalStock     int `json:"total_stock"`
		RemainingStock int `json:"remaining_stock"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.UpdateStock(c.Request().Context(), id, req.TotalStock, req.RemainingStock); err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Stock updated"})
}

func (h *Handler) DeactivateReminder(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeactivateReminder(c.Request().Context(), id); err != nil {
		return h.mapError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) MarkTaken(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	res, err := h.svc.MarkTaken(c.Request().Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) MarkMissed(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	res, err := h.svc.MarkMissed(c.Request().Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) GetAdherence(c echo.Context) error {
	ref, err := patientRefFromPath(c)
	if err != nil {
		return h.mapError(c, err)
	}
	records, err := h.svc.GetAdherence(c.Request().Context(), ref)
	if err != nil {
		return h.mapError(c, err)
	}
	return c.JSON(http.StatusOK, records)
}

// mapError translates domain errors to HTTP status codes. Storage failures
// are logged with full detail but cross the wire as a generic message.
func (h *Handler) mapError(c echo.Context, err error) error {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return echo.NewHTTPError(http.StatusBadRequest, verr.Error())
	case errors.Is(err, ErrReminderNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "reminder not found")
	default:
		h.log.Error().
			Err(err).
			Str("method", c.Request().Method).
			Str("path", c.Path()).
			Msg("medication request failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "database error")
	}
}

func patientRefFromPath(c echo.Context) (PatientRef, error) {
	source, err := ParsePatientSource(c.Param("patient_source"))
	if err != nil {
		return PatientRef{}, err
	}
	id, err := strconv.ParseInt(c.Param("patient_id"), 10, 64)
	if err != nil || id <= 0 {
		return PatientRef{}, &ValidationError{Field: "patient_id", Reason: "must be a positive integer"}
	}
	return PatientRef{ID: id, Source: source}, nil
}
