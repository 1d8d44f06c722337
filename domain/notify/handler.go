package notify

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/oneboxhq/onebox-core/pkg/apperrors"
)

// Handler serves the notification audit records.
type Handler struct {
	audit *AuditStore
}

// NewHandler creates a notification handler.
func NewHandler(audit *AuditStore) *Handler {
	return &Handler{audit: audit}
}

// ListResponse wraps a notification page.
type ListResponse struct {
	Notifications []Record `json:"notifications"`
	Count         int      `json:"count"`
}

// ListHandler handles GET /notifications. ?unread=1 restricts to unread.
func (h *Handler) ListHandler(c echo.Context) error {
	unreadOnly := c.QueryParam("unread") == "1" || c.QueryParam("unread") == "true"

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return apperrors.NewBadRequest(apperrors.ErrCodeInvalidInput, "limit must be a non-negative integer")
		}
		limit = n
	}

	records, err := h.audit.List(c.Request().Context(), unreadOnly, limit)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, ListResponse{
		Notifications: records,
		Count:         len(records),
	})
}

// MarkReadHandler handles POST /notifications/:id/read.
func (h *Handler) MarkReadHandler(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return apperrors.NewBadRequest(apperrors.ErrCodeInvalidInput, "notification id must be an integer")
	}

	if err := h.audit.MarkRead(c.Request().Context(), id); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "Notification marked as read"})
}

// MarkAllReadHandler handles POST /notifications/read_all.
func (h *Handler) MarkAllReadHandler(c echo.Context) error {
	if err := h.audit.MarkAllRead(c.Request().Context()); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "All notifications marked as read"})
}
