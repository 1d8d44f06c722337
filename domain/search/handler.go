package search

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/oneboxhq/onebox-core/domain/classify"
	"github.com/oneboxhq/onebox-core/pkg/apperrors"
)

// Handler serves the searchable email index.
type Handler struct {
	store *Store
}

// NewHandler creates a search handler.
func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// SearchResponse wraps a result page.
type SearchResponse struct {
	Emails []Email `json:"emails"`
	Count  int     `json:"count"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// SearchHandler handles GET /emails with free-text and filter params.
func (h *Handler) SearchHandler(c echo.Context) error {
	q := Query{
		Text:    c.QueryParam("q"),
		Account: c.QueryParam("account"),
		Folder:  c.QueryParam("folder"),
		Label:   c.QueryParam("label"),
	}

	if q.Label != "" && !classify.Label(q.Label).Valid() {
		return apperrors.NewBadRequest(apperrors.ErrCodeInvalidInput,
			"invalid label filter").WithDetail("label must be one of the known categories")
	}

	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return apperrors.NewBadRequest(apperrors.ErrCodeInvalidInput, "limit must be a non-negative integer")
		}
		q.Limit = n
	}
	if raw := c.QueryParam("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return apperrors.NewBadRequest(apperrors.ErrCodeInvalidInput, "offset must be a non-negative integer")
		}
		q.Offset = n
	}

	emails, err := h.store.Search(c.Request().Context(), q)
	if err != nil {
		return err
	}

	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	return c.JSON(http.StatusOK, SearchResponse{
		Emails: emails,
		Count:  len(emails),
		Limit:  limit,
		Offset: q.Offset,
	})
}

// GetHandler handles GET /emails/:id.
func (h *Handler) GetHandler(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return apperrors.NewBadRequest(apperrors.ErrCodeInvalidInput, "email id is required")
	}

	email, err := h.store.GetByID(c.Request().Context(), id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, email)
}
