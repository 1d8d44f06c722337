package account

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/oneboxhq/onebox-core/pkg/apperrors"
)

// ConnectionManager is the mailbox lifecycle surface the handler drives.
type ConnectionManager interface {
	StartAccount(acct Account)
	StopAccount(accountID int64)
	RestartOwner(ctx context.Context, ownerID int64) error
}

// Handler serves account connection control endpoints.
type Handler struct {
	store   *Store
	manager ConnectionManager
}

// NewHandler creates an account handler.
func NewHandler(store *Store, manager ConnectionManager) *Handler {
	return &Handler{store: store, manager: manager}
}

// ListHandler handles GET /accounts.
func (h *Handler) ListHandler(c echo.Context) error {
	accounts, err := h.store.ListActive(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"accounts": accounts,
		"count":    len(accounts),
	})
}

// StartHandler handles POST /accounts/:id/start. It marks the account
// active and (re)starts its mailbox connection.
func (h *Handler) StartHandler(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	acct, err := h.store.GetByID(c.Request().Context(), id)
	if err != nil {
		return err
	}

	if !acct.Active {
		if err := h.store.SetActive(c.Request().Context(), id, true); err != nil {
			return err
		}
		acct.Active = true
	}

	h.manager.StartAccount(*acct)

	return c.JSON(http.StatusOK, map[string]string{"message": "Account connection started"})
}

// StopHandler handles POST /accounts/:id/stop. It marks the account
// inactive and tears down its mailbox connection.
func (h *Handler) StopHandler(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}

	if err := h.store.SetActive(c.Request().Context(), id, false); err != nil {
		return err
	}

	h.manager.StopAccount(id)

	return c.JSON(http.StatusOK, map[string]string{"message": "Account connection stopped"})
}

// RestartOwnerHandler handles POST /owners/:id/restart. All of the
// owner's connections are torn down and rebuilt from the current
// active-account list.
func (h *Handler) RestartOwnerHandler(c echo.Context) error {
	ownerID, err := parseID(c)
	if err != nil {
		return err
	}

	if err := h.manager.RestartOwner(c.Request().Context(), ownerID); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "Owner connections restarted"})
}

func parseID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewBadRequest(apperrors.ErrCodeInvalidInput, "id must be a positive integer")
	}
	return id, nil
}
