package handler

import (
	"net/http"

	"github.com/brokerdesk/platform/shared/cqrs"
	"github.com/brokerdesk/platform/shared/models"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// AdminHandler serves the back office. Every route sits behind AdminOnly.
type AdminHandler struct {
	commands LedgerCommander
	queries  LedgerQuerier
}

func NewAdminHandler(commands LedgerCommander, queries LedgerQuerier) *AdminHandler {
	return &AdminHandler{commands: commands, queries: queries}
}

type SetBalanceRequest struct {
	Balance decimal.Decimal `json:"balance" validate:"gte=0"`
}

type SetTradingRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type ResolveResponse struct {
	Request *models.Request  `json:"request"`
	Balance *decimal.Decimal `json:"balance,omitempty"`
}

func (h *AdminHandler) Dashboard(c *gin.Context) {
	summary, err := h.queries.AdminDashboard(c.Request.Context())
	if err != nil {
		respondWithAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *AdminHandler) ListAccounts(c *gin.Context) {
	accounts, err := h.queries.ListAccounts(c.Request.Context(), cqrs.ListAccountsQuery{Search: c.Query("q")})
	if err != nil {
		respondWithAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accounts": accounts})
}

func (h *AdminHandler) GetAccount(c *gin.Context) {
	view, err := h.queries.GetAccount(c.Request.Context(), cqrs.GetAccountQuery{AccountID: c.Param("id")})
	if err != nil {
		respondWithAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// ListRequests accepts ?status= and ?accountId= filters.
func (h *AdminHandler) ListRequests(c *gin.Context) {
	kind, ok := kindParam(c)
	if !ok {
		return
	}
	reqs, err := h.queries.ListRequests(c.Request.Context(), cqrs.ListRequestsQuery{
		Kind:      kind,
		AccountID: c.Query("accountId"),
		Status:    models.RequestStatus(c.Query("status")),
	})
	if err != nil {
		respondWithAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": reqs})
}

func (h *AdminHandler) ResolveRequest(c *gin.Context) {
	kind, ok := kindParam(c)
	if !ok {
		return
	}
	decision, ok := models.ParseDecision(c.Param("decision"))
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Decision must be approve or reject", Code: "ValidationError", Field: "decision"})
		return
	}
	result, err := h.commands.ResolveRequest(c.Request.Context(), cqrs.ResolveRequestCommand{
		Kind:      kind,
		RequestID: c.Param("id"),
		Decision:  decision,
	})
	if err != nil {
		respondWithAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, ResolveResponse{Request: result.Request, Balance: result.Balance})
}

func (h *AdminHandler) SetBalance(c *gin.Context) {
	var req SetBalanceRequest
	if !bind(c, &req) {
		return
	}
	account, err := h.commands.SetBalance(c.Request.Context(), cqrs.SetBalanceCommand{
		AccountID:  c.Param("id"),
		NewBalance: req.Balance,
	})
	if err != nil {
		respondWithAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.NewAccountView(account))
}

func (h *AdminHandler) SetTrading(c *gin.Context) {
	var req SetTradingRequest
	if !bind(c, &req) {
		return
	}
	account, err := h.commands.SetTradingPermission(c.Request.Context(), cqrs.SetTradingPermissionCommand{
		AccountID: c.Param("id"),
		Enabled:   *req.Enabled,
	})
	if err != nil {
		respondWithAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.NewAccountView(account))
}
