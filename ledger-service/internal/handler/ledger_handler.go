package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/brokerdesk/platform/ledger-service/internal/command"
	"github.com/brokerdesk/platform/shared/cqrs"
	"github.com/brokerdesk/platform/shared/middleware"
	"github.com/brokerdesk/platform/shared/models"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// LedgerCommander defines the write-side operations used by the handlers.
type LedgerCommander interface {
	Signup(context.Context, cqrs.SignupCommand) (*models.Account, error)
	UpdateProfile(context.Context, cqrs.UpdateProfileCommand) (*models.Account, error)
	RequestDeposit(context.Context, cqrs.RequestDepositCommand) (string, error)
	RequestWithdrawal(context.Context, cqrs.RequestWithdrawalCommand) (string, error)
	RequestCredit(context.Context, cqrs.RequestCreditCommand) (string, error)
	SubmitKYC(context.Context, cqrs.SubmitKYCCommand) (string, error)
	ResolveRequest(context.Context, cqrs.ResolveRequestCommand) (*command.ResolveResult, error)
	JoinPlan(context.Context, cqrs.JoinPlanCommand) (*command.PositionResult, error)
	JoinCopy(context.Context, cqrs.JoinCopyCommand) (*command.PositionResult, error)
	PlaceTrade(context.Context, cqrs.PlaceTradeCommand) (*command.PositionResult, error)
	SetTradingPermission(context.Context, cqrs.SetTradingPermissionCommand) (*models.Account, error)
	SetBalance(context.Context, cqrs.SetBalanceCommand) (*models.Account, error)
}

// LedgerQuerier defines the read-side operations used by the handlers.
type LedgerQuerier interface {
	GetAccount(context.Context, cqrs.GetAccountQuery) (*models.AccountView, error)
	ListAccounts(context.Context, cqrs.ListAccountsQuery) ([]*models.AccountView, error)
	ListRequests(context.Context, cqrs.ListRequestsQuery) ([]*models.Request, error)
	GetRequest(context.Context, cqrs.GetRequestQuery) (*models.Request, error)
	ListReferrals(context.Context, cqrs.ListReferralsQuery) ([]*models.ReferralEvent, error)
	ListPositions(context.Context, cqrs.ListPositionsQuery) ([]*models.Position, error)
	ListJournal(context.Context, cqrs.ListJournalQuery) ([]*models.JournalEntry, error)
	ListActivity(context.Context, cqrs.ListActivityQuery) ([]models.ActivityItem, error)
	AdminDashboard(context.Context) (*models.DashboardSummary, error)
}

// LedgerHandler serves the account holder's routes. The account is always
// the authenticated user; there is no account id in the path.
type LedgerHandler struct {
	commands LedgerCommander
	queries  LedgerQuerier
}

func NewLedgerHandler(commands LedgerCommander, queries LedgerQuerier) *LedgerHandler {
	return &LedgerHandler{commands: commands, queries: queries}
}

type SignupRequest struct {
	FullName   string `json:"fullName" validate:"required"`
	Username   string `json:"username"`
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required"`
	Phone      string `json:"phone"`
	Country    string `json:"country" validate:"required"`
	ReferrerID string `json:"referrerId"`
	Referrer   string `json:"referrer"`
}

// referrer picks referrerId, then referrer, then the ?ref= of a referral link.
func (r SignupRequest) referrer(c *gin.Context) string {
	for _, id := range []string{r.ReferrerID, r.Referrer, c.Query("ref")} {
		if id = strings.TrimSpace(id); id != "" {
			return id
		}
	}
	return ""
}

type UpdateProfileRequest struct {
	FullName *string `json:"fullName"`
	Phone    *string `json:"phone"`
	Country  *string `json:"country"`
}

type DepositRequest struct {
	Amount   decimal.Decimal `json:"amount" validate:"gt=0"`
	Currency string          `json:"currency" validate:"required"`
	Proof    string          `json:"proof"`
}

type WithdrawalRequest struct {
	Amount    decimal.Decimal `json:"amount" validate:"gt=0"`
	Address   string          `json:"address" validate:"required"`
	WalletUID string          `json:"walletUid"`
}

type CreditRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
	Reason string          `json:"reason"`
}

type KYCRequest struct {
	FullName string `json:"fullName" validate:"required"`
	IDNumber string `json:"idNumber" validate:"required"`
	Country  string `json:"country" validate:"required"`
	Document string `json:"document"`
}

type JoinPlanRequest struct {
	Amount   decimal.Decimal `json:"amount" validate:"gt=0"`
	PlanID   string          `json:"planId" validate:"required"`
	PlanName string          `json:"planName"`
}

type JoinCopyRequest struct {
	Amount     decimal.Decimal `json:"amount" validate:"gt=0"`
	ExpertID   string          `json:"expertId" validate:"required"`
	ExpertName string          `json:"expertName"`
}

type TradeRequest struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
	Signal string          `json:"signal" validate:"required"`
}

type CreatedResponse struct {
	ID string `json:"id"`
}

type PositionResponse struct {
	Position *models.Position `json:"position"`
	Balance  decimal.Decimal  `json:"balance"`
}

// bind decodes and validates the JSON body, writing the 400 itself.
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Invalid request body", Code: "ValidationError"})
		return false
	}
	if validationErrors := middleware.ValidateRequest(req); validationErrors != nil {
		middleware.RespondWithValidationError(c, validationErrors)
		return false
	}
	return true
}

func (h *LedgerHandler) Signup(c *gin.Context) {
	var req SignupRequest
	if !bind(c, &req) {
		return
	}
	account, err := h.commands.Signup(c.Request.Context(), cqrs.SignupCommand{
		FullName:   req.FullName,
		Username:   req.Username,
		Email:      req.Email,
		Password:   req.Password,
		Phone:      req.Phone,
		Country:    req.Country,
		ReferrerID: req.referrer(c),
	})
	if err != nil {
		respondWithAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, models.NewAccountView(account))
}

func (h *LedgerHandler) GetMe(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	view, err := h.queries.GetAccount(c.Request.Context(), cqrs.GetAccountQuery{AccountID: userID})
	if err != nil {
		respondWithAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *LedgerHandler) UpdateMe(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	var req UpdateProfileRequest
	if !bind(c, &req) {
		return
	}
	account, err := h.commands.UpdateProfile(c.Request.Context(), cqrs.UpdateProfileCommand{
		AccountID: userID,
		FullName:  req.FullName,
		Phone:     req.Phone,
		Country:   req.Country,
	})
	if err != nil {
		respondWithAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.NewAccountView(account))
}

func (h *LedgerHandler) RequestDeposit(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	var req DepositRequest
	if !bind(c, &req) {
		return
	}
	id, err := h.commands.RequestDeposit(c.Request.Context(), cqrs.RequestDepositCommand{
		AccountID: userID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Proof:     req.Proof,
	})
	respondCreated(c, id, err)
}

func (h *LedgerHandler) RequestWithdrawal(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	var req WithdrawalRequest
	if !bind(c, &req) {
		return
	}
	id, err := h.commands.RequestWithdrawal(c.Request.Context(), cqrs.RequestWithdrawalCommand{
		AccountID: userID,
		Amount:    req.Amount,
		Address:   req.Address,
		WalletUID: req.WalletUID,
	})
	respondCreated(c, id, err)
}

func (h *LedgerHandler) RequestCredit(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	var req CreditRequest
	if !bind(c, &req) {
		return
	}
	id, err := h.commands.RequestCredit(c.Request.Context(), cqrs.RequestCreditCommand{
		AccountID: userID,
		Amount:    req.Amount,
		Reason:    req.Reason,
	})
	respondCreated(c, id, err)
}

func (h *LedgerHandler) SubmitKYC(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	var req KYCRequest
	if !bind(c, &req) {
		return
	}
	id, err := h.commands.SubmitKYC(c.Request.Context(), cqrs.SubmitKYCCommand{
		AccountID: userID,
		FullName:  req.FullName,
		IDNumber:  req.IDNumber,
		Country:   req.Country,
		Document:  req.Document,
	})
	respondCreated(c, id, err)
}

func respondCreated(c *gin.Context, id string, err error) {
	if err != nil {
		respondWithAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, CreatedResponse{ID: id})
}

// ListMyRequests lists the caller's requests of one kind, optionally
// filtered by ?status=.
func (h *LedgerHandler) ListMyRequests(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	kind, ok := kindParam(c)
	if !ok {
		return
	}
	reqs, err := h.queries.ListRequests(c.Request.Context(), cqrs.ListRequestsQuery{
		Kind:      kind,
		AccountID: userID,
		Status:    models.RequestStatus(c.Query("status")),
	})
	if err != nil {
		respondWithAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": reqs})
}

func (h *LedgerHandler) GetMyRequest(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	kind, ok := kindParam(c)
	if !ok {
		return
	}
	req, err := h.queries.GetRequest(c.Request.Context(), cqrs.GetRequestQuery{
		Kind:      kind,
		RequestID: c.Param("id"),
		AccountID: userID,
	})
	if err != nil {
		respondWithAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *LedgerHandler) JoinPlan(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	var req JoinPlanRequest
	if !bind(c, &req) {
		return
	}
	result, err := h.commands.JoinPlan(c.Request.Context(), cqrs.JoinPlanCommand{
		AccountID: userID,
		Amount:    req.Amount,
		PlanRef:   req.PlanID,
		PlanName:  req.PlanName,
	})
	respondPosition(c, result, err)
}

func (h *LedgerHandler) JoinCopy(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	var req JoinCopyRequest
	if !bind(c, &req) {
		return
	}
	result, err := h.commands.JoinCopy(c.Request.Context(), cqrs.JoinCopyCommand{
		AccountID:  userID,
		Amount:     req.Amount,
		ExpertRef:  req.ExpertID,
		ExpertName: req.ExpertName,
	})
	respondPosition(c, result, err)
}

func (h *LedgerHandler) PlaceTrade(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	var req TradeRequest
	if !bind(c, &req) {
		return
	}
	result, err := h.commands.PlaceTrade(c.Request.Context(), cqrs.PlaceTradeCommand{
		AccountID: userID,
		Amount:    req.Amount,
		Signal:    req.Signal,
	})
	respondPosition(c, result, err)
}

func respondPosition(c *gin.Context, result *command.PositionResult, err error) {
	if err != nil {
		respondWithAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, PositionResponse{Position: result.Position, Balance: result.Balance})
}

func (h *LedgerHandler) ListReferrals(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	referrals, err := h.queries.ListReferrals(c.Request.Context(), cqrs.ListReferralsQuery{AccountID: userID})
	if err != nil {
		respondWithAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"referrals": referrals})
}

func (h *LedgerHandler) ListPositions(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	positions, err := h.queries.ListPositions(c.Request.Context(), cqrs.ListPositionsQuery{AccountID: userID})
	if err != nil {
		respondWithAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (h *LedgerHandler) ListJournal(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	entries, err := h.queries.ListJournal(c.Request.Context(), cqrs.ListJournalQuery{AccountID: userID})
	if err != nil {
		respondWithAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *LedgerHandler) ListActivity(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	limit, _ := strconv.ParseInt(c.Query("limit"), 10, 64)
	items, err := h.queries.ListActivity(c.Request.Context(), cqrs.ListActivityQuery{AccountID: userID, Limit: limit})
	if err != nil {
		respondWithAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"activity": items})
}

func kindParam(c *gin.Context) (models.RequestKind, bool) {
	kind, ok := models.ParseRequestKind(c.Param("kind"))
	if !ok {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "Unknown request kind", Code: "ValidationError", Field: "kind"})
		return "", false
	}
	return kind, true
}
