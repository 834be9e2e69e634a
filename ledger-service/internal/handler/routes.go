package handler

import (
	"github.com/brokerdesk/platform/shared/middleware"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the public, account holder and back office routes.
// limit runs after authentication so callers are throttled per account; a
// nil limit disables throttling.
func RegisterRoutes(r gin.IRouter, ledger *LedgerHandler, admin *AdminHandler, jwtSecret []byte, limit gin.HandlerFunc) {
	if limit == nil {
		limit = func(c *gin.Context) { c.Next() }
	}

	v1 := r.Group("/v1")
	v1.POST("/signup", limit, ledger.Signup)

	user := v1.Group("")
	user.Use(middleware.AuthMiddleware(jwtSecret), limit)
	{
		user.GET("/me", ledger.GetMe)
		user.PATCH("/me", ledger.UpdateMe)
		user.POST("/deposits", ledger.RequestDeposit)
		user.POST("/withdrawals", ledger.RequestWithdrawal)
		user.POST("/credits", ledger.RequestCredit)
		user.POST("/kyc", ledger.SubmitKYC)
		user.GET("/requests/:kind", ledger.ListMyRequests)
		user.GET("/requests/:kind/:id", ledger.GetMyRequest)
		user.POST("/plans/join", ledger.JoinPlan)
		user.POST("/copy/join", ledger.JoinCopy)
		user.POST("/trades", ledger.PlaceTrade)
		user.GET("/referrals", ledger.ListReferrals)
		user.GET("/positions", ledger.ListPositions)
		user.GET("/journal", ledger.ListJournal)
		user.GET("/activity", ledger.ListActivity)
	}

	back := v1.Group("/admin")
	back.Use(middleware.AuthMiddleware(jwtSecret), middleware.AdminOnly(), limit)
	{
		back.GET("/dashboard", admin.Dashboard)
		back.GET("/accounts", admin.ListAccounts)
		back.GET("/accounts/:id", admin.GetAccount)
		back.POST("/accounts/:id/balance", admin.SetBalance)
		back.POST("/accounts/:id/trading", admin.SetTrading)
		back.GET("/requests/:kind", admin.ListRequests)
		back.POST("/requests/:kind/:id/:decision", admin.ResolveRequest)
	}
}
