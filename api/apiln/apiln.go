// Package apiln provides the HTTP handlers for the Lightning invoice
// lifecycle: creating invoices, probing their payment status and paying
// them. Status never comes from anywhere but the reconcile package.
package apiln

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"gitlab.com/arcanecrypto/conduit/api/apierr"
	"gitlab.com/arcanecrypto/conduit/api/auth"
	"gitlab.com/arcanecrypto/conduit/bitnob"
	"gitlab.com/arcanecrypto/conduit/build"
	"gitlab.com/arcanecrypto/conduit/db"
	"gitlab.com/arcanecrypto/conduit/models/invoices"
	"gitlab.com/arcanecrypto/conduit/models/users"
	"gitlab.com/arcanecrypto/conduit/reconcile"
)

var log = build.AddSubLogger("APIL")

// services that gets initiated in RegisterRoutes
var (
	database *db.DB
	provider bitnob.Client
)

// RegisterRoutes applies the authMiddleware to this packages routes
// and registers routes on the gin Engine parameter
func RegisterRoutes(server *gin.Engine, d *db.DB, client bitnob.Client,
	authmiddleware gin.HandlerFunc) {
	// assign the services given
	database = d
	provider = client

	lightning := server.Group("lightning")
	lightning.Use(authmiddleware)

	lightning.POST("/invoices", createInvoice())
	lightning.GET("/invoices", getAllInvoices())
	lightning.POST("/initiatepayment", initiatePayment())
	lightning.POST("/pay", payInvoice())
}

// createInvoice creates an invoice at the provider and persists it in
// state pending with the provider's request string as the natural key
func createInvoice() gin.HandlerFunc {
	type request struct {
		Satoshis        int64      `json:"satoshis" binding:"required,gt=0"`
		Description     string     `json:"description" binding:"required"`
		ExpiresAt       *time.Time `json:"expiresAt"`
		DescriptionHash string     `json:"descriptionHash"`
	}

	return func(c *gin.Context) {
		userID, ok := auth.RequireScope(c, auth.CreateInvoice)
		if !ok {
			return
		}

		var req request
		if c.BindJSON(&req) != nil {
			return
		}

		user, err := users.GetByID(database, userID)
		if err != nil {
			apierr.Public(c, http.StatusNotFound, apierr.ErrUserNotFound)
			return
		}
		if user.Email == "" {
			apierr.Public(c, http.StatusBadRequest, apierr.ErrUserEmailRequired)
			return
		}

		expiresAt := time.Now().Add(time.Hour)
		if req.ExpiresAt != nil {
			expiresAt = *req.ExpiresAt
		}

		created, err := provider.CreateInvoice(bitnob.CreateInvoiceArgs{
			Satoshis:        req.Satoshis,
			CustomerEmail:   user.Email,
			Description:     req.Description,
			ExpiresAt:       expiresAt.UTC().Format(time.RFC3339),
			DescriptionHash: req.DescriptionHash,
		})
		if err != nil {
			log.WithError(err).WithField("userId", userID).
				Error("Could not create invoice")
			apierr.FromProvider(c, err)
			return
		}

		tokens := created.Tokens
		if tokens == 0 {
			tokens = created.Satoshis
		}
		toInsert := invoices.Invoice{
			UserID:    userID,
			Request:   created.Request,
			Tokens:    tokens,
			Status:    reconcile.PENDING,
			ExpiresAt: expiresAt,
		}
		if created.Description != "" {
			toInsert.Description = &created.Description
		}

		inserted, err := invoices.Insert(database, toInsert)
		if err != nil {
			log.WithError(err).Error("Could not insert invoice")
			_ = c.Error(err)
			return
		}

		log.WithFields(logrus.Fields{
			"userId":  userID,
			"request": inserted.Request,
			"tokens":  inserted.Tokens,
		}).Info("Created invoice")

		c.JSONP(http.StatusOK, inserted)
	}
}

// localExpiry reports whether the invoice with the given request string
// had expired by our own clock at call time. A request we have no row for
// is not locally expired.
func localExpiry(request string) (bool, error) {
	invoice, err := invoices.GetByRequest(database, request)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return time.Now().After(invoice.ExpiresAt), nil
}

// persistStatus writes the reconciled status back onto our row for the
// request, if we have one. Zero rows affected is fine, the probe may
// concern an invoice created elsewhere.
func persistStatus(request string, status reconcile.Status) {
	rows, err := invoices.UpdateStatusByRequest(database, request, status)
	if err != nil {
		log.WithError(err).WithField("request", request).
			Error("Could not persist invoice status")
		return
	}
	log.WithFields(logrus.Fields{
		"request": request,
		"status":  status,
		"rows":    rows,
	}).Debug("Persisted invoice status")
}

// sandboxSummary fabricates the transaction summary for a sandbox request
func sandboxSummary(request string) (bitnob.PaymentSummary, error) {
	synthetic, err := reconcile.Synthesize(request)
	if err != nil {
		return bitnob.PaymentSummary{}, err
	}
	return bitnob.PaymentSummary{
		Request:   request,
		SatAmount: synthetic.AmountSat,
		SatFees:   synthetic.FeeSat,
		BtcAmount: synthetic.BtcAmount,
	}, nil
}

// initiatePayment probes the payment status of an invoice without
// committing a payment. Sandbox requests are answered without contacting
// the provider.
func initiatePayment() gin.HandlerFunc {
	type request struct {
		Request string `json:"request" binding:"required"`
	}

	return func(c *gin.Context) {
		if _, ok := auth.RequireScope(c, auth.ReadWallet); !ok {
			return
		}

		var req request
		if c.BindJSON(&req) != nil {
			return
		}

		locallyExpired, err := localExpiry(req.Request)
		if err != nil {
			_ = c.Error(err)
			return
		}

		var summary bitnob.PaymentSummary
		var status reconcile.Status
		if reconcile.IsSandbox(req.Request) {
			summary, err = sandboxSummary(req.Request)
			if err != nil {
				_ = c.Error(err)
				return
			}
			status = reconcile.FromProbe(reconcile.ProbeSignal{
				LocallyExpired: locallyExpired,
			})
			summary.IsExpired = status == reconcile.EXPIRED
		} else {
			summary, err = provider.InitiatePayment(req.Request)
			if err != nil {
				log.WithError(err).WithField("request", req.Request).
					Error("Could not initiate payment")
				apierr.FromProvider(c, err)
				return
			}
			status = reconcile.FromProbe(reconcile.ProbeSignal{
				LocallyExpired: locallyExpired,
				IsExpired:      summary.IsExpired,
				IsPaid:         summary.IsPaid,
			})
		}

		persistStatus(req.Request, status)

		c.JSONP(http.StatusOK, gin.H{
			"transaction": summary,
			"status":      status,
		})
	}
}

// payInvoice submits a Lightning payment through the provider, or settles
// a sandbox request locally. The provider's status vocabulary is mapped
// onto ours before it is persisted and returned.
func payInvoice() gin.HandlerFunc {
	type request struct {
		Request   string `json:"request" binding:"required"`
		Reference string `json:"reference"`
	}

	return func(c *gin.Context) {
		userID, ok := auth.RequireScope(c, auth.SendTransaction)
		if !ok {
			return
		}

		var req request
		if c.BindJSON(&req) != nil {
			return
		}

		user, err := users.GetByID(database, userID)
		if err != nil {
			apierr.Public(c, http.StatusNotFound, apierr.ErrUserNotFound)
			return
		}
		if user.Email == "" {
			apierr.Public(c, http.StatusBadRequest, apierr.ErrUserEmailRequired)
			return
		}

		if req.Reference == "" {
			req.Reference = fmt.Sprintf("ref-%d", time.Now().Unix())
		}

		locallyExpired, err := localExpiry(req.Request)
		if err != nil {
			_ = c.Error(err)
			return
		}

		var summary bitnob.PaymentSummary
		var status reconcile.Status
		if reconcile.IsSandbox(req.Request) {
			summary, err = sandboxSummary(req.Request)
			if err != nil {
				_ = c.Error(err)
				return
			}
			status = reconcile.FromProbe(reconcile.ProbeSignal{
				LocallyExpired: locallyExpired,
			})
			summary.IsExpired = status == reconcile.EXPIRED
			summary.Reference = req.Reference

			// a sandbox pay additionally stamps the summary's own status
			statusText, _ := status.MarshalText()
			summary.Status = string(statusText)
		} else {
			summary, err = provider.PayInvoice(bitnob.PayArgs{
				Request:       req.Request,
				Reference:     req.Reference,
				CustomerEmail: user.Email,
			})
			if err != nil {
				log.WithError(err).WithField("request", req.Request).
					Error("Could not pay invoice")
				apierr.FromProvider(c, err)
				return
			}
			status = reconcile.FromPayment(reconcile.PaymentSignal{
				LocallyExpired: locallyExpired,
				ProviderStatus: summary.Status,
			})
		}

		persistStatus(req.Request, status)

		c.JSONP(http.StatusOK, gin.H{
			"transaction": summary,
			"status":      status,
		})
	}
}

// getAllInvoices finds all invoices for the given user. Takes two URL
// parameters, `limit` and `offset`
func getAllInvoices() gin.HandlerFunc {
	type Params struct {
		Limit  int `form:"limit" binding:"gte=0"`
		Offset int `form:"offset" binding:"gte=0"`
	}

	return func(c *gin.Context) {
		userID, ok := auth.RequireScope(c, auth.ReadWallet)
		if !ok {
			return
		}

		var params Params
		if c.BindQuery(&params) != nil {
			return
		}
		if params.Limit == 0 {
			params.Limit = 100
		}

		result, err := invoices.GetByUserID(database, userID, params.Limit, params.Offset)
		if err != nil {
			log.WithError(err).WithField("userId", userID).
				Error("Could not get invoices")
			_ = c.Error(err)
			return
		}

		c.JSONP(http.StatusOK, result)
	}
}
