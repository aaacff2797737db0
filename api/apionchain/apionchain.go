// Package apionchain provides the HTTP handlers for on-chain bitcoin
// operations: issuing receiving addresses, submitting sends and reading
// the provider's fee recommendation.
package apionchain

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"gitlab.com/arcanecrypto/conduit/api/apierr"
	"gitlab.com/arcanecrypto/conduit/api/auth"
	"gitlab.com/arcanecrypto/conduit/bitnob"
	"gitlab.com/arcanecrypto/conduit/build"
	"gitlab.com/arcanecrypto/conduit/db"
	"gitlab.com/arcanecrypto/conduit/models/addresses"
	"gitlab.com/arcanecrypto/conduit/models/transfers"
	"gitlab.com/arcanecrypto/conduit/models/users"
)

var log = build.AddSubLogger("APIO")

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

	bitcoin := server.Group("bitcoin")
	bitcoin.Use(authmiddleware)

	bitcoin.POST("/addresses", issueAddress())
	bitcoin.GET("/addresses", listAddresses())
	bitcoin.POST("/send", sendOnchain())
	bitcoin.GET("/fees", recommendedFees())
	bitcoin.GET("/transactions", getAllTransfers())
}

// issueAddress generates a receiving address for the authenticated user
// through the provider and persists it. A user holds at most one address,
// issuing twice returns the first record with a conflict and makes no
// second provider call.
func issueAddress() gin.HandlerFunc {
	type request struct {
		Label      string `json:"label"`
		FormatType string `json:"formatType"`
		Amount     string `json:"amount"`
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

		// cheap existence check first, the unique constraint still guards
		// the race between check and insert
		existing, err := addresses.GetByUserID(database, userID)
		if err == nil {
			apierr.PublicWithDetails(c, http.StatusConflict,
				apierr.ErrAddressAlreadyExists, existing)
			return
		}
		if !errors.Is(err, sql.ErrNoRows) {
			_ = c.Error(err)
			return
		}

		if req.Label == "" {
			req.Label = "temporary wallet"
		}
		if req.FormatType == "" {
			req.FormatType = "bip21"
		}
		if req.Amount == "" {
			req.Amount = "regular"
		}

		generated, err := provider.GenerateAddress(bitnob.GenerateAddressArgs{
			Label:         req.Label,
			CustomerEmail: user.Email,
			FormatType:    req.FormatType,
			Amount:        req.Amount,
		})
		if err != nil {
			log.WithError(err).WithField("userId", userID).
				Error("Could not generate address")
			apierr.FromProvider(c, err)
			return
		}

		toInsert := addresses.Address{
			UserID:  userID,
			Address: generated.Address,
		}
		if generated.Label != "" {
			toInsert.Label = &generated.Label
		}
		if generated.AddressType != "" {
			toInsert.AddressType = &generated.AddressType
		}

		inserted, err := addresses.Insert(database, toInsert)
		if err != nil {
			if errors.Is(err, addresses.ErrUserAlreadyHasAddress) {
				// lost the race against a concurrent issuance, hand back
				// the row that won
				winner, getErr := addresses.GetByUserID(database, userID)
				if getErr != nil {
					_ = c.Error(getErr)
					return
				}
				apierr.PublicWithDetails(c, http.StatusConflict,
					apierr.ErrAddressAlreadyExists, winner)
				return
			}
			_ = c.Error(err)
			return
		}

		log.WithFields(logrus.Fields{
			"userId":  userID,
			"address": inserted.Address,
		}).Info("Issued address")

		c.JSONP(http.StatusOK, inserted)
	}
}

// listAddresses passes the provider's global paginated address list
// through verbatim. The list is not scoped to the calling user.
func listAddresses() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := auth.RequireScope(c, auth.ReadWallet); !ok {
			return
		}

		list, err := provider.ListAddresses()
		if err != nil {
			log.WithError(err).Error("Could not list addresses")
			apierr.FromProvider(c, err)
			return
		}

		c.JSONP(http.StatusOK, gin.H{
			"addresses": list.Addresses,
			"meta":      list.Meta,
		})
	}
}

// sendOnchain submits an on-chain send through the provider and snapshots
// the provider's response as a transfer record
func sendOnchain() gin.HandlerFunc {
	type request struct {
		AmountSat     int64  `json:"amountSat" binding:"required,gt=0"`
		Address       string `json:"address" binding:"required,address"`
		Description   string `json:"description"`
		PriorityLevel string `json:"priorityLevel"`
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

		if req.PriorityLevel == "" {
			req.PriorityLevel = "regular"
		}

		transaction, err := provider.SendBitcoin(bitnob.SendArgs{
			Satoshis:      req.AmountSat,
			Address:       req.Address,
			CustomerEmail: user.Email,
			Description:   req.Description,
			PriorityLevel: req.PriorityLevel,
		})
		if err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"userId":    userID,
				"amountSat": req.AmountSat,
			}).Error("Could not send bitcoin")
			apierr.FromProvider(c, err)
			return
		}

		toInsert := transfers.Transfer{
			UserID:        userID,
			Reference:     transaction.Reference,
			AmountSat:     transaction.SatAmount,
			FeeSat:        &transaction.SatFees,
			Address:       transaction.Address,
			PriorityLevel: transaction.PriorityLevel,
			Status:        transaction.Status,
			Action:        transaction.Action,
		}
		if transaction.Description != "" {
			toInsert.Description = &transaction.Description
		}
		if transaction.Hash != "" {
			toInsert.Txid = &transaction.Hash
		}

		inserted, err := transfers.Insert(database, toInsert)
		if err != nil {
			log.WithError(err).Error("Could not insert transfer")
			_ = c.Error(err)
			return
		}

		c.JSONP(http.StatusOK, inserted)
	}
}

// recommendedFees passes the provider's fee tier recommendation through,
// no local state is involved
func recommendedFees() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := auth.RequireScope(c, auth.ReadWallet); !ok {
			return
		}

		fees, err := provider.RecommendedFees()
		if err != nil {
			log.WithError(err).Error("Could not get recommended fees")
			apierr.FromProvider(c, err)
			return
		}

		c.JSONP(http.StatusOK, gin.H{"fees": fees})
	}
}

// getAllTransfers finds all transfers for the given user. Takes two URL
// parameters, `limit` and `offset`
func getAllTransfers() gin.HandlerFunc {
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

		result, err := transfers.GetByUserID(database, userID, params.Limit, params.Offset)
		if err != nil {
			log.WithError(err).WithField("userId", userID).
				Error("Could not get transfers")
			_ = c.Error(err)
			return
		}

		c.JSONP(http.StatusOK, result)
	}
}
