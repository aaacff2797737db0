// Package apikeyroutes provides the HTTP handlers for creating and
// listing API keys
package apikeyroutes

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	uuid "github.com/satori/go.uuid"

	"gitlab.com/arcanecrypto/conduit/api/apierr"
	"gitlab.com/arcanecrypto/conduit/api/auth"
	"gitlab.com/arcanecrypto/conduit/build"
	"gitlab.com/arcanecrypto/conduit/db"
	"gitlab.com/arcanecrypto/conduit/models/apikeys"
)

var log = build.AddSubLogger("APIK")

var database *db.DB

func RegisterRoutes(server *gin.Engine, d *db.DB, authmiddleware gin.HandlerFunc) *gin.RouterGroup {
	database = d

	keys := server.Group("apikey")
	keys.Use(authmiddleware)
	keys.POST("", createApiKey())
	keys.GET("/all", getAllForUser())

	return keys
}

func getAllForUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := auth.RequireScope(c, auth.ReadWallet)
		if !ok {
			return
		}

		keys, err := apikeys.GetByUserID(database, id)
		if err != nil {
			_ = c.Error(err)
			return
		}

		c.JSON(http.StatusOK, keys)
	}
}

func createApiKey() gin.HandlerFunc {
	type request struct {
		apikeys.Permissions
		Description string `json:"description"`
	}
	type createApiKeyResponse struct {
		Key    uuid.UUID `json:"key"`
		UserID int       `json:"userId"`
		apikeys.Permissions
	}

	return func(c *gin.Context) {
		userID, ok := auth.RequireScope(c, auth.ReadWallet)
		if !ok {
			return
		}

		var req request
		if c.BindJSON(&req) != nil {
			return
		}

		rawKey, key, err := apikeys.New(database, userID, req.Permissions, req.Description)
		if err != nil {
			if errors.Is(err, apikeys.ErrNoPermissions) {
				apierr.Public(c, http.StatusBadRequest, apierr.ErrBadApiKey)
				return
			}
			log.WithError(err).WithField("user", userID).Error("could not create API key")
			_ = c.Error(err)
			return
		}

		c.JSON(http.StatusCreated, createApiKeyResponse{
			Key:         rawKey,
			UserID:      key.UserID,
			Permissions: key.Permissions,
		})
	}
}
