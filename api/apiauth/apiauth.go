// Package apiauth provides the login and token refresh HTTP handlers
package apiauth

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"gitlab.com/arcanecrypto/conduit/api/apierr"
	"gitlab.com/arcanecrypto/conduit/api/apiusers"
	"gitlab.com/arcanecrypto/conduit/api/auth"
	"gitlab.com/arcanecrypto/conduit/build"
	"gitlab.com/arcanecrypto/conduit/db"
	"gitlab.com/arcanecrypto/conduit/models/users"
)

var log = build.AddSubLogger("APIA")

// services that gets initiated in RegisterRoutes
var database *db.DB

func RegisterRoutes(server *gin.Engine, d *db.DB, authmiddleware gin.HandlerFunc) *gin.RouterGroup {
	// assign the services given
	database = d

	server.POST("/login", login())

	authGroup := server.Group("auth")
	authGroup.Use(authmiddleware)
	authGroup.GET("refresh_token", refreshToken())

	return authGroup
}

// login is a POST request that retrieves a user with the
// credentials specified in the body
func login() gin.HandlerFunc {
	// loginRequest is the expected type to find a user in the DB
	type loginRequest struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}

	// loginResponse includes a jwt-token and the e-mail identifying the user
	type loginResponse struct {
		AccessToken string `json:"accessToken"`
		apiusers.Response
	}

	return func(c *gin.Context) {
		var req loginRequest
		if c.BindJSON(&req) != nil {
			return
		}

		user, err := users.GetByCredentials(database, req.Email, req.Password)
		if err != nil {
			switch {
			// we don't want to leak information about existing users, so
			// we respond with the same response for both errors
			case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
				apierr.Public(c, http.StatusUnauthorized, apierr.ErrNoSuchUser)

			case errors.Is(err, sql.ErrNoRows):
				apierr.Public(c, http.StatusUnauthorized, apierr.ErrNoSuchUser)

			default:
				log.WithError(err).Error("could not get by credentials")
				_ = c.Error(err)
				c.Abort()
			}
			return
		}

		tokenString, err := auth.CreateJwt(req.Email, user.ID)
		if err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}

		res := loginResponse{
			AccessToken: tokenString,
			Response: apiusers.Response{
				ID:        user.ID,
				Email:     user.Email,
				Firstname: user.Firstname,
				Lastname:  user.Lastname,
			},
		}

		c.JSONP(200, res)
	}
}

// refreshToken refreshes a jwt-token
func refreshToken() gin.HandlerFunc {
	// refreshTokenResponse is the response from /auth/refresh_token
	type refreshTokenResponse struct {
		AccessToken string `json:"accessToken"`
	}

	return func(c *gin.Context) {
		// The JWT is already authenticated, but here we look the user up to
		// extract the email as it is required to create a new JWT.
		userID, ok := auth.GetUserIdOrReject(c)
		if !ok {
			return
		}
		user, err := users.GetByID(database, userID)
		if err != nil {
			log.WithError(err).Error("could not refresh token")
			_ = c.Error(err)
			return
		}

		tokenString, err := auth.CreateJwt(user.Email, user.ID)
		if err != nil {
			log.WithError(err).Error("could not create JWT")
			_ = c.Error(err)
			return
		}

		res := refreshTokenResponse{
			AccessToken: tokenString,
		}

		c.JSONP(200, res)
	}
}
