// Package apiusers provides HTTP handlers for querying for and creating
// users in our API
package apiusers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"gitlab.com/arcanecrypto/conduit/api/apierr"
	"gitlab.com/arcanecrypto/conduit/api/auth"
	"gitlab.com/arcanecrypto/conduit/build"
	"gitlab.com/arcanecrypto/conduit/db"
	"gitlab.com/arcanecrypto/conduit/models/users"
)

var log = build.AddSubLogger("APIU")

// services that gets initiated in RegisterRoutes
var database *db.DB

// RegisterRoutes applies the authMiddleware to this packages routes
// and registers routes on the gin Engine parameter
func RegisterRoutes(server *gin.Engine, d *db.DB, authmiddleware gin.HandlerFunc) {
	// assign the services given
	database = d

	// Creating a user doesn't require authentication
	server.POST("/users", createUser())

	users := server.Group("")
	users.Use(authmiddleware)
	users.GET("/users", getUser())
}

// Response is the type returned by the API for user related requests
type Response struct {
	ID        int     `json:"userId"`
	Email     string  `json:"email"`
	Firstname *string `json:"firstName"`
	Lastname  *string `json:"lastName"`
}

// getUser is a GET request that returns the authenticated user
func getUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := auth.RequireScope(c, auth.ReadWallet)
		if !ok {
			return
		}

		user, err := users.GetByID(database, userID)
		if err != nil {
			log.WithError(err).Error("could not get user")
			_ = c.Error(err)
			return
		}

		res := Response{
			ID:        user.ID,
			Email:     user.Email,
			Firstname: user.Firstname,
			Lastname:  user.Lastname,
		}

		c.JSONP(200, res)
	}
}

// createUser is a POST request that inserts a new user into the db
// required: email and password, optional: firstname and lastname
func createUser() gin.HandlerFunc {
	type request struct {
		Email     string  `json:"email" binding:"required,email"`
		Password  string  `json:"password" binding:"required,password"`
		FirstName *string `json:"firstName"`
		LastName  *string `json:"lastName"`
	}
	type response struct {
		ID    int    `json:"id"`
		Email string `json:"email"`
	}

	return func(c *gin.Context) {
		var req request
		if c.BindJSON(&req) != nil {
			return
		}

		// because the email column in users table has the unique tag, we don't
		// double check the email is unique
		u, err := users.Create(database, users.CreateUserArgs{
			Email:     req.Email,
			Password:  req.Password,
			FirstName: req.FirstName,
			LastName:  req.LastName,
		})
		if err != nil {
			if errors.Is(err, users.ErrEmailMustBeUnique) {
				apierr.Public(c, http.StatusBadRequest, apierr.ErrUserAlreadyExists)
				return
			}
			log.WithError(err).Error("could not create user")
			_ = c.Error(err)
			return
		}

		res := response{
			ID:    u.ID,
			Email: u.Email,
		}
		log.WithFields(logrus.Fields{
			"userId": u.ID,
			"email":  u.Email,
		}).Info("Created user")

		c.JSONP(http.StatusOK, res)
	}
}
