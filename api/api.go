// Package api assembles the REST server: the gin engine, its middlewares
// and every route group the application exposes.
package api

import (
	"fmt"
	"net/http"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/go-playground/validator.v8"

	"gitlab.com/arcanecrypto/conduit/api/apiauth"
	"gitlab.com/arcanecrypto/conduit/api/apierr"
	"gitlab.com/arcanecrypto/conduit/api/apikeyroutes"
	"gitlab.com/arcanecrypto/conduit/api/apiln"
	"gitlab.com/arcanecrypto/conduit/api/apionchain"
	"gitlab.com/arcanecrypto/conduit/api/apiusers"
	"gitlab.com/arcanecrypto/conduit/api/auth"
	"gitlab.com/arcanecrypto/conduit/api/validation"
	"gitlab.com/arcanecrypto/conduit/bitnob"
	"gitlab.com/arcanecrypto/conduit/build"
	"gitlab.com/arcanecrypto/conduit/build/conduitlog"
	"gitlab.com/arcanecrypto/conduit/db"
)

var log = build.AddSubLogger("HTTP")

// Config is the configuration for our API
type Config struct {
	// LogLevel specifies which level our application is going to log to
	LogLevel logrus.Level
	// The Bitcoin blockchain network we're on
	Network chaincfg.Params
}

// RestServer is the rest server for our app. It includes a Router, a db
// connection and a connection to the payment provider.
type RestServer struct {
	Router   *gin.Engine
	db       *db.DB
	provider bitnob.Client
}

func getCorsConfig() cors.Config {
	return cors.Config{
		AllowOrigins: []string{"http://127.0.0.1:3000"},
		AllowMethods: []string{
			http.MethodPut, http.MethodGet,
			http.MethodPost, http.MethodPatch,
			http.MethodDelete,
		},
		AllowHeaders: []string{
			"Accept", "Access-Control-Allow-Origin", "Content-Type", "Referer",
			"Authorization"},
	}
}

// getGinEngine creates a new Gin engine, and applies middlewares used by
// our API. This includes recovering from panics, logging with Logrus and
// applying CORS configuration.
func getGinEngine() *gin.Engine {
	engine := gin.New()

	log.Debug("Applying gin.Recovery middleware")
	engine.Use(gin.Recovery())

	log.Debug("Applying Gin logging middleware")
	engine.Use(conduitlog.GinLoggingMiddleWare(log))

	log.Debug("Applying CORS middleware")
	corsConfig := getCorsConfig()
	engine.Use(cors.New(corsConfig))

	log.Debug("Applying error handler middleware")
	engine.Use(apierr.GetMiddleware(log))
	return engine
}

// NewApp creates a new app
func NewApp(database *db.DB, provider bitnob.Client, config Config) (RestServer, error) {
	build.SetLogLevels(config.LogLevel)

	if config.Network.Name == "" {
		return RestServer{}, errors.New("config.Network is not set")
	}

	g := getGinEngine()

	engine, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return RestServer{}, fmt.Errorf(
			"gin validator engine (%s) was not validator.Validate",
			binding.Validator.Engine(),
		)
	}
	validators := validation.RegisterAllValidators(engine, &config.Network)
	log.Infof("Registered custom validators: %s", validators)

	r := RestServer{
		Router:   g,
		db:       database,
		provider: provider,
	}

	// Ping handler
	r.Router.GET("/ping", func(c *gin.Context) {
		c.String(200, "pong")
	})

	r.Router.NoRoute(func(c *gin.Context) {
		apierr.Public(c, http.StatusNotFound, apierr.ErrRouteNotFound)
	})

	authmiddleware := auth.GetMiddleware(database)

	apiusers.RegisterRoutes(r.Router, r.db, authmiddleware)
	apiauth.RegisterRoutes(r.Router, r.db, authmiddleware)
	apikeyroutes.RegisterRoutes(r.Router, r.db, authmiddleware)
	apionchain.RegisterRoutes(r.Router, r.db, r.provider, authmiddleware)
	apiln.RegisterRoutes(r.Router, r.db, r.provider, authmiddleware)

	return r, nil
}
