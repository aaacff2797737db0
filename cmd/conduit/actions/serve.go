package actions

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"gitlab.com/arcanecrypto/conduit/api"
	"gitlab.com/arcanecrypto/conduit/api/auth"
	"gitlab.com/arcanecrypto/conduit/bitnob"
	"gitlab.com/arcanecrypto/conduit/build"
	"gitlab.com/arcanecrypto/conduit/cmd/conduit/flags"
	"gitlab.com/arcanecrypto/conduit/db"
)

// Serve starts the payment processing API
func Serve() cli.Command {
	serve := cli.Command{
		Name:  "serve",
		Usage: "Starts the payment processing api",
		Before: func(c *cli.Context) error {
			jwtPrivateKeyPath := c.String("rsa-jwt-key")
			if jwtPrivateKeyPath == "" {
				return errors.New("no RSA JWT key given")
			}

			jwtPrivateKeyBytes, err := ioutil.ReadFile(jwtPrivateKeyPath)
			if err != nil {
				return fmt.Errorf("could not read RSA JWT key: %w", err)
			}

			jwtPrivateKeyPass := c.String("rsa-jwt-key-pass")
			if jwtPrivateKeyPass == "" {
				log.Warn("No RSA JWT key password given")
			}

			if err := auth.SetRawJwtPrivateKey(jwtPrivateKeyBytes, []byte(jwtPrivateKeyPass)); err != nil {
				return err
			}
			log.Info("Set JWT signing key")
			return nil
		},
		Action: func(c *cli.Context) error {
			network, err := flags.ReadNetwork(c)
			if err != nil {
				return err
			}

			dbConf := flags.ReadDbConf(c)
			database, err := db.Open(dbConf)
			if err != nil {
				return err
			}
			defer func() { err = database.Close() }()

			// we do a DB status check here, to verify that we can connect
			// to the DB. otherwise errors there won't get picked up until later
			status, err := database.MigrationStatus()
			if err != nil {
				return fmt.Errorf("could not query DB migration status: %w", err)
			}
			if c.Bool("db.migrateup") {
				if !status.Dirty {
					log.Debug("No migrations needed")
				} else if err := database.MigrateUp(); err != nil {
					return err
				}
			}

			bitnobConf := flags.ReadBitnobConf(c)
			provider := bitnob.NewClient(bitnobConf)
			log.WithFields(logrus.Fields{
				"baseUrl": bitnobConf.BaseURL,
				"network": network.Name,
			}).Info("Configured payment provider")

			level, err := build.ToLogLevel(c.GlobalString("logging.level"))
			if err != nil {
				return err
			}

			config := api.Config{
				LogLevel: level,
				Network:  network,
			}

			a, err := api.NewApp(database, provider, config)
			if err != nil {
				return err
			}

			address := fmt.Sprintf(":%d", c.Int("port"))
			if os.Getenv(gin.EnvGinMode) == gin.ReleaseMode {
				err = a.Router.RunTLS(address,
					c.String("tls-cert-file"),
					c.String("tls-key-file"))
			} else {
				err = a.Router.Run(address)
			}

			return err
		},
	}

	baseFlags := []cli.Flag{
		cli.IntFlag{
			Name:  "port",
			Value: 5000,
			Usage: "Port number to listen on",
		},

		// security keys
		cli.StringFlag{
			Name:      "rsa-jwt-key",
			EnvVar:    "CONDUIT_RSA_JWT_KEY",
			Usage:     "File path to PEM encoded RSA private key used for signing JWTs",
			TakesFile: true,
			Required:  true,
		},
		cli.StringFlag{
			Name:   "rsa-jwt-key-pass",
			EnvVar: "CONDUIT_RSA_JWT_KEY_PASS",
			Usage:  "The password used to decrypt the RSA private key used for signing JWTs",
		},
		cli.StringFlag{
			Name:      "tls-cert-file",
			EnvVar:    "CONDUIT_TLS_CERT_FILE",
			Usage:     "Path to TLS cert file",
			TakesFile: true,
			Required:  os.Getenv(gin.EnvGinMode) == gin.ReleaseMode,
		},
		cli.StringFlag{
			Name:     "tls-key-file",
			EnvVar:   "CONDUIT_TLS_KEY_FILE",
			Usage:    "Path to TLS key file",
			Required: os.Getenv(gin.EnvGinMode) == gin.ReleaseMode,
		},
	}

	serve.Flags = flags.Concat(baseFlags, flags.Bitnob, flags.Db)
	return serve
}
