package apiauth_test

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"
	"net/http"
	"os"
	"testing"

	"github.com/brianvoe/gofakeit"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"gitlab.com/arcanecrypto/conduit/api"
	"gitlab.com/arcanecrypto/conduit/api/auth"
	"gitlab.com/arcanecrypto/conduit/build"
	"gitlab.com/arcanecrypto/conduit/db"
	"gitlab.com/arcanecrypto/conduit/models/users"
	"gitlab.com/arcanecrypto/conduit/testutil"
	"gitlab.com/arcanecrypto/conduit/testutil/bitnobtestutil"
	"gitlab.com/arcanecrypto/conduit/testutil/httptestutil"
)

var (
	databaseConfig = testutil.GetDatabaseConfig("auth_routes")
	testDB         *db.DB
	conf           = api.Config{
		LogLevel: logrus.ErrorLevel,
		Network:  chaincfg.TestNet3Params,
	}

	h httptestutil.TestHarness
)

func init() {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	auth.SetJwtPrivateKey(key)

	testDB = testutil.InitDatabase(databaseConfig)

	app, err := api.NewApp(testDB, bitnobtestutil.GetMockClient(), conf)
	if err != nil {
		panic(err.Error())
	}

	h = httptestutil.NewTestHarness(app.Router)
}

func TestMain(m *testing.M) {
	build.SetLogLevels(logrus.ErrorLevel)
	gofakeit.Seed(0)

	result := m.Run()

	if err := testDB.Close(); err != nil {
		panic(err)
	}
	os.Exit(result)
}

func TestLogin(t *testing.T) {
	email := gofakeit.Email()
	password := gofakeit.Password(true, true, true, true, true, 21)
	h.CreateUser(t, users.CreateUserArgs{Email: email, Password: password})

	t.Run("logging in returns an access token", func(t *testing.T) {
		req := httptestutil.GetRequest(t, httptestutil.RequestArgs{
			Path:   "/login",
			Method: "POST",
			Body:   fmt.Sprintf(`{"email": %q, "password": %q}`, email, password),
		})
		res := h.AssertResponseOkWithJson(t, req)

		assert.NotEmpty(t, res["accessToken"])
		assert.Equal(t, email, res["email"])
	})

	t.Run("a wrong password is unauthorized", func(t *testing.T) {
		req := httptestutil.GetRequest(t, httptestutil.RequestArgs{
			Path:   "/login",
			Method: "POST",
			Body:   fmt.Sprintf(`{"email": %q, "password": "wrong-password-123"}`, email),
		})
		h.AssertResponseNotOkWithCode(t, req, http.StatusUnauthorized)
	})

	t.Run("an unknown email gets the same response as a bad password", func(t *testing.T) {
		req := httptestutil.GetRequest(t, httptestutil.RequestArgs{
			Path:   "/login",
			Method: "POST",
			Body:   fmt.Sprintf(`{"email": %q, "password": %q}`, gofakeit.Email(), password),
		})
		h.AssertResponseNotOkWithCode(t, req, http.StatusUnauthorized)
	})
}

func TestRefreshToken(t *testing.T) {
	token := h.CreateAndLoginUser(t, users.CreateUserArgs{
		Email:    gofakeit.Email(),
		Password: gofakeit.Password(true, true, true, true, true, 21),
	})

	t.Run("a fresh token can be issued from a valid one", func(t *testing.T) {
		req := httptestutil.GetAuthRequest(t, httptestutil.AuthRequestArgs{
			AccessToken: token,
			Path:        "/auth/refresh_token",
			Method:      "GET",
		})
		res := h.AssertResponseOkWithJson(t, req)

		refreshed, ok := res["accessToken"].(string)
		assert.True(t, ok)
		assert.NotEmpty(t, refreshed)

		// the refreshed token is itself usable
		authedReq := httptestutil.GetAuthRequest(t, httptestutil.AuthRequestArgs{
			AccessToken: refreshed,
			Path:        "/users",
			Method:      "GET",
		})
		h.AssertResponseOk(t, authedReq)
	})

	t.Run("refreshing without a token is rejected", func(t *testing.T) {
		req := httptestutil.GetRequest(t, httptestutil.RequestArgs{
			Path:   "/auth/refresh_token",
			Method: "GET",
		})
		h.AssertResponseNotOk(t, req)
	})
}
