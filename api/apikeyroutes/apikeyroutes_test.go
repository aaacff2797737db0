package apikeyroutes_test

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"os"
	"testing"

	"github.com/brianvoe/gofakeit"
	"github.com/btcsuite/btcd/chaincfg"
	uuid "github.com/satori/go.uuid"
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
	databaseConfig = testutil.GetDatabaseConfig("apikey_routes")
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

func createAndLoginUser(t *testing.T) string {
	t.Helper()
	return h.CreateAndLoginUser(t, users.CreateUserArgs{
		Email:    gofakeit.Email(),
		Password: gofakeit.Password(true, true, true, true, true, 21),
	})
}

func TestCreateApiKey(t *testing.T) {
	token := createAndLoginUser(t)

	t.Run("creating a key returns the raw secret once", func(t *testing.T) {
		req := httptestutil.GetAuthRequest(t, httptestutil.AuthRequestArgs{
			AccessToken: token,
			Path:        "/apikey",
			Method:      "POST",
			Body:        `{"readWallet": true, "sendTransaction": true, "description": "deploy key"}`,
		})
		res := h.AssertResponseOkWithJson(t, req)

		rawKey, ok := res["key"].(string)
		assert.True(t, ok)
		_, err := uuid.FromString(rawKey)
		assert.NoError(t, err)

		assert.Equal(t, true, res["readWallet"])
		assert.Equal(t, true, res["sendTransaction"])
		assert.Equal(t, false, res["editAccount"])
	})

	t.Run("a key without permissions is rejected", func(t *testing.T) {
		req := httptestutil.GetAuthRequest(t, httptestutil.AuthRequestArgs{
			AccessToken: token,
			Path:        "/apikey",
			Method:      "POST",
			Body:        `{"description": "useless key"}`,
		})
		h.AssertResponseNotOkWithCode(t, req, http.StatusBadRequest)
	})

	t.Run("the returned key authenticates requests", func(t *testing.T) {
		req := httptestutil.GetAuthRequest(t, httptestutil.AuthRequestArgs{
			AccessToken: token,
			Path:        "/apikey",
			Method:      "POST",
			Body:        `{"readWallet": true}`,
		})
		res := h.AssertResponseOkWithJson(t, req)
		rawKey := res["key"].(string)

		keyReq := httptestutil.GetAuthRequest(t, httptestutil.AuthRequestArgs{
			AccessToken: rawKey,
			Path:        "/users",
			Method:      "GET",
		})
		h.AssertResponseOk(t, keyReq)
	})
}

func TestGetAllForUser(t *testing.T) {
	token := createAndLoginUser(t)

	t.Run("a fresh user has no keys", func(t *testing.T) {
		req := httptestutil.GetAuthRequest(t, httptestutil.AuthRequestArgs{
			AccessToken: token,
			Path:        "/apikey/all",
			Method:      "GET",
		})
		response := h.AssertResponseOk(t, req)
		assert.Equal(t, "[]", response.Body.String())
	})

	t.Run("created keys show up without their secret", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			req := httptestutil.GetAuthRequest(t, httptestutil.AuthRequestArgs{
				AccessToken: token,
				Path:        "/apikey",
				Method:      "POST",
				Body:        `{"readWallet": true}`,
			})
			h.AssertResponseOk(t, req)
		}

		req := httptestutil.GetAuthRequest(t, httptestutil.AuthRequestArgs{
			AccessToken: token,
			Path:        "/apikey/all",
			Method:      "GET",
		})
		response := h.AssertResponseOk(t, req)
		assert.Contains(t, response.Body.String(), "readWallet")
		assert.NotContains(t, response.Body.String(), "hashedKey")
	})
}
