package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/brianvoe/gofakeit"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/arcanecrypto/conduit/build"
	"gitlab.com/arcanecrypto/conduit/db"
	"gitlab.com/arcanecrypto/conduit/models/apikeys"
	"gitlab.com/arcanecrypto/conduit/testutil"
	"gitlab.com/arcanecrypto/conduit/testutil/userstestutil"
)

var (
	databaseConfig = testutil.GetDatabaseConfig("auth")
	testDB         *db.DB

	correctJwtPrivKey *rsa.PrivateKey
)

func TestMain(m *testing.M) {
	gofakeit.Seed(0)
	build.SetLogLevels(logrus.ErrorLevel)

	var err error
	correctJwtPrivKey, err = rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	SetJwtPrivateKey(correctJwtPrivKey)

	testDB = testutil.InitDatabase(databaseConfig)

	os.Exit(m.Run())
}

func TestCreateJwt(t *testing.T) {
	t.Parallel()
	email := gofakeit.Email()
	id := gofakeit.Number(0, 1000000)

	token, err := CreateJwt(email, id)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, "Bearer "))

	parsed, claims, err := parseBearerJwt(token)
	require.NoError(t, err)
	assert.True(t, parsed.Valid, "Token was invalid")
	assert.Equal(t, id, claims.UserID)
	assert.Equal(t, email, claims.Email)
}

func TestParseBearerJwtWithBadKey(t *testing.T) {
	t.Parallel()

	wrongKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	token, err := createJwt(createJwtArgs{
		email:      gofakeit.Email(),
		id:         gofakeit.Number(0, 1000000),
		privateKey: wrongKey,
		now:        nil,
	})
	require.NoError(t, err)

	_, _, err = parseBearerJwt(token)
	assert.Error(t, err)
}

func serveWithMiddleware(header string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(GetMiddleware(testDB))
	router.GET("/private", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	request := httptest.NewRequest("GET", "/private", nil)
	if header != "" {
		request.Header.Set("Authorization", header)
	}
	response := httptest.NewRecorder()
	router.ServeHTTP(response, request)
	return response
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	t.Run("rejects requests without an auth header", func(t *testing.T) {
		t.Parallel()
		response := serveWithMiddleware("")
		testutil.AssertEqual(t, response.Code, http.StatusBadRequest)
	})

	t.Run("rejects malformed tokens", func(t *testing.T) {
		t.Parallel()
		response := serveWithMiddleware("Bearer not-a-jwt")
		testutil.AssertEqual(t, response.Code, http.StatusBadRequest)
	})

	t.Run("accepts a valid JWT", func(t *testing.T) {
		t.Parallel()
		user := userstestutil.CreateUserOrFail(t, testDB)
		token, err := CreateJwt(user.Email, user.ID)
		require.NoError(t, err)

		response := serveWithMiddleware(token)
		testutil.AssertEqual(t, response.Code, http.StatusOK)
	})

	t.Run("accepts a valid API key", func(t *testing.T) {
		t.Parallel()
		user := userstestutil.CreateUserOrFail(t, testDB)
		rawKey, _, err := apikeys.New(testDB, user.ID, apikeys.AllPermissions, "test key")
		require.NoError(t, err)

		response := serveWithMiddleware(rawKey.String())
		testutil.AssertEqual(t, response.Code, http.StatusOK)
	})

	t.Run("rejects an unknown API key", func(t *testing.T) {
		t.Parallel()
		response := serveWithMiddleware("12345678-1234-1234-1234-123456789012")
		testutil.AssertEqual(t, response.Code, http.StatusUnauthorized)
	})
}

func TestRequireScope(t *testing.T) {
	t.Parallel()
	user := userstestutil.CreateUserOrFail(t, testDB)

	readOnlyKey, _, err := apikeys.New(testDB, user.ID,
		apikeys.Permissions{ReadWallet: true}, "read only")
	require.NoError(t, err)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(GetMiddleware(testDB))
	router.GET("/send", func(c *gin.Context) {
		if _, ok := RequireScope(c, SendTransaction); !ok {
			return
		}
		c.Status(http.StatusOK)
	})
	router.GET("/read", func(c *gin.Context) {
		if _, ok := RequireScope(c, ReadWallet); !ok {
			return
		}
		c.Status(http.StatusOK)
	})

	serve := func(path, header string) *httptest.ResponseRecorder {
		request := httptest.NewRequest("GET", path, nil)
		request.Header.Set("Authorization", header)
		response := httptest.NewRecorder()
		router.ServeHTTP(response, request)
		return response
	}

	t.Run("a key without the scope is rejected", func(t *testing.T) {
		t.Parallel()
		response := serve("/send", readOnlyKey.String())
		assert.Equal(t, http.StatusUnauthorized, response.Code)
	})

	t.Run("a key with the scope passes", func(t *testing.T) {
		t.Parallel()
		response := serve("/read", readOnlyKey.String())
		assert.Equal(t, http.StatusOK, response.Code)
	})

	t.Run("a JWT carries every scope", func(t *testing.T) {
		t.Parallel()
		token, err := CreateJwt(user.Email, user.ID)
		require.NoError(t, err)
		response := serve("/send", token)
		assert.Equal(t, http.StatusOK, response.Code)
	})
}
