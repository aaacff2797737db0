package apionchain_test

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"testing"

	"github.com/brianvoe/gofakeit"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/arcanecrypto/conduit/api"
	"gitlab.com/arcanecrypto/conduit/api/auth"
	"gitlab.com/arcanecrypto/conduit/bitnob"
	"gitlab.com/arcanecrypto/conduit/build"
	"gitlab.com/arcanecrypto/conduit/db"
	"gitlab.com/arcanecrypto/conduit/models/transfers"
	"gitlab.com/arcanecrypto/conduit/models/users"
	"gitlab.com/arcanecrypto/conduit/testutil"
	"gitlab.com/arcanecrypto/conduit/testutil/bitnobtestutil"
	"gitlab.com/arcanecrypto/conduit/testutil/httptestutil"
)

const testnetAddress = "tb1q40gzxjcamcny49st7m8lyz9rtmssjgfefc33at"

var (
	databaseConfig = testutil.GetDatabaseConfig("onchain_routes")
	testDB         *db.DB
	conf           = api.Config{
		LogLevel: logrus.ErrorLevel,
		Network:  chaincfg.TestNet3Params,
	}

	h          httptestutil.TestHarness
	mockClient *bitnobtestutil.MockClient
)

func init() {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}
	auth.SetJwtPrivateKey(key)

	testDB = testutil.InitDatabase(databaseConfig)
	mockClient = bitnobtestutil.GetMockClient()

	app, err := api.NewApp(testDB, mockClient, conf)
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

func TestIssueAddress(t *testing.T) {
	token := createAndLoginUser(t)

	t.Run("issuing an address persists it", func(t *testing.T) {
		req := httptestutil.GetAuthRequest(t, httptestutil.AuthRequestArgs{
			AccessToken: token,
			Path:        "/bitcoin/addresses",
			Method:      "POST",
			Body:        `{"label": "my wallet"}`,
		})
		res := h.AssertResponseOkWithJson(t, req)
		assert.NotEmpty(t, res["address"])
		assert.Equal(t, false, res["used"])
	})

	t.Run("issuing a second address conflicts and skips the provider", func(t *testing.T) {
		callsBefore := mockClient.Calls("GenerateAddress")

		req := httptestutil.GetAuthRequest(t, httptestutil.AuthRequestArgs{
			AccessToken: token,
			Path:        "/bitcoin/addresses",
			Method:      "POST",
			Body:        `{}`,
		})
		response := h.AssertResponseNotOkWithCode(t, req, http.StatusConflict)

		// the existing record rides along in the error details
		assert.Contains(t, response.Body.String(), "address")
		assert.Equal(t, callsBefore, mockClient.Calls("GenerateAddress"),
			"conflicting issuance must not reach the provider")
	})
}

func TestListAddresses(t *testing.T) {
	token := createAndLoginUser(t)

	req := httptestutil.GetAuthRequest(t, httptestutil.AuthRequestArgs{
		AccessToken: token,
		Path:        "/bitcoin/addresses",
		Method:      "GET",
	})
	res := h.AssertResponseOkWithJson(t, req)
	assert.Contains(t, res, "addresses")
	assert.Contains(t, res, "meta")
}

func TestSendOnchain(t *testing.T) {
	token := createAndLoginUser(t)

	t.Run("a send snapshots the provider response", func(t *testing.T) {
		req := httptestutil.GetAuthRequest(t, httptestutil.AuthRequestArgs{
			AccessToken: token,
			Path:        "/bitcoin/send",
			Method:      "POST",
			Body: fmt.Sprintf(`{
				"amountSat": 100000,
				"address": %q,
				"description": "rent"
			}`, testnetAddress),
		})
		res := h.AssertResponseOkWithJson(t, req)

		assert.Equal(t, float64(100000), res["satAmount"])
		assert.InDelta(t, 0.001, res["btcAmount"], 1e-10)
		assert.Equal(t, testnetAddress, res["address"])
		assert.Equal(t, "regular", res["priorityLevel"])
		assert.Equal(t, "pending", res["status"])
		assert.NotEmpty(t, res["reference"])
	})

	t.Run("non-positive amounts never reach the provider", func(t *testing.T) {
		callsBefore := mockClient.Calls("SendBitcoin")

		for _, body := range []string{
			fmt.Sprintf(`{"amountSat": 0, "address": %q}`, testnetAddress),
			fmt.Sprintf(`{"amountSat": -100, "address": %q}`, testnetAddress),
		} {
			req := httptestutil.GetAuthRequest(t, httptestutil.AuthRequestArgs{
				AccessToken: token,
				Path:        "/bitcoin/send",
				Method:      "POST",
				Body:        body,
			})
			h.AssertResponseNotOkWithCode(t, req, http.StatusBadRequest)
		}

		assert.Equal(t, callsBefore, mockClient.Calls("SendBitcoin"))
	})

	t.Run("invalid addresses are rejected", func(t *testing.T) {
		req := httptestutil.GetAuthRequest(t, httptestutil.AuthRequestArgs{
			AccessToken: token,
			Path:        "/bitcoin/send",
			Method:      "POST",
			Body:        `{"amountSat": 1000, "address": "not-an-address"}`,
		})
		h.AssertResponseNotOkWithCode(t, req, http.StatusBadRequest)
	})

	t.Run("a provider rejection propagates its status code", func(t *testing.T) {
		mockClient.SendBitcoinFunc = func(args bitnob.SendArgs) (bitnob.Transaction, error) {
			return bitnob.Transaction{}, &bitnob.RequestError{
				StatusCode: http.StatusUnprocessableEntity,
				Body:       []byte(`{"status": false, "message": "insufficient balance"}`),
			}
		}
		defer func() { mockClient.SendBitcoinFunc = nil }()

		req := httptestutil.GetAuthRequest(t, httptestutil.AuthRequestArgs{
			AccessToken: token,
			Path:        "/bitcoin/send",
			Method:      "POST",
			Body:        fmt.Sprintf(`{"amountSat": 1000, "address": %q}`, testnetAddress),
		})
		response := h.AssertResponseNotOkWithCode(t, req, http.StatusUnprocessableEntity)
		assert.Contains(t, response.Body.String(), "insufficient balance")
	})
}

func TestRecommendedFees(t *testing.T) {
	token := createAndLoginUser(t)

	req := httptestutil.GetAuthRequest(t, httptestutil.AuthRequestArgs{
		AccessToken: token,
		Path:        "/bitcoin/fees",
		Method:      "GET",
	})
	res := h.AssertResponseOkWithJson(t, req)
	assert.Contains(t, res, "fees")
}

func TestGetAllTransfers(t *testing.T) {
	token := createAndLoginUser(t)

	email := gofakeit.Email()
	otherToken := h.CreateAndLoginUser(t, users.CreateUserArgs{
		Email:    email,
		Password: gofakeit.Password(true, true, true, true, true, 21),
	})
	otherUser, err := users.GetByEmail(testDB, email)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := transfers.Insert(testDB, transfers.Transfer{
			UserID:        otherUser.ID,
			Reference:     gofakeit.UUID(),
			AmountSat:     1000,
			Address:       testnetAddress,
			PriorityLevel: "regular",
			Status:        "pending",
			Action:        "send_bitcoin",
		})
		require.NoError(t, err)
	}

	t.Run("lists only the caller's transfers", func(t *testing.T) {
		req := httptestutil.GetAuthRequest(t, httptestutil.AuthRequestArgs{
			AccessToken: otherToken,
			Path:        "/bitcoin/transactions",
			Method:      "GET",
		})
		response := h.AssertResponseOk(t, req)
		assert.Contains(t, response.Body.String(), "satAmount")

		emptyReq := httptestutil.GetAuthRequest(t, httptestutil.AuthRequestArgs{
			AccessToken: token,
			Path:        "/bitcoin/transactions",
			Method:      "GET",
		})
		emptyResponse := h.AssertResponseOk(t, emptyReq)
		assert.Equal(t, "[]", emptyResponse.Body.String())
	})

	t.Run("limit pages the list", func(t *testing.T) {
		req := httptestutil.GetAuthRequest(t, httptestutil.AuthRequestArgs{
			AccessToken: otherToken,
			Path:        "/bitcoin/transactions?limit=2",
			Method:      "GET",
		})
		response := h.AssertResponseOk(t, req)
		assert.Equal(t, 2, countJsonArray(t, response.Body.Bytes()))
	})
}

func countJsonArray(t *testing.T, body []byte) int {
	t.Helper()
	var items []interface{}
	require.NoError(t, json.Unmarshal(body, &items))
	return len(items)
}
