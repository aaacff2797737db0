package bitnob_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/arcanecrypto/conduit/bitnob"
)

func newTestClient(handler http.HandlerFunc) (bitnob.Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	client := bitnob.NewClient(bitnob.Config{
		BaseURL: server.URL,
		APIKey:  "test-key",
	})
	return client, server
}

func TestGenerateAddress(t *testing.T) {
	t.Parallel()

	var gotPath, gotAuth string
	var gotBody map[string]interface{}
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{
			"status": true,
			"message": "ok",
			"data": {"address": "tb1qexample", "label": "my wallet", "addressType": "bip21"}
		}`))
	})
	defer server.Close()

	address, err := client.GenerateAddress(bitnob.GenerateAddressArgs{
		Label:         "my wallet",
		CustomerEmail: "someone@example.com",
		FormatType:    "bip21",
		Amount:        "regular",
	})
	require.NoError(t, err)

	assert.Equal(t, "/addresses/generate", gotPath)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "someone@example.com", gotBody["customerEmail"])
	assert.Equal(t, "tb1qexample", address.Address)
	assert.Equal(t, "bip21", address.AddressType)
}

func TestProviderRejection(t *testing.T) {
	t.Parallel()

	t.Run("http error code becomes a RequestError with that code", func(t *testing.T) {
		t.Parallel()
		client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"status": false, "message": "bad address"}`))
		})
		defer server.Close()

		_, err := client.SendBitcoin(bitnob.SendArgs{Satoshis: 1000, Address: "bogus"})
		require.Error(t, err)

		var reqErr *bitnob.RequestError
		require.True(t, errors.As(err, &reqErr))
		assert.Equal(t, http.StatusUnprocessableEntity, reqErr.StatusCode)
		assert.Contains(t, string(reqErr.Body), "bad address")
	})

	t.Run("status false with a 2xx becomes a RequestError with code 500", func(t *testing.T) {
		t.Parallel()
		client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status": false, "message": "insufficient balance"}`))
		})
		defer server.Close()

		_, err := client.PayInvoice(bitnob.PayArgs{Request: "lnbc1", Reference: "ref-1"})
		require.Error(t, err)

		var reqErr *bitnob.RequestError
		require.True(t, errors.As(err, &reqErr))
		assert.Equal(t, http.StatusInternalServerError, reqErr.StatusCode)
	})
}

func TestMissingTransactionData(t *testing.T) {
	t.Parallel()

	t.Run("null data", func(t *testing.T) {
		t.Parallel()
		client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status": true, "message": "ok", "data": null}`))
		})
		defer server.Close()

		_, err := client.InitiatePayment("lnbc1")
		require.Error(t, err)
		assert.Equal(t, bitnob.ErrNoTransactionData, pkgerrors.Cause(err))
	})

	t.Run("absent data", func(t *testing.T) {
		t.Parallel()
		client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status": true, "message": "ok"}`))
		})
		defer server.Close()

		_, err := client.CreateInvoice(bitnob.CreateInvoiceArgs{Satoshis: 100})
		require.Error(t, err)
		assert.Equal(t, bitnob.ErrNoTransactionData, pkgerrors.Cause(err))
	})
}

func TestProviderUnreachable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(nil)
	server.Close()
	client := bitnob.NewClient(bitnob.Config{BaseURL: server.URL, APIKey: "test-key"})

	_, err := client.RecommendedFees()
	require.Error(t, err)
	assert.Equal(t, bitnob.ErrUnavailable, pkgerrors.Cause(err))
}

func TestListAddressesPassthrough(t *testing.T) {
	t.Parallel()

	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/addresses", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"status": true,
			"message": "ok",
			"data": {
				"address": [{"address": "tb1qfirst"}, {"address": "tb1qsecond"}],
				"meta": {"page": 1, "total": 2}
			}
		}`))
	})
	defer server.Close()

	list, err := client.ListAddresses()
	require.NoError(t, err)
	assert.JSONEq(t, `[{"address": "tb1qfirst"}, {"address": "tb1qsecond"}]`, string(list.Addresses))
	assert.JSONEq(t, `{"page": 1, "total": 2}`, string(list.Meta))
}
