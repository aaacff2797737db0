// Package bitnob is our gateway to the Bitnob custodial API. All network
// and key operations happen on the provider's side, we only speak JSON to
// it. Failures fall in three buckets: the provider could not be reached
// (ErrUnavailable), the provider answered but rejected the request
// (RequestError), or the provider claimed success but left out the payload
// we needed (ErrNoTransactionData).
package bitnob

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"gitlab.com/arcanecrypto/conduit/build"
)

var log = build.AddSubLogger("BTNB")

// ErrUnavailable means the provider could not be reached at the transport
// level. The request never got an HTTP response.
var ErrUnavailable = errors.New("provider unreachable")

// ErrNoTransactionData means the provider reported success but the
// response was missing the transaction payload we expected.
var ErrNoTransactionData = errors.New("no transaction data in provider response")

// RequestError is a request the provider answered but rejected, either
// with an HTTP error code or with a success flag set to false. Body is the
// raw response body, preserved for diagnostics.
type RequestError struct {
	StatusCode int
	Body       json.RawMessage
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("provider rejected request with status %d: %s",
		e.StatusCode, string(e.Body))
}

// envelope is the shape every provider response comes wrapped in
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// GenerateAddressArgs are the fields we send when asking the provider for
// a fresh receiving address.
type GenerateAddressArgs struct {
	Label         string `json:"label"`
	CustomerEmail string `json:"customerEmail"`
	FormatType    string `json:"formatType"`
	Amount        string `json:"amount"`
}

// Address is the provider's description of a generated receiving address
type Address struct {
	Address     string `json:"address"`
	Label       string `json:"label"`
	AddressType string `json:"addressType"`
}

// AddressList is the provider's paginated, provider-global address list.
// We pass both fields through verbatim.
type AddressList struct {
	Addresses json.RawMessage `json:"address"`
	Meta      json.RawMessage `json:"meta"`
}

// SendArgs are the fields of an on-chain send submission
type SendArgs struct {
	Satoshis      int64  `json:"satoshis"`
	Address       string `json:"address"`
	CustomerEmail string `json:"customerEmail"`
	Description   string `json:"description"`
	PriorityLevel string `json:"priorityLevel"`
}

// Transaction is the provider's authoritative record of a submitted
// on-chain send. Local transfer rows are snapshots of this.
type Transaction struct {
	Reference     string  `json:"reference"`
	SatAmount     int64   `json:"satAmount"`
	BtcAmount     float64 `json:"btcAmount"`
	SatFees       int64   `json:"satFees"`
	Address       string  `json:"address"`
	Description   string  `json:"description"`
	PriorityLevel string  `json:"priorityLevel"`
	Status        string  `json:"status"`
	Action        string  `json:"action"`
	Hash          string  `json:"hash"`
}

// CreateInvoiceArgs are the fields of a Lightning invoice creation
type CreateInvoiceArgs struct {
	Satoshis        int64  `json:"satoshis"`
	CustomerEmail   string `json:"customerEmail"`
	Description     string `json:"description"`
	ExpiresAt       string `json:"expiresAt"`
	DescriptionHash string `json:"descriptionHash,omitempty"`
}

// Invoice is the provider's description of a created Lightning invoice
type Invoice struct {
	Request     string `json:"request"`
	Description string `json:"description"`
	Satoshis    int64  `json:"satoshis"`
	Tokens      int64  `json:"tokens"`
}

// PayArgs are the fields of a Lightning pay submission
type PayArgs struct {
	Request       string `json:"request"`
	Reference     string `json:"reference"`
	CustomerEmail string `json:"customerEmail"`
}

// PaymentSummary is the provider's transaction summary for a Lightning
// payment, returned both by the status probe and by an actual pay
// submission. Which fields are filled in depends on the operation.
type PaymentSummary struct {
	Reference   string  `json:"reference,omitempty"`
	Request     string  `json:"request,omitempty"`
	Description string  `json:"description,omitempty"`
	SatAmount   int64   `json:"satAmount"`
	SatFees     int64   `json:"satFees"`
	BtcAmount   float64 `json:"btcAmount"`
	Status      string  `json:"status,omitempty"`
	IsExpired   bool    `json:"isExpired"`
	IsPaid      bool    `json:"isPaid"`
}

// Client is the set of provider operations the rest of the application
// consumes. The production implementation talks HTTP, tests swap in a
// mock.
type Client interface {
	GenerateAddress(args GenerateAddressArgs) (Address, error)
	ListAddresses() (AddressList, error)
	RecommendedFees() (json.RawMessage, error)
	SendBitcoin(args SendArgs) (Transaction, error)
	CreateInvoice(args CreateInvoiceArgs) (Invoice, error)
	InitiatePayment(request string) (PaymentSummary, error)
	PayInvoice(args PayArgs) (PaymentSummary, error)
}

// Config has what we need to reach the provider
type Config struct {
	BaseURL string
	APIKey  string
}

type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a provider client from the given config. No retries
// and no circuit breaking, a failed call is terminal for the request it
// serves.
func NewClient(conf Config) Client {
	return &client{
		baseURL: conf.BaseURL,
		apiKey:  conf.APIKey,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// call performs an authenticated JSON request against the provider,
// unwraps the response envelope and decodes the data payload into dest.
// A nil dest skips payload decoding.
func (c *client) call(method, path string, body interface{}, dest interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		marshalled, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "could not marshal request body")
		}
		reader = bytes.NewReader(marshalled)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "could not create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	response, err := c.http.Do(req)
	if err != nil {
		log.WithError(err).WithField("path", path).Error("Could not reach provider")
		return errors.Wrapf(ErrUnavailable, "%s %s: %v", method, path, err)
	}
	defer func() { _ = response.Body.Close() }()

	raw, err := ioutil.ReadAll(response.Body)
	if err != nil {
		return errors.Wrapf(ErrUnavailable, "could not read provider response: %v", err)
	}

	if response.StatusCode >= 300 {
		log.WithField("path", path).WithField("status", response.StatusCode).
			Error("Provider rejected request")
		return &RequestError{
			StatusCode: response.StatusCode,
			Body:       raw,
		}
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return errors.Wrap(err, "could not decode provider response")
	}
	if !env.Status {
		// rejected with a 2xx, the provider's own success flag is
		// authoritative
		return &RequestError{
			StatusCode: http.StatusInternalServerError,
			Body:       raw,
		}
	}

	if dest == nil {
		return nil
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return errors.WithStack(ErrNoTransactionData)
	}
	if err := json.Unmarshal(env.Data, dest); err != nil {
		return errors.Wrap(err, "could not decode provider data payload")
	}
	return nil
}

func (c *client) GenerateAddress(args GenerateAddressArgs) (Address, error) {
	var address Address
	if err := c.call(http.MethodPost, "/addresses/generate", args, &address); err != nil {
		return Address{}, err
	}
	return address, nil
}

func (c *client) ListAddresses() (AddressList, error) {
	var list AddressList
	if err := c.call(http.MethodGet, "/addresses", nil, &list); err != nil {
		return AddressList{}, err
	}
	return list, nil
}

func (c *client) RecommendedFees() (json.RawMessage, error) {
	var fees json.RawMessage
	if err := c.call(http.MethodGet, "/wallets/recommended-fees/btc", nil, &fees); err != nil {
		return nil, err
	}
	return fees, nil
}

func (c *client) SendBitcoin(args SendArgs) (Transaction, error) {
	var transaction Transaction
	if err := c.call(http.MethodPost, "/wallets/send_bitcoin", args, &transaction); err != nil {
		return Transaction{}, err
	}
	return transaction, nil
}

func (c *client) CreateInvoice(args CreateInvoiceArgs) (Invoice, error) {
	var invoice Invoice
	if err := c.call(http.MethodPost, "/wallets/ln/createinvoice", args, &invoice); err != nil {
		return Invoice{}, err
	}
	return invoice, nil
}

func (c *client) InitiatePayment(request string) (PaymentSummary, error) {
	body := struct {
		Request string `json:"request"`
	}{Request: request}

	var summary PaymentSummary
	if err := c.call(http.MethodPost, "/wallets/ln/initiatepayment", body, &summary); err != nil {
		return PaymentSummary{}, err
	}
	return summary, nil
}

func (c *client) PayInvoice(args PayArgs) (PaymentSummary, error) {
	var summary PaymentSummary
	if err := c.call(http.MethodPost, "/wallets/ln/pay", args, &summary); err != nil {
		return PaymentSummary{}, err
	}
	return summary, nil
}
