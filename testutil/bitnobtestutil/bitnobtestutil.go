// Package bitnobtestutil has a mock payment provider client for tests
// that want to exercise API handlers without a running provider.
package bitnobtestutil

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/brianvoe/gofakeit"
	"github.com/sirupsen/logrus"

	"gitlab.com/arcanecrypto/conduit/bitnob"
)

var _ bitnob.Client = &MockClient{}

var log = logrus.New()

// MockClient implements bitnob.Client in memory. Every operation can be
// overridden per test by setting the corresponding func field. Calls are
// counted so tests can assert that a handler did (or did not) reach out
// to the provider.
type MockClient struct {
	sync.Mutex
	calls map[string]int

	GenerateAddressFunc func(args bitnob.GenerateAddressArgs) (bitnob.Address, error)
	ListAddressesFunc   func() (bitnob.AddressList, error)
	RecommendedFeesFunc func() (json.RawMessage, error)
	SendBitcoinFunc     func(args bitnob.SendArgs) (bitnob.Transaction, error)
	CreateInvoiceFunc   func(args bitnob.CreateInvoiceArgs) (bitnob.Invoice, error)
	InitiatePaymentFunc func(request string) (bitnob.PaymentSummary, error)
	PayInvoiceFunc      func(args bitnob.PayArgs) (bitnob.PaymentSummary, error)
}

// GetMockClient returns a provider client that can be used for testing
func GetMockClient() *MockClient {
	return &MockClient{calls: make(map[string]int)}
}

func (mock *MockClient) record(op string) {
	mock.Lock()
	mock.calls[op] += 1
	mock.Unlock()
	log.WithField("op", op).Info("MOCK: Provider call")
}

// Calls returns how many times the given operation was invoked
func (mock *MockClient) Calls(op string) int {
	mock.Lock()
	defer mock.Unlock()
	return mock.calls[op]
}

// TotalCalls returns how many provider calls were made in total
func (mock *MockClient) TotalCalls() int {
	mock.Lock()
	defer mock.Unlock()
	total := 0
	for _, count := range mock.calls {
		total += count
	}
	return total
}

func (mock *MockClient) GenerateAddress(args bitnob.GenerateAddressArgs) (bitnob.Address, error) {
	mock.record("GenerateAddress")
	if mock.GenerateAddressFunc != nil {
		return mock.GenerateAddressFunc(args)
	}
	return bitnob.Address{
		Address:     fmt.Sprintf("tb1q%x", gofakeit.Number(100000, 999999)),
		Label:       args.Label,
		AddressType: args.FormatType,
	}, nil
}

func (mock *MockClient) ListAddresses() (bitnob.AddressList, error) {
	mock.record("ListAddresses")
	if mock.ListAddressesFunc != nil {
		return mock.ListAddressesFunc()
	}
	return bitnob.AddressList{
		Addresses: json.RawMessage(`[]`),
		Meta:      json.RawMessage(`{"total":0}`),
	}, nil
}

func (mock *MockClient) RecommendedFees() (json.RawMessage, error) {
	mock.record("RecommendedFees")
	if mock.RecommendedFeesFunc != nil {
		return mock.RecommendedFeesFunc()
	}
	return json.RawMessage(`{"fastestFee":12,"halfHourFee":8,"hourFee":4}`), nil
}

func (mock *MockClient) SendBitcoin(args bitnob.SendArgs) (bitnob.Transaction, error) {
	mock.record("SendBitcoin")
	if mock.SendBitcoinFunc != nil {
		return mock.SendBitcoinFunc(args)
	}
	return bitnob.Transaction{
		Reference:     fmt.Sprintf("mock-%d", gofakeit.Number(1000, 9999)),
		SatAmount:     args.Satoshis,
		BtcAmount:     float64(args.Satoshis) / 1e8,
		SatFees:       150,
		Address:       args.Address,
		Description:   args.Description,
		PriorityLevel: args.PriorityLevel,
		Status:        "pending",
		Action:        "send_bitcoin",
		Hash:          gofakeit.UUID(),
	}, nil
}

func (mock *MockClient) CreateInvoice(args bitnob.CreateInvoiceArgs) (bitnob.Invoice, error) {
	mock.record("CreateInvoice")
	if mock.CreateInvoiceFunc != nil {
		return mock.CreateInvoiceFunc(args)
	}
	return bitnob.Invoice{
		Request:     fmt.Sprintf("lntb%d0n1%s", args.Satoshis, gofakeit.UUID()),
		Description: args.Description,
		Satoshis:    args.Satoshis,
		Tokens:      args.Satoshis,
	}, nil
}

func (mock *MockClient) InitiatePayment(request string) (bitnob.PaymentSummary, error) {
	mock.record("InitiatePayment")
	if mock.InitiatePaymentFunc != nil {
		return mock.InitiatePaymentFunc(request)
	}
	return bitnob.PaymentSummary{
		Request:   request,
		SatAmount: 1000,
		SatFees:   5,
		BtcAmount: 0.00001,
	}, nil
}

func (mock *MockClient) PayInvoice(args bitnob.PayArgs) (bitnob.PaymentSummary, error) {
	mock.record("PayInvoice")
	if mock.PayInvoiceFunc != nil {
		return mock.PayInvoiceFunc(args)
	}
	return bitnob.PaymentSummary{
		Reference: args.Reference,
		Request:   args.Request,
		SatAmount: 1000,
		SatFees:   5,
		BtcAmount: 0.00001,
		Status:    "confirmed",
	}, nil
}
