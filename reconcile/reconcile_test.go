package reconcile_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/arcanecrypto/conduit/reconcile"
)

func TestFromProbe(t *testing.T) {
	t.Parallel()

	t.Run("local expiry wins over everything", func(t *testing.T) {
		t.Parallel()
		status := reconcile.FromProbe(reconcile.ProbeSignal{
			LocallyExpired: true,
			IsPaid:         true,
		})
		assert.Equal(t, reconcile.EXPIRED, status)
	})

	t.Run("provider expiry wins over paid", func(t *testing.T) {
		t.Parallel()
		status := reconcile.FromProbe(reconcile.ProbeSignal{
			IsExpired: true,
			IsPaid:    true,
		})
		assert.Equal(t, reconcile.EXPIRED, status)
	})

	t.Run("paid maps to paid", func(t *testing.T) {
		t.Parallel()
		status := reconcile.FromProbe(reconcile.ProbeSignal{IsPaid: true})
		assert.Equal(t, reconcile.PAID, status)
	})

	t.Run("no flags maps to checked", func(t *testing.T) {
		t.Parallel()
		status := reconcile.FromProbe(reconcile.ProbeSignal{})
		assert.Equal(t, reconcile.CHECKED, status)
	})
}

func TestFromPayment(t *testing.T) {
	t.Parallel()

	t.Run("local expiry wins over confirmed", func(t *testing.T) {
		t.Parallel()
		status := reconcile.FromPayment(reconcile.PaymentSignal{
			LocallyExpired: true,
			ProviderStatus: "confirmed",
		})
		assert.Equal(t, reconcile.EXPIRED, status)
	})

	tests := []struct {
		providerStatus string
		expected       reconcile.Status
	}{
		{"pending", reconcile.CHECKED},
		{"confirmed", reconcile.PAID},
		{"failed", reconcile.FAILED},
		{"CONFIRMED", reconcile.PAID},
		{"", reconcile.CHECKED},
		{"something-new", reconcile.CHECKED},
	}
	for _, tt := range tests {
		tt := tt
		t.Run("provider status "+tt.providerStatus, func(t *testing.T) {
			t.Parallel()
			status := reconcile.FromPayment(reconcile.PaymentSignal{
				ProviderStatus: tt.providerStatus,
			})
			assert.Equal(t, tt.expected, status)
		})
	}
}

func TestIsSandbox(t *testing.T) {
	t.Parallel()

	assert.True(t, reconcile.IsSandbox("lnmock100000"))
	assert.True(t, reconcile.IsSandbox("LNMOCK100000"))
	assert.False(t, reconcile.IsSandbox("lnbc100000n1something"))
	assert.False(t, reconcile.IsSandbox(""))
	assert.False(t, reconcile.IsSandbox("mockln100"))
}

func TestSynthesize(t *testing.T) {
	t.Parallel()

	t.Run("parses the first run of digits as the amount", func(t *testing.T) {
		t.Parallel()
		synthetic, err := reconcile.Synthesize("lnmock100000")
		require.NoError(t, err)
		assert.Equal(t, int64(100000), synthetic.AmountSat)
		assert.Equal(t, int64(500), synthetic.FeeSat)
		assert.InDelta(t, 0.001, synthetic.BtcAmount, 1e-10)
	})

	t.Run("only the first digit run counts", func(t *testing.T) {
		t.Parallel()
		synthetic, err := reconcile.Synthesize("lnmock42abc99")
		require.NoError(t, err)
		assert.Equal(t, int64(42), synthetic.AmountSat)
	})

	t.Run("fee rounds up", func(t *testing.T) {
		t.Parallel()
		synthetic, err := reconcile.Synthesize("lnmock101")
		require.NoError(t, err)
		// 0.5 percent of 101 is 0.505
		assert.Equal(t, int64(1), synthetic.FeeSat)
	})

	t.Run("rejects non-sandbox requests", func(t *testing.T) {
		t.Parallel()
		_, err := reconcile.Synthesize("lnbc100n1")
		assert.Error(t, err)
	})

	t.Run("rejects sandbox requests without an amount", func(t *testing.T) {
		t.Parallel()
		_, err := reconcile.Synthesize("lnmockabc")
		assert.Error(t, err)
	})
}

func TestStatusText(t *testing.T) {
	t.Parallel()

	t.Run("marshals lowercase", func(t *testing.T) {
		t.Parallel()
		marshalled, err := json.Marshal(reconcile.PAID)
		require.NoError(t, err)
		assert.Equal(t, `"paid"`, string(marshalled))
	})

	t.Run("unmarshals lowercase into uppercase form", func(t *testing.T) {
		t.Parallel()
		var status reconcile.Status
		require.NoError(t, json.Unmarshal([]byte(`"expired"`), &status))
		assert.Equal(t, reconcile.EXPIRED, status)
	})

	t.Run("rejects unknown statuses", func(t *testing.T) {
		t.Parallel()
		var status reconcile.Status
		assert.Error(t, json.Unmarshal([]byte(`"settled"`), &status))
	})
}
