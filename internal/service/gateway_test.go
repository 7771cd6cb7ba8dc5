package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mansoorceksport/voltcharge/internal/domain"
	"github.com/mansoorceksport/voltcharge/internal/infrastructure/ipaymu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIPaymu(baseURL string) *ipaymu.Client {
	return ipaymu.NewClient(ipaymu.Config{VA: "0000001234567890", APIKey: "SANDBOX-KEY", BaseURL: baseURL})
}

func TestIPaymuGateway_CreateCheckoutURL(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"Status":200,"Message":"success","Data":{"SessionID":"sid-9","Url":"https://sandbox.ipaymu.com/payment/sid-9"}}`))
	}))
	defer ts.Close()

	gw := NewIPaymuGateway(newTestIPaymu(ts.URL))
	session, err := gw.CreateCheckoutURL(context.Background(), domain.CheckoutRequest{PaymentID: "pay-1", Amount: 75000, Description: "x"})
	require.NoError(t, err)
	assert.Equal(t, "sid-9", session.Reference)
	assert.Equal(t, "https://sandbox.ipaymu.com/payment/sid-9", session.URL)
}

func TestIPaymuGateway_TransportFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	gw := NewIPaymuGateway(newTestIPaymu(ts.URL))
	_, err := gw.CreateCheckoutURL(context.Background(), domain.CheckoutRequest{PaymentID: "pay-1", Amount: 75000})
	assert.ErrorIs(t, err, domain.ErrGatewayUnavailable)
}

func TestIPaymuGateway_InterpretCallback(t *testing.T) {
	client := newTestIPaymu("http://unused")
	gw := NewIPaymuGateway(client)

	signed := func(status, code string) map[string]string {
		return map[string]string{
			"sid":         "sid-9",
			"status":      status,
			"status_code": code,
			"trx_id":      "123",
			"via":         "va",
			"channel":     "bca",
			"signature":   client.CallbackSignature("sid-9", status),
		}
	}

	ref, code := gw.ExtractReference(signed("berhasil", "1"))
	assert.Equal(t, "sid-9", ref)
	assert.Equal(t, "1", code)

	out, err := gw.InterpretCallback(signed("berhasil", "1"))
	require.NoError(t, err)
	assert.Equal(t, domain.CallbackSuccess, out.Status)
	assert.Equal(t, "sid-9", out.Reference)
	assert.Equal(t, "123", out.TransactionID)
	assert.Equal(t, "bca", out.Bank)

	out, err = gw.InterpretCallback(signed("pending", "0"))
	require.NoError(t, err)
	assert.Equal(t, domain.CallbackPending, out.Status)

	out, err = gw.InterpretCallback(signed("expired", "-2"))
	require.NoError(t, err)
	assert.Equal(t, domain.CallbackFailed, out.Status)
	assert.Contains(t, out.Reason, "expired")

	forged := signed("berhasil", "1")
	forged["signature"] = "deadbeef"
	_, err = gw.InterpretCallback(forged)
	assert.ErrorIs(t, err, domain.ErrVerificationFailed)
}

func TestIPaymuGateway_UnsignedStatusCodeCannotPromote(t *testing.T) {
	client := newTestIPaymu("http://unused")
	gw := NewIPaymuGateway(client)

	for _, status := range []string{"pending", "expired", "gagal"} {
		t.Run(status, func(t *testing.T) {
			params := map[string]string{
				"sid":         "sid-1",
				"status":      status,
				"status_code": "1",
				"signature":   client.CallbackSignature("sid-1", status),
			}
			out, err := gw.InterpretCallback(params)
			assert.ErrorIs(t, err, domain.ErrVerificationFailed)
			assert.Nil(t, out)
		})
	}

	// Without a status_code the signed status alone decides
	out, err := gw.InterpretCallback(map[string]string{
		"sid":       "sid-1",
		"status":    "pending",
		"signature": client.CallbackSignature("sid-1", "pending"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CallbackPending, out.Status)
}

func TestMockGateway(t *testing.T) {
	gw := &MockGateway{baseURL: "https://checkout.mock.local"}

	session, err := gw.CreateCheckoutURL(context.Background(), domain.CheckoutRequest{PaymentID: "pay-1"})
	require.NoError(t, err)
	assert.Contains(t, session.URL, session.Reference)

	out, err := gw.InterpretCallback(map[string]string{"sid": session.Reference, "status_code": "1"})
	require.NoError(t, err)
	assert.Equal(t, domain.CallbackSuccess, out.Status)

	_, err = gw.InterpretCallback(map[string]string{})
	assert.ErrorIs(t, err, domain.ErrVerificationFailed)
}
