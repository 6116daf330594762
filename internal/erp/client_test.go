package erp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

const okResponse = `<?xml version="1.0"?>
<methodResponse>
  <params><param><value><string>INV/2024/0042</string></value></param></params>
</methodResponse>`

const faultResponse = `<?xml version="1.0"?>
<methodResponse>
  <fault><value><struct>
    <member><name>faultCode</name><value><int>2</int></value></member>
    <member><name>faultString</name><value><string>contract not found</string></value></member>
  </struct></value></fault>
</methodResponse>`

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestClient_SubmitCharge(t *testing.T) {
	var received string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received = string(body)
		w.Write([]byte(okResponse))
	}))
	defer srv.Close()

	client := newTestClient(t, Config{
		Endpoint: srv.URL,
		Database: "prod",
		User:     "billing",
		Password: "secret",
	})

	result, err := client.SubmitCharge(context.Background(), "ERP-0042",
		decimal.RequireFromString("0.03"), "Extra usage 2024-03")
	if err != nil {
		t.Fatalf("SubmitCharge: %v", err)
	}
	if !result.Success || result.ReferenceID != "INV/2024/0042" {
		t.Errorf("result = %+v", result)
	}

	for _, want := range []string{
		"execute_kw",
		"account.move",
		"create_extra_usage_charge",
		"ERP-0042",
		"Extra usage 2024-03",
	} {
		if !strings.Contains(received, want) {
			t.Errorf("request body missing %q:\n%s", want, received)
		}
	}
}

func TestClient_SubmitChargeFault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(faultResponse))
	}))
	defer srv.Close()

	client := newTestClient(t, Config{Endpoint: srv.URL})
	result, err := client.SubmitCharge(context.Background(), "ERP-0042",
		decimal.RequireFromString("0.03"), "desc")
	if err == nil {
		t.Fatal("fault response did not error")
	}
	if result.Success {
		t.Error("fault marked successful")
	}
	if !strings.Contains(err.Error(), "contract not found") {
		t.Errorf("err = %v, want the fault string", err)
	}
}

func TestClient_SubmitChargeHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(t, Config{Endpoint: srv.URL})
	_, err := client.SubmitCharge(context.Background(), "ERP-0042",
		decimal.RequireFromString("0.03"), "desc")
	if err == nil {
		t.Fatal("HTTP 500 did not error")
	}
}

func TestClient_SubmitChargeCancelledContext(t *testing.T) {
	client := newTestClient(t, Config{Endpoint: "http://127.0.0.1:1"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.SubmitCharge(ctx, "ERP-0042",
		decimal.RequireFromString("0.03"), "desc"); err == nil {
		t.Fatal("cancelled context did not error")
	}
}

func TestMockBiller(t *testing.T) {
	mock := NewMockBiller()
	ctx := context.Background()

	res, err := mock.SubmitCharge(ctx, "ERP-0001", decimal.NewFromInt(1), "first")
	if err != nil {
		t.Fatalf("SubmitCharge: %v", err)
	}
	if res.ReferenceID != "MOCK-0001" {
		t.Errorf("ReferenceID = %q", res.ReferenceID)
	}

	if _, err := mock.SubmitCharge(ctx, "ERP-0002", decimal.NewFromInt(2), "second"); err != nil {
		t.Fatalf("SubmitCharge: %v", err)
	}
	charges := mock.Charges()
	if len(charges) != 2 || charges[1].ContractReference != "ERP-0002" {
		t.Errorf("charges = %+v", charges)
	}
}
