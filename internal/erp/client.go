// Package erp is the external billing collaborator: charges are submitted to
// an Odoo-style ERP over XML-RPC. The pipeline only depends on the Biller
// interface; tests and dry runs use the mock.
package erp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kolo/xmlrpc"
	"github.com/shopspring/decimal"
)

// ChargeResult is the collaborator's answer to one submitted charge.
type ChargeResult struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	ReferenceID string `json:"reference_id,omitempty"`
}

// Biller submits one extra-usage charge against a contract.
type Biller interface {
	SubmitCharge(ctx context.Context, contractReference string, amount decimal.Decimal, description string) (ChargeResult, error)
}

// Config carries the ERP connection settings.
type Config struct {
	Endpoint string
	Database string
	User     string
	Password string
}

// Client is the XML-RPC Biller implementation.
type Client struct {
	rpc *xmlrpc.Client
	cfg Config
}

// NewClient creates an XML-RPC billing client.
func NewClient(cfg Config) (*Client, error) {
	transport := &http.Transport{ResponseHeaderTimeout: 30 * time.Second}
	rpc, err := xmlrpc.NewClient(cfg.Endpoint, transport)
	if err != nil {
		return nil, fmt.Errorf("failed to create ERP client for %s: %w", cfg.Endpoint, err)
	}
	return &Client{rpc: rpc, cfg: cfg}, nil
}

// SubmitCharge posts a create-charge call to the ERP. A transport error or an
// XML-RPC fault comes back as an error; the caller records it and retries on
// the next scheduled cycle.
func (c *Client) SubmitCharge(ctx context.Context, contractReference string, amount decimal.Decimal, description string) (ChargeResult, error) {
	if err := ctx.Err(); err != nil {
		return ChargeResult{}, err
	}

	args := []any{
		c.cfg.Database,
		c.cfg.User,
		c.cfg.Password,
		"account.move",
		"create_extra_usage_charge",
		contractReference,
		amount.InexactFloat64(),
		description,
	}

	var reference string
	if err := c.rpc.Call("execute_kw", args, &reference); err != nil {
		var fault xmlrpc.FaultError
		if errors.As(err, &fault) {
			return ChargeResult{Success: false, Message: fault.String},
				fmt.Errorf("charge rejected by ERP: %s", fault.String)
		}
		return ChargeResult{}, fmt.Errorf("charge dispatch failed: %w", err)
	}

	return ChargeResult{
		Success:     true,
		Message:     "charge created",
		ReferenceID: reference,
	}, nil
}
