package model

import "time"

// Contract is a billable customer account discovered from the call stream.
// Curated fields are operator-owned and never auto-overwritten by discovery;
// discovered fields accumulate across every ingestion run.
type Contract struct {
	// Curated fields (operator-owned).
	DisplayName       string `json:"display_name,omitempty"`
	ExternalBillingID string `json:"external_billing_id,omitempty"`
	ContractType      string `json:"contract_type,omitempty"`
	PaymentTerm       string `json:"payment_term,omitempty"`
	Notes             string `json:"notes,omitempty"`

	// Discovered fields.
	EndClientLabel string     `json:"end_client_label,omitempty"`
	FirstSeenFile  string     `json:"first_seen_file,omitempty"`
	LastSeenFile   string     `json:"last_seen_file,omitempty"`
	FirstSeenDate  *time.Time `json:"first_seen_date,omitempty"`
	LastSeenDate   *time.Time `json:"last_seen_date,omitempty"`
	FilesFoundIn   []string   `json:"files_found_in"`
	PhoneNumbers   []string   `json:"phone_numbers"`
	ContractCode   int        `json:"contract_code"`
	TotalCalls     int        `json:"total_calls_found"`
}

// BillingReady reports whether the contract carries enough curated metadata
// to be charged: both the external billing reference and a contract type.
func (c *Contract) BillingReady() bool {
	return c.ExternalBillingID != "" && c.ContractType != ""
}

// DiscoveredFacts is what one ingestion batch learned about a single
// contract code.
type DiscoveredFacts struct {
	FirstSeen      time.Time
	LastSeen       time.Time
	FirstSeenFile  string
	LastSeenFile   string
	EndClientLabel string
	Files          []string
	PhoneNumbers   []string
	ContractCode   int
	CallCount      int
}
