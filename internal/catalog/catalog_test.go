package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"agentdesk/internal/apperr"

	"github.com/shopspring/decimal"
)

const sample = `
services:
  - id: nin-basic
    name: NIN slip
    category: identity_verification
    price: "1500.00"
    commission_rate: "0.10"
    active: true
  - id: mtn-airtime
    category: airtime
    price: "0"
    commission_rate: "0.02"
    active: true
    instant: true
    provider_url: http://provider.local/airtime
  - id: cac-retrieval
    category: business_registration
    price: "5000"
    active: false
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	nin, err := c.Lookup("nin-basic")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !nin.Price.Equal(decimal.NewFromInt(1500)) || !nin.CommissionRate.Equal(decimal.RequireFromString("0.10")) {
		t.Fatalf("unexpected pricing: %#v", nin)
	}
	airtime, _ := c.Lookup("mtn-airtime")
	if !airtime.VariablePrice() || !airtime.Instant || airtime.Name != "mtn-airtime" {
		t.Fatalf("unexpected airtime: %#v", airtime)
	}
	cac, _ := c.Lookup("cac-retrieval")
	if cac.Active || !cac.CommissionRate.IsZero() {
		t.Fatalf("unexpected cac: %#v", cac)
	}
}

func TestActiveAndServices(t *testing.T) {
	c, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(c.Services()); got != 3 {
		t.Fatalf("expected 3 services, got %d", got)
	}
	active := c.Active()
	if len(active) != 2 || active[0].ID != "mtn-airtime" || active[1].ID != "nin-basic" {
		t.Fatalf("unexpected active list: %#v", active)
	}
}

func TestLookupMissing(t *testing.T) {
	c, _ := New()
	_, err := c.Lookup("nope")
	if !errors.Is(err, apperr.NotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestParseRejectsBadEntries(t *testing.T) {
	cases := map[string]string{
		"missing id":  "services:\n  - category: airtime\n",
		"bad price":   "services:\n  - id: a\n    category: airtime\n    price: \"1.234\"\n",
		"bad rate":    "services:\n  - id: a\n    category: airtime\n    commission_rate: \"1.5\"\n",
		"duplicate":   "services:\n  - id: a\n    category: airtime\n  - id: a\n    category: data\n",
		"no category": "services:\n  - id: a\n",
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := LoadFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(c.Services()) != 3 {
		t.Fatalf("unexpected services: %#v", c.Services())
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
