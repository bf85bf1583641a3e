package reconcile

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"agentdesk/internal/store"

	"github.com/shopspring/decimal"
)

type stubSource struct {
	rows []store.WalletReconciliation
	err  error
}

func (s stubSource) Reconcile(context.Context) ([]store.WalletReconciliation, error) {
	return s.rows, s.err
}

type recordingGauge struct {
	value int
	calls int
}

func (g *recordingGauge) SetDiscrepancies(n int) {
	g.value = n
	g.calls++
}

func row(userID string, balance, ledger int64) store.WalletReconciliation {
	return store.WalletReconciliation{
		UserID:               userID,
		Balance:              decimal.NewFromInt(balance),
		LedgerBalance:        decimal.NewFromInt(ledger),
		BalanceDifference:    decimal.NewFromInt(balance - ledger),
		CommissionDifference: decimal.Zero,
	}
}

func TestRunReportsOnlyDiscrepancies(t *testing.T) {
	var logs bytes.Buffer
	gauge := &recordingGauge{}
	r := New(stubSource{rows: []store.WalletReconciliation{
		row("u1", 100, 100),
		row("u2", 90, 100),
		row("u3", 0, 0),
	}}, gauge, slog.New(slog.NewTextHandler(&logs, nil)))

	report, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Wallets != 3 || len(report.Discrepancies) != 1 || report.Discrepancies[0].UserID != "u2" {
		t.Fatalf("unexpected report %#v", report)
	}
	if report.Balanced() {
		t.Fatalf("report should not be balanced")
	}
	if gauge.value != 1 || gauge.calls != 1 {
		t.Fatalf("unexpected gauge %#v", gauge)
	}
	if !bytes.Contains(logs.Bytes(), []byte("user_id=u2")) {
		t.Fatalf("expected discrepancy to be logged, got %s", logs.String())
	}
}

func TestRunBalanced(t *testing.T) {
	gauge := &recordingGauge{value: 5}
	report, err := New(stubSource{rows: []store.WalletReconciliation{row("u1", 10, 10)}}, gauge, nil).Run(context.Background())
	if err != nil || !report.Balanced() {
		t.Fatalf("expected balanced report, got %#v %v", report, err)
	}
	if gauge.value != 0 {
		t.Fatalf("expected gauge reset to 0, got %d", gauge.value)
	}
}

func TestRunPropagatesStoreError(t *testing.T) {
	boom := errors.New("boom")
	gauge := &recordingGauge{}
	if _, err := New(stubSource{err: boom}, gauge, nil).Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
	if gauge.calls != 0 {
		t.Fatalf("gauge must not change on failure")
	}
}

func TestScheduleRejectsBadSpec(t *testing.T) {
	if _, err := New(stubSource{}, nil, nil).Schedule("not a schedule"); err == nil {
		t.Fatalf("expected invalid schedule to fail")
	}
	c, err := New(stubSource{}, nil, nil).Schedule("@every 1h")
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	<-c.Stop().Done()
}
