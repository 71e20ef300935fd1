package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mwaldhauser/PaySettle/app/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.AgentBalance{}, &models.BalanceStatement{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCredit(t *testing.T) {
	db := openTestDB(t)
	l := New()
	ctx := context.Background()
	now := time.Now()

	if err := l.Credit(ctx, db, 1, 7, dec("12.00"), now); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := l.Credit(ctx, db, 1, 7, dec("4.00"), now); err != nil {
		t.Fatalf("second credit: %v", err)
	}

	balance, err := l.Balance(ctx, db, 1, 7)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Equal(dec("16.00")) {
		t.Fatalf("balance = %s, want 16.00", balance)
	}

	var stmt models.BalanceStatement
	if err := db.Where("site_id = ? AND agent_id = ? AND period = ?", 1, 7, models.StatementPeriod(now)).First(&stmt).Error; err != nil {
		t.Fatalf("load statement: %v", err)
	}
	if !stmt.OpeningBalance.Equal(dec("0")) {
		t.Fatalf("opening = %s, want 0", stmt.OpeningBalance)
	}
	if !stmt.CommissionTotal.Equal(dec("16.00")) {
		t.Fatalf("commission total = %s", stmt.CommissionTotal)
	}
	if !stmt.ClosingBalance.Equal(dec("16.00")) {
		t.Fatalf("closing = %s", stmt.ClosingBalance)
	}
}

func TestDebit_InsufficientBalance(t *testing.T) {
	db := openTestDB(t)
	l := New()
	ctx := context.Background()
	now := time.Now()

	if err := l.Credit(ctx, db, 1, 7, dec("10.00"), now); err != nil {
		t.Fatalf("credit: %v", err)
	}

	err := l.Debit(ctx, db, 1, 7, dec("10.01"), now)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	// Nothing moved.
	balance, err := l.Balance(ctx, db, 1, 7)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Equal(dec("10.00")) {
		t.Fatalf("balance = %s, want 10.00 untouched", balance)
	}
	var stmt models.BalanceStatement
	if err := db.Where("site_id = ? AND agent_id = ?", 1, 7).First(&stmt).Error; err != nil {
		t.Fatalf("load statement: %v", err)
	}
	if !stmt.WithdrawalTotal.Equal(dec("0")) {
		t.Fatalf("withdrawal total = %s, want 0", stmt.WithdrawalTotal)
	}

	// Debit against an agent with no balance row at all.
	err = l.Debit(ctx, db, 1, 99, dec("1.00"), now)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance for unknown agent, got %v", err)
	}
}

func TestDebit(t *testing.T) {
	db := openTestDB(t)
	l := New()
	ctx := context.Background()
	now := time.Now()

	if err := l.Credit(ctx, db, 1, 7, dec("50.00"), now); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := l.Debit(ctx, db, 1, 7, dec("20.00"), now); err != nil {
		t.Fatalf("debit: %v", err)
	}

	balance, err := l.Balance(ctx, db, 1, 7)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Equal(dec("30.00")) {
		t.Fatalf("balance = %s, want 30.00", balance)
	}
}

func TestStatementEquationHolds(t *testing.T) {
	db := openTestDB(t)
	l := New()
	ctx := context.Background()
	now := time.Now()

	ops := []struct {
		credit bool
		amount string
	}{
		{credit: true, amount: "12.00"},
		{credit: true, amount: "4.00"},
		{credit: false, amount: "5.50"},
		{credit: true, amount: "0.01"},
		{credit: false, amount: "10.00"},
	}
	for _, op := range ops {
		var err error
		if op.credit {
			err = l.Credit(ctx, db, 1, 7, dec(op.amount), now)
		} else {
			err = l.Debit(ctx, db, 1, 7, dec(op.amount), now)
		}
		if err != nil {
			t.Fatalf("op %+v: %v", op, err)
		}
	}

	var stmt models.BalanceStatement
	if err := db.Where("site_id = ? AND agent_id = ? AND period = ?", 1, 7, models.StatementPeriod(now)).First(&stmt).Error; err != nil {
		t.Fatalf("load statement: %v", err)
	}
	expected := stmt.OpeningBalance.Add(stmt.CommissionTotal).Sub(stmt.WithdrawalTotal)
	if !stmt.ClosingBalance.Equal(expected) {
		t.Fatalf("closing %s != opening %s + commissions %s - withdrawals %s",
			stmt.ClosingBalance, stmt.OpeningBalance, stmt.CommissionTotal, stmt.WithdrawalTotal)
	}
	// Cent-level amounts must survive storage exactly, no float residue.
	if !stmt.ClosingBalance.Equal(dec("0.51")) {
		t.Fatalf("closing = %s, want 0.51", stmt.ClosingBalance)
	}

	balance, err := l.Balance(ctx, db, 1, 7)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Equal(stmt.ClosingBalance) {
		t.Fatalf("balance %s diverged from statement closing %s", balance, stmt.ClosingBalance)
	}
}

func TestCreditRejectsNonPositiveAmounts(t *testing.T) {
	db := openTestDB(t)
	l := New()
	ctx := context.Background()

	if err := l.Credit(ctx, db, 1, 7, dec("0"), time.Now()); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for zero, got %v", err)
	}
	if err := l.Debit(ctx, db, 1, 7, dec("-5.00"), time.Now()); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for negative, got %v", err)
	}
}

func TestRolloverStatements(t *testing.T) {
	db := openTestDB(t)
	l := New()
	ctx := context.Background()
	now := time.Now()

	if err := l.Credit(ctx, db, 1, 7, dec("25.00"), now); err != nil {
		t.Fatalf("credit: %v", err)
	}

	// Next period: the idle agent gets a statement seeded from the balance.
	next := now.AddDate(0, 1, 0)
	created, err := l.RolloverStatements(ctx, db, next)
	if err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if created != 1 {
		t.Fatalf("created = %d, want 1", created)
	}

	var stmt models.BalanceStatement
	if err := db.Where("site_id = ? AND agent_id = ? AND period = ?", 1, 7, models.StatementPeriod(next)).First(&stmt).Error; err != nil {
		t.Fatalf("load statement: %v", err)
	}
	if !stmt.OpeningBalance.Equal(dec("25.00")) || !stmt.ClosingBalance.Equal(dec("25.00")) {
		t.Fatalf("opening/closing = %s/%s, want 25.00/25.00", stmt.OpeningBalance, stmt.ClosingBalance)
	}

	// Re-running the rollover creates nothing new.
	created, err = l.RolloverStatements(ctx, db, next)
	if err != nil {
		t.Fatalf("second rollover: %v", err)
	}
	if created != 0 {
		t.Fatalf("second rollover created %d statements", created)
	}
}
