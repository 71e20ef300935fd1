package repository

import (
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
	if err := db.AutoMigrate(&models.Withdrawal{}, &models.Commission{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestWithdrawalDecide(t *testing.T) {
	db := openTestDB(t)
	repo := NewWithdrawalRepository(db)

	w := &models.Withdrawal{
		SiteID:  1,
		AgentID: 7,
		Amount:  decimal.RequireFromString("40.00"),
		Status:  models.WithdrawalStatusRequested,
	}
	if err := repo.Create(w); err != nil {
		t.Fatalf("create: %v", err)
	}

	decided, err := repo.Decide(db, w.ID, models.WithdrawalStatusRequested, models.WithdrawalStatusApproved, "")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if !decided {
		t.Fatal("expected first decision to win")
	}

	// A second decision against the same request loses the conditional update.
	decided, err = repo.Decide(db, w.ID, models.WithdrawalStatusRequested, models.WithdrawalStatusRejected, "late reject")
	if err != nil {
		t.Fatalf("second decide: %v", err)
	}
	if decided {
		t.Fatal("second decision must not apply")
	}

	got, err := repo.GetByID(w.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.WithdrawalStatusApproved {
		t.Fatalf("status = %q, want approved", got.Status)
	}
	if got.DecidedAt == nil {
		t.Fatal("decided_at not set")
	}
	if got.Note != "" {
		t.Fatalf("note = %q from a losing decision", got.Note)
	}
}

func TestWithdrawalSetPayoutRef(t *testing.T) {
	db := openTestDB(t)
	repo := NewWithdrawalRepository(db)

	w := &models.Withdrawal{SiteID: 1, AgentID: 7, Amount: decimal.RequireFromString("10.00"), Status: models.WithdrawalStatusApproved}
	if err := repo.Create(w); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.SetPayoutRef(w.ID, "sim_abc"); err != nil {
		t.Fatalf("set payout ref: %v", err)
	}
	got, err := repo.GetByID(w.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PayoutRef != "sim_abc" {
		t.Fatalf("payout_ref = %q", got.PayoutRef)
	}
}

func seedCommission(t *testing.T, db *gorm.DB, orderID uint, status string, releaseAt *time.Time) *models.Commission {
	t.Helper()
	c := &models.Commission{
		SiteID:    1,
		OrderID:   orderID,
		AgentID:   7,
		Level:     1,
		Rate:      decimal.RequireFromString("0.12"),
		Amount:    decimal.RequireFromString("12.00"),
		Status:    status,
		ReleaseAt: releaseAt,
	}
	if err := db.Create(c).Error; err != nil {
		t.Fatalf("seed commission: %v", err)
	}
	return c
}

func TestCommissionReleaseDue(t *testing.T) {
	db := openTestDB(t)
	repo := NewCommissionRepository(db)
	now := time.Now()

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	due := seedCommission(t, db, 1, models.CommissionStatusHold, &past)
	notDue := seedCommission(t, db, 2, models.CommissionStatusHold, &future)
	seedCommission(t, db, 3, models.CommissionStatusReady, nil)

	released, err := repo.ReleaseDue(now)
	if err != nil {
		t.Fatalf("release due: %v", err)
	}
	if released != 1 {
		t.Fatalf("released = %d, want 1", released)
	}

	got, err := repo.GetByID(due.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.CommissionStatusReady {
		t.Fatalf("due commission status = %q", got.Status)
	}
	got, err = repo.GetByID(notDue.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.CommissionStatusHold {
		t.Fatalf("future commission status = %q, must stay hold", got.Status)
	}

	// Sweep again, nothing left to promote.
	released, err = repo.ReleaseDue(now)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if released != 0 {
		t.Fatalf("second sweep released %d", released)
	}
}

func TestCommissionFindReadyAndMarkPaid(t *testing.T) {
	db := openTestDB(t)
	repo := NewCommissionRepository(db)
	now := time.Now()

	first := seedCommission(t, db, 1, models.CommissionStatusReady, nil)
	second := seedCommission(t, db, 2, models.CommissionStatusReady, nil)
	seedCommission(t, db, 3, models.CommissionStatusHold, nil)

	ready, err := repo.FindReady(10)
	if err != nil {
		t.Fatalf("find ready: %v", err)
	}
	if len(ready) != 2 {
		t.Fatalf("len(ready) = %d, want 2", len(ready))
	}

	rows, err := repo.MarkPaid(db, []uint{first.ID, second.ID}, now)
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if rows != 2 {
		t.Fatalf("rows = %d, want 2", rows)
	}

	got, err := repo.GetByID(first.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.CommissionStatusPaid || got.SettledAt == nil {
		t.Fatalf("status/settled_at = %q/%v", got.Status, got.SettledAt)
	}

	// Already-paid commissions fall out of the conditional update.
	rows, err = repo.MarkPaid(db, []uint{first.ID}, now)
	if err != nil {
		t.Fatalf("second mark paid: %v", err)
	}
	if rows != 0 {
		t.Fatalf("second mark paid rows = %d, want 0", rows)
	}

	rows, err = repo.MarkPaid(db, nil, now)
	if err != nil {
		t.Fatalf("empty mark paid: %v", err)
	}
	if rows != 0 {
		t.Fatalf("empty batch rows = %d", rows)
	}
}
