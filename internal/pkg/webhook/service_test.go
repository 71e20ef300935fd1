package webhook

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/mwaldhauser/PaySettle/app/models"
	"github.com/mwaldhauser/PaySettle/internal/pkg/commission"
	"github.com/mwaldhauser/PaySettle/internal/pkg/inventory"
	"github.com/mwaldhauser/PaySettle/internal/pkg/orderstate"
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

	err = db.AutoMigrate(
		&models.Order{},
		&models.OrderItem{},
		&models.Product{},
		&models.Agent{},
		&models.WebhookEvent{},
		&models.IdempotencyClaim{},
		&models.Commission{},
		&models.CommissionPlan{},
		&models.AgentBalance{},
		&models.BalanceStatement{},
		&models.Withdrawal{},
	)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestService(db *gorm.DB) *Service {
	engine := commission.NewEngine(
		commission.NewGormChainResolver(),
		commission.NewGormPlanLookup(),
		2, 7,
	)
	machine := orderstate.NewMachine(engine, inventory.NewReconciler())
	return NewService(db, machine)
}

// seedReferralChain creates agent 3 referred by agent 2, referred by agent 1,
// with 12% L1 and 4% L2 plans on site 1.
func seedReferralChain(t *testing.T, db *gorm.DB) {
	t.Helper()
	agents := []models.Agent{
		{ID: 1, SiteID: 1, ParentID: 0, Name: "root", Status: models.AgentStatusActive},
		{ID: 2, SiteID: 1, ParentID: 1, Name: "mid", Status: models.AgentStatusActive},
		{ID: 3, SiteID: 1, ParentID: 2, Name: "leaf", Status: models.AgentStatusActive},
	}
	if err := db.Create(&agents).Error; err != nil {
		t.Fatalf("seed agents: %v", err)
	}
	from := time.Now().Add(-24 * time.Hour)
	plans := []models.CommissionPlan{
		{SiteID: 1, Level: 1, Rate: decimal.RequireFromString("0.12"), EffectiveFrom: from, IsActive: true},
		{SiteID: 1, Level: 2, Rate: decimal.RequireFromString("0.04"), EffectiveFrom: from, IsActive: true},
	}
	if err := db.Create(&plans).Error; err != nil {
		t.Fatalf("seed plans: %v", err)
	}
}

func seedOrder(t *testing.T, db *gorm.DB, orderNo string) *models.Order {
	t.Helper()
	order := &models.Order{
		OrderNo:        orderNo,
		SiteID:         1,
		AgentID:        3,
		Status:         models.OrderStatusPending,
		Subtotal:       decimal.RequireFromString("100.00"),
		TaxTotal:       decimal.RequireFromString("8.00"),
		GrandTotal:     decimal.RequireFromString("108.00"),
		IdempotencyKey: "idem-" + orderNo,
	}
	if err := db.Create(order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

func stripePaidPayload(eventID, orderNo string) []byte {
	return []byte(fmt.Sprintf(
		`{"id":%q,"type":"payment_intent.succeeded","created":%d,"data":{"object":{"id":"pi_1","metadata":{"order_no":%q}}}}`,
		eventID, time.Now().Unix(), orderNo))
}

func stripeFailedPayload(eventID, orderNo string) []byte {
	return []byte(fmt.Sprintf(
		`{"id":%q,"type":"payment_intent.payment_failed","data":{"object":{"id":"pi_1","metadata":{"order_no":%q}}}}`,
		eventID, orderNo))
}

func TestIngest_PaidOrderCreatesCommissions(t *testing.T) {
	db := openTestDB(t)
	seedReferralChain(t, db)
	order := seedOrder(t, db, "ord-100")
	svc := newTestService(db)

	res, err := svc.Ingest(context.Background(), models.WebhookSourceStripe, stripePaidPayload("evt_1", "ord-100"))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Duplicate || res.Ignored || res.Guarded {
		t.Fatalf("expected clean processing, got %+v", res)
	}

	var got models.Order
	if err := db.First(&got, order.ID).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if got.Status != models.OrderStatusPaid {
		t.Fatalf("order status = %q, want paid", got.Status)
	}
	if got.PaidAt == nil {
		t.Fatalf("expected paid_at to be set")
	}
	if got.SettlementRef != "pi_1" {
		t.Fatalf("settlement ref = %q", got.SettlementRef)
	}

	var commissions []models.Commission
	if err := db.Where("order_id = ?", order.ID).Order("level ASC").Find(&commissions).Error; err != nil {
		t.Fatalf("load commissions: %v", err)
	}
	if len(commissions) != 2 {
		t.Fatalf("expected 2 commissions, got %d", len(commissions))
	}
	if commissions[0].AgentID != 2 || !commissions[0].Amount.Equal(decimal.RequireFromString("12.00")) {
		t.Fatalf("L1 commission = agent %d amount %s", commissions[0].AgentID, commissions[0].Amount)
	}
	if commissions[1].AgentID != 1 || !commissions[1].Amount.Equal(decimal.RequireFromString("4.00")) {
		t.Fatalf("L2 commission = agent %d amount %s", commissions[1].AgentID, commissions[1].Amount)
	}
	for _, c := range commissions {
		if c.Status != models.CommissionStatusHold {
			t.Fatalf("commission %d status = %q, want hold", c.ID, c.Status)
		}
		if c.ReleaseAt == nil {
			t.Fatalf("commission %d has no release time", c.ID)
		}
	}

	var event models.WebhookEvent
	if err := db.First(&event, res.EventID).Error; err != nil {
		t.Fatalf("load event: %v", err)
	}
	if event.Status != models.WebhookStatusProcessed {
		t.Fatalf("event status = %q, want processed", event.Status)
	}
}

func TestIngest_DuplicateDeliveryShortCircuits(t *testing.T) {
	db := openTestDB(t)
	seedReferralChain(t, db)
	seedOrder(t, db, "ord-200")
	svc := newTestService(db)

	payload := stripePaidPayload("evt_dup", "ord-200")
	if _, err := svc.Ingest(context.Background(), models.WebhookSourceStripe, payload); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	res, err := svc.Ingest(context.Background(), models.WebhookSourceStripe, payload)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if !res.Duplicate {
		t.Fatalf("expected duplicate result, got %+v", res)
	}

	var eventCount, commissionCount int64
	db.Model(&models.WebhookEvent{}).Count(&eventCount)
	db.Model(&models.Commission{}).Count(&commissionCount)
	if eventCount != 1 {
		t.Fatalf("expected exactly one event row, got %d", eventCount)
	}
	if commissionCount != 2 {
		t.Fatalf("expected commissions from first delivery only, got %d", commissionCount)
	}
}

func TestIngest_ReplayWithFreshEventIDIsGuarded(t *testing.T) {
	db := openTestDB(t)
	seedReferralChain(t, db)
	order := seedOrder(t, db, "ord-300")
	svc := newTestService(db)

	if _, err := svc.Ingest(context.Background(), models.WebhookSourceStripe, stripePaidPayload("evt_a", "ord-300")); err != nil {
		t.Fatalf("first ingest: %v", err)
	}

	// Provider replays the settlement under a new event id: the claim does not
	// catch it, the state machine guard does.
	res, err := svc.Ingest(context.Background(), models.WebhookSourceStripe, stripePaidPayload("evt_b", "ord-300"))
	if err != nil {
		t.Fatalf("replay ingest: %v", err)
	}
	if !res.Guarded {
		t.Fatalf("expected guarded result, got %+v", res)
	}

	var event models.WebhookEvent
	if err := db.First(&event, res.EventID).Error; err != nil {
		t.Fatalf("load event: %v", err)
	}
	if event.Status != models.WebhookStatusDuplicate {
		t.Fatalf("event status = %q, want duplicate", event.Status)
	}

	var commissionCount int64
	db.Model(&models.Commission{}).Where("order_id = ?", order.ID).Count(&commissionCount)
	if commissionCount != 2 {
		t.Fatalf("replay must not add commissions, got %d", commissionCount)
	}
}

func TestIngest_LateFailureAfterPaidIsNoOp(t *testing.T) {
	db := openTestDB(t)
	seedReferralChain(t, db)
	order := seedOrder(t, db, "ord-400")
	svc := newTestService(db)

	if _, err := svc.Ingest(context.Background(), models.WebhookSourceStripe, stripePaidPayload("evt_paid", "ord-400")); err != nil {
		t.Fatalf("paid ingest: %v", err)
	}
	res, err := svc.Ingest(context.Background(), models.WebhookSourceStripe, stripeFailedPayload("evt_late_fail", "ord-400"))
	if err != nil {
		t.Fatalf("late failure ingest: %v", err)
	}
	if !res.Guarded {
		t.Fatalf("expected guarded result, got %+v", res)
	}

	var got models.Order
	if err := db.First(&got, order.ID).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if got.Status != models.OrderStatusPaid {
		t.Fatalf("order status = %q, late failure must not override paid", got.Status)
	}
	if got.InventoryReleased {
		t.Fatalf("late failure must not release inventory on a paid order")
	}
}

func TestIngest_FailedOrderReleasesInventoryOnce(t *testing.T) {
	db := openTestDB(t)
	seedReferralChain(t, db)
	order := seedOrder(t, db, "ord-500")
	svc := newTestService(db)

	product := models.Product{SiteID: 1, SKU: "SKU-1", Name: "widget", Stock: 5, StockReserved: 3}
	if err := db.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	item := models.OrderItem{OrderID: order.ID, ProductID: product.ID, Quantity: 3, UnitPrice: decimal.RequireFromString("33.33")}
	if err := db.Create(&item).Error; err != nil {
		t.Fatalf("seed item: %v", err)
	}

	if _, err := svc.Ingest(context.Background(), models.WebhookSourceStripe, stripeFailedPayload("evt_fail", "ord-500")); err != nil {
		t.Fatalf("failed ingest: %v", err)
	}

	var got models.Order
	if err := db.First(&got, order.ID).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if got.Status != models.OrderStatusFailed {
		t.Fatalf("order status = %q, want failed", got.Status)
	}
	if !got.InventoryReleased {
		t.Fatalf("expected inventory released flag")
	}

	var p models.Product
	if err := db.First(&p, product.ID).Error; err != nil {
		t.Fatalf("reload product: %v", err)
	}
	if p.Stock != 8 || p.StockReserved != 0 {
		t.Fatalf("stock = %d reserved = %d, want 8/0", p.Stock, p.StockReserved)
	}

	// A second failure notification with a fresh event id is guarded and must
	// not release again.
	res, err := svc.Ingest(context.Background(), models.WebhookSourceStripe, stripeFailedPayload("evt_fail_2", "ord-500"))
	if err != nil {
		t.Fatalf("second failure ingest: %v", err)
	}
	if !res.Guarded {
		t.Fatalf("expected guarded result, got %+v", res)
	}
	if err := db.First(&p, product.ID).Error; err != nil {
		t.Fatalf("reload product: %v", err)
	}
	if p.Stock != 8 || p.StockReserved != 0 {
		t.Fatalf("stock moved on guarded replay: %d/%d", p.Stock, p.StockReserved)
	}
}

func TestIngest_UnhandledEventTypeIsRecorded(t *testing.T) {
	db := openTestDB(t)
	svc := newTestService(db)

	payload := []byte(`{"id":"evt_inv","type":"invoice.created","data":{"object":{"id":"in_1","metadata":{}}}}`)
	res, err := svc.Ingest(context.Background(), models.WebhookSourceStripe, payload)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !res.Ignored {
		t.Fatalf("expected ignored result, got %+v", res)
	}

	var event models.WebhookEvent
	if err := db.First(&event, res.EventID).Error; err != nil {
		t.Fatalf("load event: %v", err)
	}
	if event.Status != models.WebhookStatusProcessed {
		t.Fatalf("event status = %q, want processed", event.Status)
	}
	if event.ErrorMessage != "event type not handled" {
		t.Fatalf("note = %q", event.ErrorMessage)
	}
}

func TestIngest_UnknownOrderIsRecordedAndAcknowledged(t *testing.T) {
	db := openTestDB(t)
	svc := newTestService(db)

	res, err := svc.Ingest(context.Background(), models.WebhookSourceStripe, stripePaidPayload("evt_noorder", "ord-missing"))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !res.Ignored {
		t.Fatalf("expected ignored result, got %+v", res)
	}

	var event models.WebhookEvent
	if err := db.First(&event, res.EventID).Error; err != nil {
		t.Fatalf("load event: %v", err)
	}
	if event.Status != models.WebhookStatusProcessed {
		t.Fatalf("event status = %q, want processed", event.Status)
	}
}

func TestIngest_InvalidPayload(t *testing.T) {
	db := openTestDB(t)
	svc := newTestService(db)

	if _, err := svc.Ingest(context.Background(), models.WebhookSourceStripe, []byte(`{{`)); err == nil {
		t.Fatalf("expected error for invalid payload")
	}

	var claims int64
	db.Model(&models.IdempotencyClaim{}).Count(&claims)
	if claims != 0 {
		t.Fatalf("unparseable delivery must not claim, got %d claims", claims)
	}
}

func TestRepository_ClaimEventFirstWriterWins(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepository(db)

	claim := &models.IdempotencyClaim{SiteID: 1, Source: models.WebhookSourceStripe, ProviderEventID: "evt_1"}
	first, err := repo.ClaimEvent(claim)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !first {
		t.Fatalf("expected first claim to win")
	}

	again, err := repo.ClaimEvent(&models.IdempotencyClaim{SiteID: 1, Source: models.WebhookSourceStripe, ProviderEventID: "evt_1"})
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if again {
		t.Fatalf("expected second claim to lose")
	}

	// Same event id under a different source is a distinct claim.
	other, err := repo.ClaimEvent(&models.IdempotencyClaim{SiteID: 1, Source: models.WebhookSourceFireblocks, ProviderEventID: "evt_1"})
	if err != nil {
		t.Fatalf("cross-source claim: %v", err)
	}
	if !other {
		t.Fatalf("expected claim under a different source to win")
	}
}

func TestRepository_ClaimEventConcurrentDeliveries(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepository(db)

	const deliveries = 16
	var wins int64
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			first, err := repo.ClaimEvent(&models.IdempotencyClaim{
				SiteID: 1, Source: models.WebhookSourceStripe, ProviderEventID: "evt_123",
			})
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if first {
				atomic.AddInt64(&wins, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins != 1 {
		t.Fatalf("first-seen count = %d, want exactly 1", wins)
	}
	var claims int64
	db.Model(&models.IdempotencyClaim{}).Count(&claims)
	if claims != 1 {
		t.Fatalf("claim rows = %d, want 1", claims)
	}
}

func TestRepository_PurgeBefore(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepository(db)

	old := time.Now().Add(-48 * time.Hour)
	events := []models.WebhookEvent{
		{SiteID: 1, Source: "stripe", ProviderEventID: "evt_old", EventType: "x", Payload: "{}", Status: models.WebhookStatusProcessed, ReceivedAt: old},
		{SiteID: 1, Source: "stripe", ProviderEventID: "evt_new", EventType: "x", Payload: "{}", Status: models.WebhookStatusProcessed, ReceivedAt: time.Now()},
	}
	if err := db.Create(&events).Error; err != nil {
		t.Fatalf("seed events: %v", err)
	}
	claims := []models.IdempotencyClaim{
		{SiteID: 1, Source: "stripe", ProviderEventID: "evt_old", CreatedAt: old},
		{SiteID: 1, Source: "stripe", ProviderEventID: "evt_new"},
	}
	if err := db.Create(&claims).Error; err != nil {
		t.Fatalf("seed claims: %v", err)
	}

	cutoff := time.Now().Add(-24 * time.Hour)
	aged, err := repo.ListEventsBefore(cutoff, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(aged) != 1 || aged[0].ProviderEventID != "evt_old" {
		t.Fatalf("expected only the old event, got %d", len(aged))
	}

	purgedEvents, purgedClaims, err := repo.PurgeBefore(cutoff)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purgedEvents != 1 || purgedClaims != 1 {
		t.Fatalf("purged %d events, %d claims, want 1/1", purgedEvents, purgedClaims)
	}

	var remaining int64
	db.Model(&models.WebhookEvent{}).Count(&remaining)
	if remaining != 1 {
		t.Fatalf("expected the recent event to survive, got %d rows", remaining)
	}
}
