package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/mwaldhauser/PaySettle/app/models"
	"github.com/mwaldhauser/PaySettle/app/repository"
	"github.com/mwaldhauser/PaySettle/internal/pkg/database"
	"github.com/mwaldhauser/PaySettle/internal/pkg/env"
	"github.com/mwaldhauser/PaySettle/internal/pkg/ledger"
	metrics "github.com/mwaldhauser/PaySettle/internal/pkg/metrics/counter"
	"github.com/mwaldhauser/PaySettle/internal/pkg/payout"
	"github.com/mwaldhauser/PaySettle/internal/pkg/s3archive"
	"github.com/mwaldhauser/PaySettle/internal/pkg/webhook"
	"gorm.io/gorm"
)

const retentionSweepBatch = 1000

// defaultRetentionHours is how long processed webhook events and idempotency
// claims are kept before the sweep archives and purges them.
const defaultRetentionHours = 48

// retentionWindow reads the configured retention TTL.
func retentionWindow() time.Duration {
	return env.GetEnvHours("WEBHOOK_RETENTION_HOURS", defaultRetentionHours)
}

// Manager manages the global job queue and background tasks
type Manager struct {
	queue              *Queue
	ledger             *ledger.Ledger
	archiver           *s3archive.Client
	archiveRequired    bool
	retentionTicker    *time.Ticker
	releaseTicker      *time.Ticker
	settlementTicker   *time.Ticker
	rolloverTicker     *time.Ticker
	counterFlushTicker *time.Ticker
	stopCh             chan struct{}
	wg                 sync.WaitGroup
	mu                 sync.Mutex
	running            bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		workerCount := env.GetEnvInt("JOBQUEUE_WORKER_COUNT", 5)

		globalManager = &Manager{
			queue:  NewQueue(workerCount, payout.NewBackendFromEnv()),
			ledger: ledger.New(),
			stopCh: make(chan struct{}),
		}
	})
	return globalManager
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// EnqueuePayout queues a payout dispatch job for an approved withdrawal.
func EnqueuePayout(withdrawalID uint) error {
	payload := PayoutDispatchJobPayload{WithdrawalID: withdrawalID}
	_, err := GetManager().GetQueue().EnqueueJob(JobTypePayoutDispatch, payload.ToMap())
	return err
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	// Start the job queue
	m.queue.Start()

	// Archive client is optional; sweeps purge without archiving when disabled.
	if cfg, err := s3archive.LoadConfig(); err != nil {
		log.Errorf("[JobQueue Manager] Invalid S3 archive config: %v", err)
	} else if cfg.IsEnabled() {
		m.archiveRequired = true
		client, err := s3archive.NewClient(cfg)
		if err != nil {
			log.Errorf("[JobQueue Manager] S3 archive unavailable, sweeps will not purge: %v", err)
		} else {
			m.archiver = client
		}
	}

	retentionInterval := time.Duration(env.GetEnvInt("RETENTION_SWEEP_INTERVAL_MINUTES", 60)) * time.Minute
	releaseInterval := time.Duration(env.GetEnvInt("COMMISSION_RELEASE_INTERVAL_MINUTES", 5)) * time.Minute
	settlementInterval := time.Duration(env.GetEnvInt("SETTLEMENT_INTERVAL_MINUTES", 5)) * time.Minute

	m.retentionTicker = time.NewTicker(retentionInterval)
	m.wg.Add(1)
	go m.retentionWorker()

	m.releaseTicker = time.NewTicker(releaseInterval)
	m.wg.Add(1)
	go m.releaseWorker()

	m.settlementTicker = time.NewTicker(settlementInterval)
	m.wg.Add(1)
	go m.settlementWorker()

	// Statement rollover only matters around period boundaries, hourly is plenty
	m.rolloverTicker = time.NewTicker(1 * time.Hour)
	m.wg.Add(1)
	go m.rolloverWorker()

	// Start counter flush worker (Redis -> DB) every 5 seconds
	m.counterFlushTicker = time.NewTicker(5 * time.Second)
	m.wg.Add(1)
	go m.counterFlushWorker()

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.retentionTicker != nil {
		m.retentionTicker.Stop()
	}
	if m.releaseTicker != nil {
		m.releaseTicker.Stop()
	}
	if m.settlementTicker != nil {
		m.settlementTicker.Stop()
	}
	if m.rolloverTicker != nil {
		m.rolloverTicker.Stop()
	}
	if m.counterFlushTicker != nil {
		m.counterFlushTicker.Stop()
	}

	// Signal workers to stop
	close(m.stopCh)
	m.stopCh = nil
	m.running = false

	// Wait for background workers to finish
	m.wg.Wait()

	// Stop the job queue
	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// retentionWorker runs periodically to archive and purge aged webhook audit rows
func (m *Manager) retentionWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Retention worker stopping")
			return
		case <-m.retentionTicker.C:
			if err := m.runRetentionSweepOnce(); err != nil {
				log.Errorf("[JobQueue Manager] Retention sweep error: %v", err)
			}
		}
	}
}

// releaseWorker runs periodically to promote matured commissions from hold to ready
func (m *Manager) releaseWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Commission release worker stopping")
			return
		case <-m.releaseTicker.C:
			n, err := repository.GetGlobalRepositories().Commission.ReleaseDue(time.Now())
			if err != nil {
				log.Errorf("[JobQueue Manager] Commission release error: %v", err)
				continue
			}
			if n > 0 {
				log.Infof("[JobQueue Manager] Released %d commissions to ready", n)
			}
		}
	}
}

// settlementWorker runs periodically to settle ready commissions into balances
func (m *Manager) settlementWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Settlement worker stopping")
			return
		case <-m.settlementTicker.C:
			if err := m.runSettlementOnce(); err != nil {
				log.Errorf("[JobQueue Manager] Settlement error: %v", err)
			}
		}
	}
}

// rolloverWorker pre-creates period statements for idle agents
func (m *Manager) rolloverWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Statement rollover worker stopping")
			return
		case <-m.rolloverTicker.C:
			created, err := m.ledger.RolloverStatements(context.Background(), database.GetDB(), time.Now())
			if err != nil {
				log.Errorf("[JobQueue Manager] Statement rollover error: %v", err)
				continue
			}
			if created > 0 {
				log.Infof("[JobQueue Manager] Opened %d period statements", created)
			}
		}
	}
}

// counterFlushWorker periodically flushes webhook counters from Redis to DB
func (m *Manager) counterFlushWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Counter flush worker stopping")
			return
		case <-m.counterFlushTicker.C:
			if err := metrics.FlushAll(); err != nil {
				log.Errorf("[JobQueue Manager] Counter flush error: %v", err)
			}
		}
	}
}

// runRetentionSweepOnce archives aged webhook events to S3 and purges them,
// together with their idempotency claims, once past the retention window.
// When archiving is enabled but the upload fails, the purge is skipped so no
// audit rows are lost.
func (m *Manager) runRetentionSweepOnce() error {
	retention := retentionWindow()
	cutoff := time.Now().Add(-retention)

	repo := webhook.NewRepository(database.GetDB())
	events, err := repo.ListEventsBefore(cutoff, retentionSweepBatch)
	if err != nil {
		return fmt.Errorf("failed to list aged events: %w", err)
	}

	if len(events) > 0 && m.archiveRequired {
		if m.archiver == nil {
			return fmt.Errorf("archive is enabled but unavailable, skipping purge of %d events", len(events))
		}
		if err := m.archiveEvents(events); err != nil {
			return fmt.Errorf("archive failed, skipping purge: %w", err)
		}
		if len(events) == retentionSweepBatch {
			// More aged events remain than one batch covers. Purge only up to
			// the last archived row; the next sweep takes the rest.
			cutoff = events[len(events)-1].ReceivedAt
		}
	}

	purgedEvents, purgedClaims, err := repo.PurgeBefore(cutoff)
	if err != nil {
		return fmt.Errorf("purge failed: %w", err)
	}
	if purgedEvents > 0 || purgedClaims > 0 {
		log.Infof("[JobQueue Manager] Retention sweep purged %d events, %d claims (cutoff %s)",
			purgedEvents, purgedClaims, cutoff.UTC().Format(time.RFC3339))
	}
	return nil
}

// archiveEvents uploads swept events to S3 as one JSON batch per source
func (m *Manager) archiveEvents(events []models.WebhookEvent) error {
	ctx := context.Background()
	sweptAt := time.Now()

	bySource := make(map[string][]models.WebhookEvent)
	for _, e := range events {
		bySource[e.Source] = append(bySource[e.Source], e)
	}

	cfg, err := s3archive.LoadConfig()
	if err != nil {
		return err
	}
	for source, batch := range bySource {
		data, err := json.Marshal(batch)
		if err != nil {
			return fmt.Errorf("failed to marshal %s batch: %w", source, err)
		}
		key := cfg.GetObjectKey(source, sweptAt)
		if _, err := m.archiver.UploadBatch(ctx, key, data); err != nil {
			return err
		}
		log.Infof("[JobQueue Manager] Archived %d %s events to %s", len(batch), source, key)
	}
	return nil
}

// runSettlementOnce moves ready commissions to paid and credits the agent
// balances. Each commission is marked individually through the conditional
// status update, so a row that was concurrently settled contributes nothing.
func (m *Manager) runSettlementOnce() error {
	limit := env.GetEnvInt("SETTLEMENT_BATCH_SIZE", 500)
	commissions, err := repository.GetGlobalRepositories().Commission.FindReady(limit)
	if err != nil {
		return fmt.Errorf("failed to list ready commissions: %w", err)
	}
	if len(commissions) == 0 {
		return nil
	}

	ctx := context.Background()
	now := time.Now()
	var settled int64

	// Group by agent so one bad group does not roll back the whole batch
	type agentKey struct {
		siteID  uint
		agentID uint64
	}
	groups := make(map[agentKey][]models.Commission)
	for _, c := range commissions {
		k := agentKey{siteID: c.SiteID, agentID: c.AgentID}
		groups[k] = append(groups[k], c)
	}

	for k, group := range groups {
		err := database.GetDB().Transaction(func(tx *gorm.DB) error {
			for _, c := range group {
				rows, err := repository.GetGlobalRepositories().Commission.MarkPaid(tx, []uint{c.ID}, now)
				if err != nil {
					return err
				}
				if rows == 0 {
					continue
				}
				if err := m.ledger.Credit(ctx, tx, c.SiteID, c.AgentID, c.Amount, now); err != nil {
					return err
				}
				settled++
			}
			return nil
		})
		if err != nil {
			log.Errorf("[JobQueue Manager] Settlement failed for agent %d (site %d): %v", k.agentID, k.siteID, err)
		}
	}

	if settled > 0 {
		log.Infof("[JobQueue Manager] Settled %d commissions", settled)
	}
	return nil
}
