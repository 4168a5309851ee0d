package server

import (
	"context"
	"sync"
	"time"

	"github.com/decred/slog"

	"github.com/balatonbet/balaton/pkg/server/internal/db"
)

// RoundEventType represents the type of round event
type RoundEventType string

const (
	EventRoundSettled RoundEventType = "round_settled"
)

// RoundEvent represents an immutable snapshot of a settled round
type RoundEvent struct {
	Type       RoundEventType
	RoundID    string
	DealerHand []string
	Players    []string
	Scores     map[string]int64
	Rewards    map[string]float64
	Pool       int64
	Timestamp  time.Time
}

// EventProcessor manages the asynchronous processing of round events:
// archiving settled rounds and mirroring balances into the slow store.
// Settlement itself never waits on it.
type EventProcessor struct {
	repo     RoundRepository
	database Database
	log      slog.Logger
	queue    chan *RoundEvent
	workers  []*eventWorker
	stopChan chan struct{}
	wg       sync.WaitGroup
	started  bool
	mu       sync.Mutex
}

// eventWorker processes events from the queue
type eventWorker struct {
	id        int
	processor *EventProcessor
	stopChan  chan struct{}
	wg        *sync.WaitGroup
}

// NewEventProcessor creates a new event processor
func NewEventProcessor(repo RoundRepository, database Database, queueSize, workerCount int, log slog.Logger) *EventProcessor {
	processor := &EventProcessor{
		repo:     repo,
		database: database,
		log:      log,
		queue:    make(chan *RoundEvent, queueSize),
		stopChan: make(chan struct{}),
	}

	// Create workers
	processor.workers = make([]*eventWorker, workerCount)
	for i := 0; i < workerCount; i++ {
		processor.workers[i] = &eventWorker{
			id:        i,
			processor: processor,
			stopChan:  make(chan struct{}),
			wg:        &processor.wg,
		}
	}

	return processor
}

// Start begins processing events
func (ep *EventProcessor) Start() {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	if ep.started {
		return
	}

	ep.started = true
	ep.log.Infof("Starting event processor with %d workers", len(ep.workers))

	for _, worker := range ep.workers {
		ep.wg.Add(1)
		go worker.run()
	}
}

// Stop gracefully stops the event processor
func (ep *EventProcessor) Stop() {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	if !ep.started {
		return
	}

	ep.log.Infof("Stopping event processor...")

	close(ep.stopChan)
	for _, worker := range ep.workers {
		close(worker.stopChan)
	}

	ep.wg.Wait()

	ep.started = false
	ep.log.Infof("Event processor stopped")
}

// Publish enqueues an event for processing. The queue is bounded and
// drops on overflow: archival is best-effort and must never stall a
// settlement.
func (ep *EventProcessor) Publish(event RoundEvent) {
	ep.mu.Lock()
	started := ep.started
	ep.mu.Unlock()

	if !started {
		ep.log.Warnf("Event processor not started, dropping event: %v", event.Type)
		return
	}

	select {
	case ep.queue <- &event:
		ep.log.Debugf("Published event: %s for round %s", event.Type, event.RoundID)
	default:
		ep.log.Errorf("Event queue full, dropping event: %s for round %s", event.Type, event.RoundID)
	}
}

// run executes the worker loop
func (w *eventWorker) run() {
	defer w.wg.Done()
	w.processor.log.Debugf("Event worker %d started", w.id)

	for {
		select {
		case <-w.stopChan:
			w.processor.log.Debugf("Event worker %d stopping", w.id)
			return

		case <-w.processor.stopChan:
			w.processor.log.Debugf("Event worker %d stopping (processor shutdown)", w.id)
			return

		case event := <-w.processor.queue:
			if event != nil {
				w.processEvent(event)
			}
		}
	}
}

// processEvent processes a single event using all registered handlers
func (w *eventWorker) processEvent(event *RoundEvent) {
	w.processor.log.Debugf("Worker %d processing event: %s for round %s", w.id, event.Type, event.RoundID)

	w.archiveRound(event)
	w.recordTransactions(event)
	w.mirrorBalances(event)
}

// archiveRound persists the settled round's snapshot, with rewards in
// their tagged archival form
func (w *eventWorker) archiveRound(event *RoundEvent) {
	granted := make(map[string][]db.RewardGrant)
	for player, amount := range event.Rewards {
		if amount <= 0 {
			continue
		}
		granted[player] = rewardGrants(TokenReward(amount))
	}
	snapshot := &db.RoundSnapshot{
		ID:         event.RoundID,
		DealerHand: event.DealerHand,
		Players:    event.Players,
		Scores:     event.Scores,
		Rewards:    granted,
		Pool:       event.Pool,
		SettledAt:  event.Timestamp,
	}
	if err := w.processor.database.SaveRound(snapshot); err != nil {
		w.processor.log.Errorf("Failed to archive round %s: %v", event.RoundID, err)
	}
}

// recordTransactions logs each paid reward in the slow store
func (w *eventWorker) recordTransactions(event *RoundEvent) {
	for player, reward := range event.Rewards {
		if reward <= 0 {
			continue
		}
		err := w.processor.database.RecordTransaction(player, event.RoundID, reward, "reward", "round payout")
		if err != nil {
			w.processor.log.Errorf("Failed to record reward for %s, round %s: %v", player, event.RoundID, err)
		}
	}
}

// mirrorBalances copies the entrants' fast-store balances into the
// slow store. The fast store stays authoritative; this is a snapshot.
func (w *eventWorker) mirrorBalances(event *RoundEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, player := range event.Players {
		balance, err := w.processor.repo.Balance(ctx, player)
		if err != nil {
			w.processor.log.Errorf("Failed to read balance for %s: %v", player, err)
			continue
		}
		if err := w.processor.database.UpsertPlayerBalance(player, balance); err != nil {
			w.processor.log.Errorf("Failed to mirror balance for %s: %v", player, err)
		}
	}
}
