package taskqueue

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// SweeperConfig defines the requeue worker configuration
type SweeperConfig struct {
	// Enabled turns at-least-once redelivery on. Off by default: the
	// source system never retries in-flight work, and redelivery
	// changes delivery semantics for agents that are merely slow.
	Enabled     bool
	IntervalSec int
}

// Sweeper periodically returns in-flight tasks whose visibility
// deadline has passed to the head of their pending queue.
type Sweeper struct {
	store       Store
	config      SweeperConfig
	logger      *logrus.Entry
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewSweeper creates a new requeue worker
func NewSweeper(store Store, config SweeperConfig, logger *logrus.Entry) *Sweeper {
	return &Sweeper{
		store:       store,
		config:      config,
		logger:      logger.WithField("component", "queue-sweeper"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the sweeper
func (s *Sweeper) Start() {
	if !s.config.Enabled {
		s.logger.Info("Queue sweeper disabled, skipping")
		close(s.stoppedChan)
		return
	}

	s.logger.Infof("Starting queue sweeper with interval=%ds", s.config.IntervalSec)
	go s.run()
}

// Stop stops the sweeper
func (s *Sweeper) Stop() {
	if !s.config.Enabled {
		return
	}
	close(s.stopChan)
	<-s.stoppedChan
}

func (s *Sweeper) run() {
	defer close(s.stoppedChan)

	ticker := time.NewTicker(time.Duration(s.config.IntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-s.stopChan:
			return
		}
	}
}

func (s *Sweeper) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	requeued, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Errorf("Requeue sweep failed: %v", err)
		return
	}
	if requeued > 0 {
		s.logger.Infof("Requeued %d expired in-flight tasks", requeued)
	}
}

// Sweep scans every processing hash for records past their visibility
// deadline and pushes each one's task back to the head of its pending
// queue. Returns the number of tasks requeued.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	requeued := 0
	for _, pattern := range []string{"tenant:*:processing:agent:*", "processing:agent:*"} {
		keys, err := s.store.Keys(ctx, pattern)
		if err != nil {
			return requeued, err
		}
		for _, key := range keys {
			n, err := s.sweepHash(ctx, key)
			if err != nil {
				s.logger.Errorf("Failed to sweep %s: %v", key, err)
				continue
			}
			requeued += n
		}
	}
	return requeued, nil
}

func (s *Sweeper) sweepHash(ctx context.Context, processingKey string) (int, error) {
	fields, err := s.store.HGetAll(ctx, processingKey)
	if err != nil {
		return 0, err
	}

	queueKey := strings.Replace(processingKey, "processing:agent:", "queue:agent:", 1)
	now := time.Now()
	requeued := 0

	for taskID, data := range fields {
		var rec ProcessingRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			s.logger.Warnf("Dropping unparseable processing record %s in %s: %v", taskID, processingKey, err)
			if err := s.store.HDel(ctx, processingKey, taskID); err != nil {
				s.logger.Errorf("Failed to drop record %s: %v", taskID, err)
			}
			continue
		}
		if rec.VisibilityDeadline.After(now) {
			continue
		}

		payload, err := json.Marshal(rec.Task)
		if err != nil {
			continue
		}
		// Head of the queue, so redelivered work keeps its original order
		if err := s.store.PushFront(ctx, queueKey, string(payload)); err != nil {
			s.logger.Errorf("Failed to requeue task %s: %v", taskID, err)
			continue
		}
		if err := s.store.HDel(ctx, processingKey, taskID); err != nil {
			s.logger.Errorf("Failed to clear requeued record %s: %v", taskID, err)
			continue
		}
		s.logger.Infof("Task %s requeued after visibility deadline", taskID)
		requeued++
	}
	return requeued, nil
}
