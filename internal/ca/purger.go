package ca

import (
	"time"
)

// PurgerConfig defines the purge worker configuration
type PurgerConfig struct {
	Enabled     bool
	IntervalSec int
}

// Purger periodically removes expired leaf certificate material.
type Purger struct {
	engine      *Engine
	config      PurgerConfig
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewPurger creates a new certificate purge worker
func NewPurger(engine *Engine, config PurgerConfig) *Purger {
	return &Purger{
		engine:      engine,
		config:      config,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the purger
func (p *Purger) Start() {
	if !p.config.Enabled {
		p.engine.logger.Info("Certificate purger disabled, skipping")
		close(p.stoppedChan)
		return
	}

	p.engine.logger.Infof("Starting certificate purger with interval=%ds", p.config.IntervalSec)
	go p.run()
}

// Stop stops the purger
func (p *Purger) Stop() {
	if !p.config.Enabled {
		return
	}
	close(p.stopChan)
	<-p.stoppedChan
}

func (p *Purger) run() {
	defer close(p.stoppedChan)

	ticker := time.NewTicker(time.Duration(p.config.IntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.tick()
		case <-p.stopChan:
			return
		}
	}
}

func (p *Purger) tick() {
	purged, err := p.engine.PurgeExpired()
	if err != nil {
		p.engine.logger.Errorf("Certificate purge sweep failed: %v", err)
		return
	}
	if purged > 0 {
		p.engine.logger.Infof("Purged %d expired certificates", purged)
	}
}
