// Package health counts chat-platform call outcomes in memory and flushes
// them to the status tables in bulk.
package health

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rainbot/rainbot/internal/metrics"
	"github.com/rainbot/rainbot/internal/models"
	"github.com/rainbot/rainbot/internal/platform"
)

// Sink is where aggregated stats and heartbeats end up. Both database
// backends implement it.
type Sink interface {
	UpdateAPIHealthBulk(serviceName string, totalToAdd, successfulToAdd uint64) error
	UpsertServiceStatus(status *models.ServiceStatus) error
}

type counter struct {
	total      atomic.Uint64
	successful atomic.Uint64
}

// Aggregator holds per-operation call stats to reduce database writes.
type Aggregator struct {
	sink        Sink
	serviceName string
	counters    map[string]*counter

	stopOnce sync.Once
	stop     chan struct{}
}

var trackedOps = []string{
	platform.OpApplyMute,
	platform.OpRemoveMute,
	platform.OpApplyBan,
	platform.OpRemoveBan,
	platform.OpKick,
	platform.OpDeleteMessages,
	platform.OpNotifySubject,
}

func NewAggregator(sink Sink, serviceName string) *Aggregator {
	counters := make(map[string]*counter, len(trackedOps))
	for _, op := range trackedOps {
		counters[op] = &counter{}
	}
	return &Aggregator{
		sink:        sink,
		serviceName: serviceName,
		counters:    counters,
		stop:        make(chan struct{}),
	}
}

// RecordCall counts one call of op. A subject or message that is already
// gone still counts as a healthy call.
func (a *Aggregator) RecordCall(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case platform.Ignorable(err):
		result = "ignored"
	default:
		result = "error"
	}
	metrics.ExecutorCalls.WithLabelValues(op, result).Inc()

	c, ok := a.counters[op]
	if !ok {
		return
	}
	c.total.Add(1)
	if result != "error" {
		c.successful.Add(1)
	}
}

// Flush writes the aggregated counts and resets them.
func (a *Aggregator) Flush() {
	for op, c := range a.counters {
		total := c.total.Swap(0)
		successful := c.successful.Swap(0)
		if total == 0 {
			continue
		}
		name := a.serviceName + ":" + op
		if err := a.sink.UpdateAPIHealthBulk(name, total, successful); err != nil {
			log.Printf("ERROR: Failed to flush API health stats for %s: %v", name, err)
		}
	}
}

// Heartbeat marks the service as alive.
func (a *Aggregator) Heartbeat(details string) {
	status := &models.ServiceStatus{
		ServiceName:   a.serviceName,
		Status:        "online",
		LastHeartbeat: time.Now(),
		Details:       details,
	}
	if err := a.sink.UpsertServiceStatus(status); err != nil {
		log.Printf("Error updating heartbeat for %s: %v", a.serviceName, err)
	}
}

// Start flushes stats every interval and heartbeats every beat until Stop.
func (a *Aggregator) Start(interval, beat time.Duration, details func() string) {
	log.Printf("Health Aggregator for '%s' started with a %s flush interval", a.serviceName, interval)
	flush := time.NewTicker(interval)
	heartbeat := time.NewTicker(beat)
	a.Heartbeat(details())
	go func() {
		defer flush.Stop()
		defer heartbeat.Stop()
		for {
			select {
			case <-flush.C:
				a.Flush()
			case <-heartbeat.C:
				a.Heartbeat(details())
			case <-a.stop:
				a.Flush()
				return
			}
		}
	}()
}

func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })
}

// Monitored wraps an executor so every call is counted.
type Monitored struct {
	platform.ActionExecutor
	agg *Aggregator
}

func (a *Aggregator) Wrap(exec platform.ActionExecutor) *Monitored {
	return &Monitored{ActionExecutor: exec, agg: a}
}

func (m *Monitored) ApplyMute(ctx context.Context, guildID, subjectID, reason string) error {
	err := m.ActionExecutor.ApplyMute(ctx, guildID, subjectID, reason)
	m.agg.RecordCall(platform.OpApplyMute, err)
	return err
}

func (m *Monitored) RemoveMute(ctx context.Context, guildID, subjectID, reason string) error {
	err := m.ActionExecutor.RemoveMute(ctx, guildID, subjectID, reason)
	m.agg.RecordCall(platform.OpRemoveMute, err)
	return err
}

func (m *Monitored) ApplyBan(ctx context.Context, guildID, subjectID, reason string, pruneDays int) error {
	err := m.ActionExecutor.ApplyBan(ctx, guildID, subjectID, reason, pruneDays)
	m.agg.RecordCall(platform.OpApplyBan, err)
	return err
}

func (m *Monitored) RemoveBan(ctx context.Context, guildID, subjectID, reason string) error {
	err := m.ActionExecutor.RemoveBan(ctx, guildID, subjectID, reason)
	m.agg.RecordCall(platform.OpRemoveBan, err)
	return err
}

func (m *Monitored) Kick(ctx context.Context, guildID, subjectID, reason string) error {
	err := m.ActionExecutor.Kick(ctx, guildID, subjectID, reason)
	m.agg.RecordCall(platform.OpKick, err)
	return err
}

func (m *Monitored) DeleteMessages(ctx context.Context, channelID string, messageIDs []string) error {
	err := m.ActionExecutor.DeleteMessages(ctx, channelID, messageIDs)
	m.agg.RecordCall(platform.OpDeleteMessages, err)
	return err
}

func (m *Monitored) NotifySubject(ctx context.Context, subjectID, text string) error {
	err := m.ActionExecutor.NotifySubject(ctx, subjectID, text)
	m.agg.RecordCall(platform.OpNotifySubject, err)
	return err
}
