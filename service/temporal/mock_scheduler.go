package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockScheduler is a mock implementation of Scheduler for testing.
type MockScheduler struct {
	mu        sync.Mutex
	schedules map[string]time.Duration // map[scheduleID]interval
	inputs    map[string]ReconcileInput
	upsertErr error
	deleteErr error
}

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{
		schedules: make(map[string]time.Duration),
		inputs:    make(map[string]ReconcileInput),
	}
}

// UpsertReconcileSchedule creates or updates the reconcile schedule.
func (m *MockScheduler) UpsertReconcileSchedule(ctx context.Context, interval time.Duration, input ReconcileInput) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.schedules[reconcileScheduleID] = interval
	m.inputs[reconcileScheduleID] = input
	return nil
}

// DeleteReconcileSchedule records that the schedule was deleted.
func (m *MockScheduler) DeleteReconcileSchedule(ctx context.Context) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.schedules[reconcileScheduleID]; !exists {
		return fmt.Errorf("schedule %q not found", reconcileScheduleID)
	}

	delete(m.schedules, reconcileScheduleID)
	delete(m.inputs, reconcileScheduleID)
	return nil
}

// SetUpsertError makes UpsertReconcileSchedule return an error.
func (m *MockScheduler) SetUpsertError(err error) {
	m.upsertErr = err
}

// SetDeleteError makes DeleteReconcileSchedule return an error.
func (m *MockScheduler) SetDeleteError(err error) {
	m.deleteErr = err
}

// ScheduleExists checks if the reconcile schedule exists.
func (m *MockScheduler) ScheduleExists() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.schedules[reconcileScheduleID]
	return exists
}

// GetScheduleInterval returns the interval for the reconcile schedule.
func (m *MockScheduler) GetScheduleInterval() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	interval, exists := m.schedules[reconcileScheduleID]
	return interval, exists
}

// Reset clears all schedules and errors.
func (m *MockScheduler) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules = make(map[string]time.Duration)
	m.inputs = make(map[string]ReconcileInput)
	m.upsertErr = nil
	m.deleteErr = nil
}
