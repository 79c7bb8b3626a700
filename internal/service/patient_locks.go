package service

import (
	"context"
	"sync"
)

// PatientLocks serializes operations per patient. Operations on different
// patients never contend; idle entries are removed from the table.
type PatientLocks struct {
	mu    sync.Mutex
	locks map[string]*patientLock
}

type patientLock struct {
	sem  chan struct{}
	refs int
}

// NewPatientLocks creates an empty lock table.
func NewPatientLocks() *PatientLocks {
	return &PatientLocks{locks: make(map[string]*patientLock)}
}

// Acquire blocks until the patient's scope is free or ctx is done. The
// returned release function must be called exactly once.
func (p *PatientLocks) Acquire(ctx context.Context, patientID string) (func(), error) {
	p.mu.Lock()
	l, ok := p.locks[patientID]
	if !ok {
		l = &patientLock{sem: make(chan struct{}, 1)}
		p.locks[patientID] = l
	}
	l.refs++
	p.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		p.unref(patientID, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			p.unref(patientID, l)
		})
	}, nil
}

func (p *PatientLocks) unref(patientID string, l *patientLock) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(p.locks, patientID)
	}
}

// Len returns the number of patients with a held or awaited lock.
func (p *PatientLocks) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.locks)
}
