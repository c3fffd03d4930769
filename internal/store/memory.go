package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nyuchitech/payments-core/internal/payment"
)

// MemoryStore is an in-process PaymentStore used in tests and local
// development. Single mutex; the access pattern is short critical sections
// around map lookups.
type MemoryStore struct {
	mu            sync.Mutex
	byReference   map[string]*PaymentRecord
	byTransaction map[string]string // transaction id -> reference
	webhookLogs   []WebhookLog
	webhookErrors []string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byReference:   make(map[string]*PaymentRecord),
		byTransaction: make(map[string]string),
	}
}

func (s *MemoryStore) CreatePayment(ctx context.Context, record *PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *record
	if stored.ID == uuid.Nil {
		stored.ID = uuid.New()
	}
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	s.byReference[stored.Reference] = &stored
	if stored.TransactionID != "" {
		s.byTransaction[stored.TransactionID] = stored.Reference
	}
	return nil
}

func (s *MemoryStore) GetPayment(ctx context.Context, handle string) (*PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.byReference[handle]
	if !ok {
		if reference, mapped := s.byTransaction[handle]; mapped {
			record, ok = s.byReference[reference]
		}
	}
	if !ok {
		return nil, ErrNotFound
	}
	copied := *record
	return &copied, nil
}

func (s *MemoryStore) RecordInitiation(ctx context.Context, reference string, resp payment.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.byReference[reference]
	if !ok {
		return ErrNotFound
	}
	record.Provider = resp.Provider
	if resp.TransactionID != "" {
		record.TransactionID = resp.TransactionID
	}
	if resp.PollToken != "" {
		record.PollToken = resp.PollToken
	}
	// A webhook can land while the initiating call is still in flight. The
	// status write only applies while the record is untouched; a record a
	// webhook already advanced keeps its state.
	if record.Status == payment.StatusPending {
		if resp.Success {
			record.Status = payment.StatusProcessing
		} else {
			record.Status = payment.StatusFailed
		}
	}
	record.UpdatedAt = time.Now().UTC()
	if resp.TransactionID != "" {
		s.byTransaction[resp.TransactionID] = reference
	}
	return nil
}

func (s *MemoryStore) CompareAndSetStatus(ctx context.Context, reference string, expected, next payment.UniversalStatus, transactionID string, eventAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.byReference[reference]
	if !ok {
		if mapped, found := s.byTransaction[reference]; found {
			record, ok = s.byReference[mapped]
		}
	}
	if !ok {
		return false, ErrNotFound
	}
	if record.Status != expected {
		return false, nil
	}

	record.Status = next
	record.LastEventAt = eventAt
	record.UpdatedAt = time.Now().UTC()
	if transactionID != "" {
		record.TransactionID = transactionID
		s.byTransaction[transactionID] = record.Reference
	}
	return true, nil
}

func (s *MemoryStore) LogWebhook(ctx context.Context, entry WebhookLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	s.webhookLogs = append(s.webhookLogs, entry)
	return nil
}

func (s *MemoryStore) LogWebhookError(ctx context.Context, provider payment.Provider, message string, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.webhookErrors = append(s.webhookErrors, provider.String()+": "+message)
	return nil
}

// WebhookLogs returns a copy of the audit trail, for tests and reporting.
func (s *MemoryStore) WebhookLogs() []WebhookLog {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]WebhookLog, len(s.webhookLogs))
	copy(out, s.webhookLogs)
	return out
}

// WebhookErrors returns a copy of recorded delivery errors.
func (s *MemoryStore) WebhookErrors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.webhookErrors))
	copy(out, s.webhookErrors)
	return out
}

// Records returns a snapshot of every payment record, for reporting.
func (s *MemoryStore) Records(ctx context.Context) ([]PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]PaymentRecord, 0, len(s.byReference))
	for _, record := range s.byReference {
		out = append(out, *record)
	}
	return out, nil
}
