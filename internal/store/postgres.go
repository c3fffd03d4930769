package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/nyuchitech/payments-core/internal/payment"
)

// PostgresStore is the pgx-backed PaymentStore. Schema is managed by the
// goose migrations in migrations/.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const paymentColumns = `id, reference, transaction_id, poll_token, provider, payer_id,
	organization_id, email, amount, currency, status, description, items,
	last_event_at, created_at, updated_at`

func (s *PostgresStore) CreatePayment(ctx context.Context, record *PaymentRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	items, err := json.Marshal(record.Items)
	if err != nil {
		return errors.Wrap(err, "marshal payment items")
	}

	query := `INSERT INTO payments (id, reference, transaction_id, poll_token, provider, payer_id,
	            organization_id, email, amount, currency, status, description, items, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, now(), now())
	          ON CONFLICT (reference) DO UPDATE SET updated_at = now()`
	_, err = s.pool.Exec(ctx, query,
		record.ID, record.Reference, nullable(record.TransactionID), nullable(record.PollToken),
		record.Provider.String(), nullable(record.PayerID), nullable(record.OrganizationID),
		record.Email, record.Amount, record.Currency, record.Status.String(),
		nullable(record.Description), items)
	return errors.Wrap(err, "insert payment record")
}

func (s *PostgresStore) GetPayment(ctx context.Context, handle string) (*PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE reference = $1 OR transaction_id = $1`
	record, err := scanPayment(s.pool.QueryRow(ctx, query, handle))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get payment record")
	}
	return record, nil
}

func (s *PostgresStore) RecordInitiation(ctx context.Context, reference string, resp payment.Response) error {
	status := payment.StatusProcessing
	if !resp.Success {
		status = payment.StatusFailed
	}
	// A webhook can advance the record while the initiating call is still in
	// flight. The status write only applies while the row is untouched; the
	// transaction-id and poll-token attach is unconditional.
	query := `UPDATE payments
	          SET transaction_id = COALESCE(NULLIF($2, ''), transaction_id),
	              poll_token = COALESCE(NULLIF($3, ''), poll_token),
	              provider = $4,
	              status = CASE WHEN status = 'pending' THEN $5 ELSE status END,
	              updated_at = now()
	          WHERE reference = $1`
	tag, err := s.pool.Exec(ctx, query, reference, resp.TransactionID, resp.PollToken,
		resp.Provider.String(), status.String())
	if err != nil {
		return errors.Wrap(err, "record initiation")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CompareAndSetStatus(ctx context.Context, reference string, expected, next payment.UniversalStatus, transactionID string, eventAt time.Time) (bool, error) {
	// The status predicate makes this a conditional write: a concurrent
	// transition that already moved the record leaves this a no-op.
	query := `UPDATE payments
	          SET status = $3,
	              transaction_id = COALESCE(NULLIF($4, ''), transaction_id),
	              last_event_at = $5, updated_at = now()
	          WHERE (reference = $1 OR transaction_id = $1) AND status = $2`
	tag, err := s.pool.Exec(ctx, query, reference, expected.String(), next.String(), transactionID, eventAt)
	if err != nil {
		return false, errors.Wrap(err, "compare-and-set status")
	}
	if tag.RowsAffected() == 0 {
		exists, err := s.exists(ctx, reference)
		if err != nil {
			return false, err
		}
		if !exists {
			return false, ErrNotFound
		}
		return false, nil
	}
	return true, nil
}

func (s *PostgresStore) exists(ctx context.Context, handle string) (bool, error) {
	var found bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM payments WHERE reference = $1 OR transaction_id = $1)`,
		handle).Scan(&found)
	return found, errors.Wrap(err, "check payment exists")
}

func (s *PostgresStore) LogWebhook(ctx context.Context, entry WebhookLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.ProcessedAt.IsZero() {
		entry.ProcessedAt = time.Now().UTC()
	}
	query := `INSERT INTO webhook_logs (id, provider, event_type, reference, status, amount, currency, raw_data, processed_at, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())`
	_, err := s.pool.Exec(ctx, query,
		entry.ID, entry.Provider.String(), entry.EventType, entry.Reference,
		entry.Status.String(), entry.Amount, entry.Currency, entry.Raw, entry.ProcessedAt)
	return errors.Wrap(err, "insert webhook log")
}

func (s *PostgresStore) LogWebhookError(ctx context.Context, provider payment.Provider, message string, raw []byte) error {
	query := `INSERT INTO webhook_errors (id, provider, error_message, raw_data, created_at)
	          VALUES ($1, $2, $3, $4, now())`
	_, err := s.pool.Exec(ctx, query, uuid.New(), provider.String(), message, raw)
	return errors.Wrap(err, "insert webhook error")
}

// Records lists every payment record, newest first. Used by reporting.
func (s *PostgresStore) Records(ctx context.Context) ([]PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "list payment records")
	}
	defer rows.Close()

	var records []PaymentRecord
	for rows.Next() {
		record, err := scanPayment(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan payment record")
		}
		records = append(records, *record)
	}
	return records, errors.Wrap(rows.Err(), "iterate payment records")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*PaymentRecord, error) {
	var record PaymentRecord
	var transactionID, pollToken, payerID, organizationID, description *string
	var provider, status string
	var items []byte
	var lastEventAt *time.Time

	err := row.Scan(&record.ID, &record.Reference, &transactionID, &pollToken, &provider,
		&payerID, &organizationID, &record.Email, &record.Amount, &record.Currency,
		&status, &description, &items, &lastEventAt, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		return nil, err
	}

	record.TransactionID = deref(transactionID)
	record.PollToken = deref(pollToken)
	record.PayerID = deref(payerID)
	record.OrganizationID = deref(organizationID)
	record.Description = deref(description)
	record.Provider = payment.Provider(provider)
	if lastEventAt != nil {
		record.LastEventAt = *lastEventAt
	}

	parsed, err := payment.ParseUniversalStatus(status)
	if err != nil {
		return nil, err
	}
	record.Status = parsed

	if len(items) > 0 {
		if err := json.Unmarshal(items, &record.Items); err != nil {
			return nil, errors.Wrap(err, "unmarshal payment items")
		}
	}
	return &record, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
