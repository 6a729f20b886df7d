package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/sentinelops/remediator/internal/errors"
	"github.com/sentinelops/remediator/pkg/types"
)

var errUniqueViolation = &pgconn.PgError{Code: uniqueViolation}

var _ = Describe("Store", func() {
	var (
		ctx   context.Context
		db    *sqlx.DB
		mock  sqlmock.Sqlmock
		store *Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		mockDB, mockSQL, err := sqlmock.New()
		Expect(err).ToNot(HaveOccurred())
		db = sqlx.NewDb(mockDB, "sqlmock")
		mock = mockSQL
		store = New(db)
	})

	AfterEach(func() {
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	Describe("GetTenant", func() {
		It("returns the tenant on a matching row", func() {
			rows := sqlmock.NewRows([]string{"id", "name", "active"}).
				AddRow("t1", "Acme", true)
			mock.ExpectQuery(`SELECT id, name, active FROM tenants WHERE id = \$1`).
				WithArgs("t1").
				WillReturnRows(rows)

			got, err := store.GetTenant(ctx, "t1")
			Expect(err).ToNot(HaveOccurred())
			Expect(got.Name).To(Equal("Acme"))
			Expect(got.Active).To(BeTrue())
		})

		It("returns a not_found AppError on no rows", func() {
			mock.ExpectQuery(`SELECT id, name, active FROM tenants WHERE id = \$1`).
				WithArgs("missing").
				WillReturnError(sql.ErrNoRows)

			_, err := store.GetTenant(ctx, "missing")
			Expect(apperrors.IsType(err, apperrors.ErrorTypeNotFound)).To(BeTrue())
		})
	})

	Describe("InsertEvent", func() {
		It("returns the existing event on a unique-key collision", func() {
			mock.ExpectExec(`INSERT INTO events`).
				WillReturnError(errUniqueViolation)

			findRows := sqlmock.NewRows([]string{
				"id", "tenant_id", "workflow_id", "event_type", "payload", "idempotency_key",
				"occurred_at", "received_at", "correlation_id", "vendor",
			}).AddRow("evt-1", "t1", "w1", "order.error", []byte(`{}`), "key-1",
				time.Now(), time.Now(), "", "")
			mock.ExpectQuery(`SELECT id, tenant_id, workflow_id, event_type, payload, idempotency_key`).
				WithArgs("t1", "key-1").
				WillReturnRows(findRows)

			existing, dup, err := store.InsertEvent(ctx, &types.Event{
				TenantID: "t1", WorkflowID: "w1", EventType: "order.error", IdempotencyKey: "key-1",
			})
			Expect(err).ToNot(HaveOccurred())
			Expect(dup).To(BeTrue())
			Expect(existing.ID).To(Equal("evt-1"))
		})
	})

	Describe("CreateIncidentOrAppend", func() {
		It("preserves the caller-seeded event_count on a fresh insert", func() {
			mock.ExpectExec(`INSERT INTO incidents`).
				WithArgs("inc-1", "t1", "w1", "sig-1", "timeout on acme-pay", types.IncidentStatusNew,
					types.SeverityHigh, 1, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(1, 1))

			inc := &types.Incident{
				ID: "inc-1", TenantID: "t1", WorkflowID: "w1", Signature: "sig-1",
				Title: "timeout on acme-pay", Status: types.IncidentStatusNew, Severity: types.SeverityHigh,
				EventCount: 1, FirstSeenAt: time.Now(),
			}
			got, created, err := store.CreateIncidentOrAppend(ctx, inc, "evt-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(created).To(BeTrue())
			Expect(got.EventCount).To(Equal(int64(1)))
		})

		It("appends to the open incident and increments event_count on a signature collision", func() {
			mock.ExpectExec(`INSERT INTO incidents`).
				WillReturnError(errUniqueViolation)

			findRows := sqlmock.NewRows([]string{
				"id", "tenant_id", "workflow_id", "signature", "title", "status", "severity", "event_count",
				"first_seen_at", "last_seen_at", "retry_count", "metadata", "correlation",
			}).AddRow("inc-1", "t1", "w1", "sig-1", "timeout on acme-pay", types.IncidentStatusNew,
				types.SeverityHigh, 1, time.Now(), time.Now(), 0, []byte(`{}`), []byte(`["evt-1"]`))
			mock.ExpectQuery(`SELECT id, tenant_id, workflow_id, signature, title, status, severity, event_count`).
				WithArgs("t1", "w1", "sig-1").
				WillReturnRows(findRows)

			appendRows := sqlmock.NewRows([]string{
				"id", "tenant_id", "workflow_id", "signature", "title", "status", "severity", "event_count",
				"first_seen_at", "last_seen_at", "retry_count", "metadata", "correlation",
			}).AddRow("inc-1", "t1", "w1", "sig-1", "timeout on acme-pay", types.IncidentStatusNew,
				types.SeverityHigh, 2, time.Now(), time.Now(), 0, []byte(`{}`), []byte(`["evt-1","evt-2"]`))
			mock.ExpectQuery(`UPDATE incidents`).
				WithArgs("inc-1", sqlmock.AnyArg(), "evt-2").
				WillReturnRows(appendRows)

			inc := &types.Incident{
				ID: "inc-2", TenantID: "t1", WorkflowID: "w1", Signature: "sig-1",
				Title: "timeout on acme-pay", Status: types.IncidentStatusNew, Severity: types.SeverityHigh,
				EventCount: 1, FirstSeenAt: time.Now(),
			}
			got, created, err := store.CreateIncidentOrAppend(ctx, inc, "evt-2")
			Expect(err).ToNot(HaveOccurred())
			Expect(created).To(BeFalse())
			Expect(got.EventCount).To(Equal(int64(2)))
		})
	})

	Describe("TransitionAction", func() {
		It("rejects an illegal transition before touching the database", func() {
			_, err := store.TransitionAction(ctx, "act-1", types.ActionStatusPending, types.ActionStatusSucceeded, "")
			Expect(apperrors.IsType(err, apperrors.ErrorTypeInvariantViolation)).To(BeTrue())
		})

		It("reports an invariant violation when zero rows match the guarded WHERE clause", func() {
			mock.ExpectExec(`UPDATE actions SET status = \$1, result = \$2, completed_at = \$3`).
				WillReturnResult(sqlmock.NewResult(0, 0))

			_, err := store.TransitionAction(ctx, "act-1", types.ActionStatusPending, types.ActionStatusInProgress, "")
			Expect(apperrors.IsType(err, apperrors.ErrorTypeInvariantViolation)).To(BeTrue())
		})
	})

	Describe("InsertAction", func() {
		It("reports conflict=true on a unique-index violation instead of an error", func() {
			mock.ExpectExec(`INSERT INTO actions`).
				WillReturnError(errUniqueViolation)

			conflict, err := store.InsertAction(ctx, &types.Action{ID: "act-1", IncidentID: "inc-1", Status: types.ActionStatusPending})
			Expect(err).ToNot(HaveOccurred())
			Expect(conflict).To(BeTrue())
		})
	})
})
