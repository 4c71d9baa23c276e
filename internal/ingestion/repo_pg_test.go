package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var requestRowColumns = []string{"request_id", "case_id", "status", "error_code", "error_message", "created_at", "updated_at"}

func TestPGRepoSetStatusKeepsTerminalStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	repo := &PGRepo{DB: db}
	now := time.Now().UTC()

	mock.ExpectQuery(`UPDATE ingestion_requests SET status = \$2`).
		WithArgs("req-1", "failed", "timeout", "late").
		WillReturnRows(sqlmock.NewRows(requestRowColumns))
	mock.ExpectQuery(`SELECT (.+) FROM ingestion_requests WHERE request_id = \$1`).
		WithArgs("req-1").
		WillReturnRows(sqlmock.NewRows(requestRowColumns).
			AddRow("req-1", "case-1", "completed", nil, nil, now, now))

	req, err := repo.SetStatus(context.Background(), "req-1", StatusFailed, "timeout", "late")
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if req.Status != StatusCompleted || req.ErrorCode != "" {
		t.Fatalf("terminal status overwritten: %+v", req)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoGetMissingRequest(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	repo := &PGRepo{DB: db}

	mock.ExpectQuery(`SELECT (.+) FROM ingestion_requests`).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(requestRowColumns))

	if _, err := repo.Get(context.Background(), "nope"); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("expected ErrRequestNotFound, got %v", err)
	}
}

func TestPGRepoCreateIgnoresExisting(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	repo := &PGRepo{DB: db}
	now := time.Now().UTC()

	mock.ExpectExec(`INSERT INTO ingestion_requests (.+) ON CONFLICT \(request_id\) DO NOTHING`).
		WithArgs("req-1", "case-1", "pending", nil, nil, now, now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.Create(context.Background(), Request{RequestID: "req-1", CaseID: "case-1", Status: StatusPending, CreatedAt: now, UpdatedAt: now})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}
