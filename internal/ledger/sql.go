package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"carrera-bot/internal/models"
)

const mysqlSchema = `CREATE TABLE IF NOT EXISTS carrera_purchases (
	transaction_id VARCHAR(64) NOT NULL PRIMARY KEY,
	method         VARCHAR(16) NOT NULL,
	contact_name   VARCHAR(255) NOT NULL,
	email          VARCHAR(255) NOT NULL,
	address        VARCHAR(255) NOT NULL,
	quantity       INT NOT NULL,
	total          INT NOT NULL,
	participants   TEXT NOT NULL,
	status         VARCHAR(16) NOT NULL,
	created_at     VARCHAR(40) NOT NULL
)`

// SQL is a MySQL-backed ledger.
type SQL struct {
	db *sql.DB
}

// OpenMySQL connects with a go-sql-driver DSN and makes sure the table exists.
func OpenMySQL(ctx context.Context, dsn string) (*SQL, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	l := NewSQL(db)
	if err := l.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func NewSQL(db *sql.DB) *SQL { return &SQL{db: db} }

func (l *SQL) Migrate(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, mysqlSchema); err != nil {
		return fmt.Errorf("create ledger table: %w", err)
	}
	return nil
}

func (l *SQL) Record(ctx context.Context, e models.LedgerEntry) error {
	ps, err := json.Marshal(e.Participants)
	if err != nil {
		return fmt.Errorf("encode participants: %w", err)
	}
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO carrera_purchases
			(transaction_id, method, contact_name, email, address, quantity, total, participants, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE status = VALUES(status)`,
		e.TransactionID, e.Method.String(), e.ContactName, e.Email, e.Address,
		e.Quantity, e.Total, string(ps), e.Status, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert purchase %s: %w", e.TransactionID, err)
	}
	return nil
}

func (l *SQL) UpdateStatus(ctx context.Context, txID, status string) error {
	res, err := l.db.ExecContext(ctx,
		`UPDATE carrera_purchases SET status = ? WHERE transaction_id = ?`, status, txID)
	if err != nil {
		return fmt.Errorf("update purchase %s: %w", txID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update purchase %s: %w", txID, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (l *SQL) List(ctx context.Context) ([]models.LedgerEntry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT transaction_id, method, contact_name, email, address, quantity, total, participants, status, created_at
		FROM carrera_purchases ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()

	var out []models.LedgerEntry
	for rows.Next() {
		var (
			e      models.LedgerEntry
			method string
			ps     string
		)
		if err := rows.Scan(&e.TransactionID, &method, &e.ContactName, &e.Email, &e.Address,
			&e.Quantity, &e.Total, &ps, &e.Status, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		e.Method = ParseMethod(method)
		if ps != "" {
			if err := json.Unmarshal([]byte(ps), &e.Participants); err != nil {
				return nil, fmt.Errorf("decode participants of %s: %w", e.TransactionID, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (l *SQL) Close() error { return l.db.Close() }

// ParseMethod reverses PaymentMethod.String.
func ParseMethod(s string) models.PaymentMethod {
	switch s {
	case "card":
		return models.MethodCard
	case "qr":
		return models.MethodAlternateQR
	default:
		return 0
	}
}
