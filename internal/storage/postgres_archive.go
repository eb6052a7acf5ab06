package storage

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/driver-agent/internal/models"
)

// RideArchive persists historical rides pulled from the earnings feed.
type RideArchive interface {
	SaveRide(ctx context.Context, r models.RideRecord) error
}

// PostgresArchive writes ride history into Postgres. Optional; the
// agent runs without it when no DSN is configured.
type PostgresArchive struct {
	db *sql.DB
}

func NewPostgresArchive(dsn string) (*PostgresArchive, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresArchive{db: db}, nil
}

func (p *PostgresArchive) SaveRide(ctx context.Context, r models.RideRecord) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO ride_history(id, status, fare, pickup_addr, dropoff_addr, requested_at, archived_at)
		VALUES($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, fare=EXCLUDED.fare, archived_at=EXCLUDED.archived_at`,
		r.ID, r.Status, r.Total(), r.PickupAddr, r.DropoffAddr, r.RequestedAt, time.Now())
	return err
}

func (p *PostgresArchive) Close() error { return p.db.Close() }
