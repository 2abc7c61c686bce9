package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/liamashdown/walletsentinel/internal/activity"
	"github.com/liamashdown/walletsentinel/internal/baseline"
	"github.com/liamashdown/walletsentinel/internal/config"
	"github.com/liamashdown/walletsentinel/internal/metrics"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// DB wraps the GORM database connection
type DB struct {
	conn *gorm.DB
	log  *logrus.Logger
}

// Dialector picks the GORM driver for the configured database
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	switch strings.ToLower(driver) {
	case "", "mysql":
		return mysql.Open(dsn), nil
	case "postgres", "postgresql":
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// New creates a new database connection with GORM
func New(cfg *config.Config, log *logrus.Logger) (*DB, error) {
	gormLogger := logger.New(
		&gormLogAdapter{log: log},
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	dialector, err := Dialector(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	conn, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.DatabaseMaxConns)
	sqlDB.SetMaxIdleConns(cfg.DatabaseMaxConns / 2)
	sqlDB.SetConnMaxIdleTime(cfg.DatabaseMaxIdleTime)

	db := &DB{conn: conn, log: log}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.Ping(ctx); err != nil {
		return nil, err
	}

	log.WithField("driver", cfg.DatabaseDriver).Info("Database connection established")
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	sqlDB, err := db.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping verifies the connection is usable
func (db *DB) Ping(ctx context.Context) error {
	sqlDB, err := db.conn.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// AutoMigrate runs GORM auto-migration (for development only)
func (db *DB) AutoMigrate() error {
	return db.conn.AutoMigrate(
		&AppState{},
		&Wallet{},
		&Trade{},
		&Deposit{},
		&Market{},
		&MarketVolumeSample{},
		&Alert{},
		&FundingSnapshot{},
		&ClusterSnapshot{},
		&WalletCoordination{},
		&BaselineSnapshot{},
	)
}

// observe records query metrics and wraps a failure with the operation name
func observe(op string, start time.Time, err error) error {
	metrics.RecordDatabaseQuery(op, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetState retrieves a state value by key
func (db *DB) GetState(ctx context.Context, key string) (string, error) {
	start := time.Now()
	var state AppState
	err := db.conn.WithContext(ctx).Where("state_key = ?", key).First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", observe("get_state", start, nil)
	}
	if err != nil {
		return "", observe("get_state", start, err)
	}
	return state.StateValue, observe("get_state", start, nil)
}

// SetState sets a state value
func (db *DB) SetState(ctx context.Context, key, value string) error {
	start := time.Now()
	state := AppState{
		StateKey:   key,
		StateValue: value,
		UpdatedTS:  time.Now().Unix(),
	}
	return observe("set_state", start, db.conn.WithContext(ctx).Save(&state).Error)
}

// ActiveWallets returns wallets with activity at or after since, most recent
// first, capped at limit when limit is positive
func (db *DB) ActiveWallets(ctx context.Context, since time.Time, limit int) ([]activity.Wallet, error) {
	start := time.Now()
	q := db.conn.WithContext(ctx).
		Where("last_activity_ts >= ?", since.Unix()).
		Order("last_activity_ts DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []Wallet
	if err := q.Find(&rows).Error; err != nil {
		return nil, observe("active_wallets", start, err)
	}
	out := make([]activity.Wallet, len(rows))
	for i, r := range rows {
		out[i] = r.ToActivity()
	}
	return out, observe("active_wallets", start, nil)
}

// TradesForWallets returns every trade of the given wallets in time order
func (db *DB) TradesForWallets(ctx context.Context, wallets []string) ([]activity.Trade, error) {
	if len(wallets) == 0 {
		return nil, nil
	}
	start := time.Now()
	var rows []Trade
	err := db.conn.WithContext(ctx).
		Where("wallet_address IN ?", wallets).
		Order("timestamp_sec ASC").
		Find(&rows).Error
	if err != nil {
		return nil, observe("trades_for_wallets", start, err)
	}
	out := make([]activity.Trade, len(rows))
	for i, r := range rows {
		out[i] = r.ToActivity()
	}
	return out, observe("trades_for_wallets", start, nil)
}

// DepositsForWallets returns every deposit into the given wallets in time order
func (db *DB) DepositsForWallets(ctx context.Context, wallets []string) ([]activity.Deposit, error) {
	if len(wallets) == 0 {
		return nil, nil
	}
	start := time.Now()
	var rows []Deposit
	err := db.conn.WithContext(ctx).
		Where("to_address IN ?", wallets).
		Order("timestamp_sec ASC").
		Find(&rows).Error
	if err != nil {
		return nil, observe("deposits_for_wallets", start, err)
	}
	out := make([]activity.Deposit, len(rows))
	for i, r := range rows {
		out[i] = r.ToActivity()
	}
	return out, observe("deposits_for_wallets", start, nil)
}

// Markets returns metadata for the given condition ids. Unknown ids are omitted.
func (db *DB) Markets(ctx context.Context, ids []string) ([]baseline.Market, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	start := time.Now()
	var rows []Market
	if err := db.conn.WithContext(ctx).Where("condition_id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, observe("markets", start, err)
	}
	out := make([]baseline.Market, len(rows))
	for i, r := range rows {
		m := baseline.Market{
			ID:               r.ConditionID,
			Question:         r.Question,
			Slug:             r.MarketSlug,
			Category:         r.Category,
			CurrentVolume:    r.VolumeNum,
			CurrentLiquidity: r.LiquidityNum,
		}
		if r.CreatedTS > 0 {
			m.CreatedAt = time.Unix(r.CreatedTS, 0).UTC()
		}
		out[i] = m
	}
	return out, observe("markets", start, nil)
}

// VolumeSamples returns the volume observations of a market at or after since
func (db *DB) VolumeSamples(ctx context.Context, marketID string, since time.Time) ([]activity.VolumeSample, error) {
	start := time.Now()
	var rows []MarketVolumeSample
	err := db.conn.WithContext(ctx).
		Where("condition_id = ? AND bucket_ts >= ?", marketID, since.Unix()).
		Order("bucket_ts ASC").
		Find(&rows).Error
	if err != nil {
		return nil, observe("volume_samples", start, err)
	}
	out := make([]activity.VolumeSample, len(rows))
	for i, r := range rows {
		out[i] = activity.VolumeSample{
			Timestamp:  time.Unix(r.BucketTS, 0).UTC(),
			Volume:     r.VolumeUSD,
			TradeCount: r.TradeCount,
		}
	}
	return out, observe("volume_samples", start, nil)
}

// InsertAlert inserts a new alert record
func (db *DB) InsertAlert(ctx context.Context, alert *Alert) (int64, error) {
	start := time.Now()
	if err := db.conn.WithContext(ctx).Create(alert).Error; err != nil {
		return 0, observe("insert_alert", start, err)
	}
	return alert.ID, observe("insert_alert", start, nil)
}

// LastAlertAt returns when an alert of the given type was last raised for a
// subject, or the zero time if never
func (db *DB) LastAlertAt(ctx context.Context, alertType, subject string) (time.Time, error) {
	start := time.Now()
	var alert Alert
	err := db.conn.WithContext(ctx).
		Where("alert_type = ? AND subject = ?", alertType, subject).
		Order("created_ts DESC").
		First(&alert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, observe("last_alert", start, nil)
	}
	if err != nil {
		return time.Time{}, observe("last_alert", start, err)
	}
	return time.Unix(alert.CreatedTS, 0).UTC(), observe("last_alert", start, nil)
}

// SaveSnapshots upserts one cycle's analyzer output in a single transaction
func (db *DB) SaveSnapshots(ctx context.Context, s Snapshots) error {
	start := time.Now()
	err := db.conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upsert := func(rows any) error {
			return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(rows).Error
		}
		if len(s.Funding) > 0 {
			if err := upsert(&s.Funding); err != nil {
				return fmt.Errorf("funding snapshots: %w", err)
			}
		}
		if len(s.Clusters) > 0 {
			if err := upsert(&s.Clusters); err != nil {
				return fmt.Errorf("cluster snapshots: %w", err)
			}
		}
		if len(s.Coordination) > 0 {
			if err := upsert(&s.Coordination); err != nil {
				return fmt.Errorf("wallet coordination: %w", err)
			}
		}
		if len(s.Baselines) > 0 {
			if err := upsert(&s.Baselines); err != nil {
				return fmt.Errorf("baseline snapshots: %w", err)
			}
		}
		return nil
	})
	return observe("save_snapshots", start, err)
}

// gormLogAdapter adapts logrus to GORM's logger interface
type gormLogAdapter struct {
	log *logrus.Logger
}

func (l *gormLogAdapter) Printf(format string, args ...interface{}) {
	l.log.Debugf(format, args...)
}
