package index

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"launchpad/core/events"
	"launchpad/native/curve"
)

// ErrNotFound is returned when no snapshot exists for an asset.
var ErrNotFound = errors.New("index: not found")

const maxPageSize = 500

// Index persists committed trades for history queries and exports. It is an
// events.Emitter so it can sit behind the curve engine.
type Index struct {
	db     *gorm.DB
	logger *slog.Logger

	mu      sync.Mutex
	seq     uint64
	archive string
}

// Open connects to the DSN. postgres:// and postgresql:// URLs use the
// postgres driver; anything else is treated as a sqlite DSN.
func Open(dsn string, logger *slog.Logger) (*Index, error) {
	var dialector gorm.Dialector
	lowered := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lowered, "postgres://") || strings.HasPrefix(lowered, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("index: open: %w", err)
	}
	return New(db, logger)
}

// New migrates the schema on db and returns an index backed by it.
func New(db *gorm.DB, logger *slog.Logger) (*Index, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(&Trade{}, &CurveSnapshot{}); err != nil {
		return nil, fmt.Errorf("index: migrate: %w", err)
	}
	var last struct{ Max uint64 }
	if err := db.Model(&Trade{}).Select("COALESCE(MAX(seq), 0) AS max").Scan(&last).Error; err != nil {
		return nil, fmt.Errorf("index: load sequence: %w", err)
	}
	return &Index{db: db, logger: logger.With("component", "index"), seq: last.Max}, nil
}

// SetArchiveDir enables parquet archives of curves as they graduate.
func (i *Index) SetArchiveDir(dir string) {
	i.mu.Lock()
	i.archive = strings.TrimSpace(dir)
	i.mu.Unlock()
}

func (i *Index) archiveDir() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.archive
}

// Emit implements events.Emitter. Persistence failures are logged; the
// ledger remains the source of truth.
func (i *Index) Emit(evt events.Event) {
	var err error
	switch e := evt.(type) {
	case curve.CurveCreated:
		err = i.SaveSnapshot(e.Curve)
	case curve.Trade:
		err = i.RecordTrade(e)
	case curve.CurveGraduated:
		var (
			path string
			rows int
		)
		path, rows, err = i.Archive(e.Asset)
		if err == nil && path != "" {
			i.logger.Info("graduated curve archived", "asset", e.Asset.Hex(), "path", path, "trades", rows)
		}
	}
	if err != nil {
		i.logger.Error("index write failed", "type", evt.EventType(), "error", err)
	}
}

// RecordTrade stores the trade and refreshes the curve snapshot in one
// transaction.
func (i *Index) RecordTrade(t curve.Trade) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	c := t.Curve
	if c == nil {
		return fmt.Errorf("index: trade without curve state")
	}
	row := Trade{
		ID:           uuid.New(),
		Seq:          i.seq + 1,
		Nonce:        t.Nonce,
		Asset:        t.Asset.Hex(),
		Trader:       t.Trader.Hex(),
		Side:         string(t.Side),
		Input:        t.Input,
		Output:       t.Output,
		Fee:          t.Fee,
		VirtualBase:  c.VirtualBase,
		VirtualToken: c.VirtualToken,
		RealBase:     c.RealBase,
		RealToken:    c.RealToken,
		Timestamp:    t.Timestamp,
	}
	err := i.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if err := upsertSnapshot(tx, c); err != nil {
			return err
		}
		return tx.Model(&CurveSnapshot{}).Where("asset = ?", row.Asset).
			UpdateColumn("trade_count", gorm.Expr("trade_count + 1")).Error
	})
	if err != nil {
		return fmt.Errorf("index: record trade: %w", err)
	}
	i.seq = row.Seq
	return nil
}

// SaveSnapshot stores or refreshes the latest view of a curve.
func (i *Index) SaveSnapshot(c *curve.Curve) error {
	if c == nil {
		return fmt.Errorf("index: nil curve")
	}
	if err := upsertSnapshot(i.db, c); err != nil {
		return fmt.Errorf("index: save snapshot: %w", err)
	}
	return nil
}

func upsertSnapshot(db *gorm.DB, c *curve.Curve) error {
	snap := CurveSnapshot{
		ID:           uuid.New(),
		Asset:        c.Asset.Hex(),
		Creator:      c.Creator.Hex(),
		Name:         c.Name,
		Symbol:       c.Symbol,
		URI:          c.URI,
		VirtualBase:  c.VirtualBase,
		VirtualToken: c.VirtualToken,
		RealBase:     c.RealBase,
		RealToken:    c.RealToken,
		Graduated:    c.Graduated,
		GraduatedAt:  c.GraduatedAt,
		CurveCreated: c.CreatedAt,
		Nonce:        c.Nonce,
	}
	// A snapshot older than the stored one never replaces it.
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "asset"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"virtual_base", "virtual_token", "real_base", "real_token",
			"graduated", "graduated_at", "nonce", "updated_at",
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "curve_snapshots.nonce <= excluded.nonce"},
		}},
	}).Create(&snap).Error
}

// Snapshot returns the stored view of a curve.
func (i *Index) Snapshot(asset common.Address) (*CurveSnapshot, error) {
	var snap CurveSnapshot
	err := i.db.Where("asset = ?", asset.Hex()).First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// Page bounds a history query.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) normalise() Page {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Limit > maxPageSize {
		p.Limit = maxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// Trades lists the asset's trades newest first along with the total count.
func (i *Index) Trades(asset common.Address, page Page) ([]Trade, int64, error) {
	return i.list(i.db.Model(&Trade{}).Where("asset = ?", asset.Hex()), page)
}

// TradesByTrader lists the account's trades across all curves, newest first.
func (i *Index) TradesByTrader(trader common.Address, page Page) ([]Trade, int64, error) {
	return i.list(i.db.Model(&Trade{}).Where("trader = ?", trader.Hex()), page)
}

func (i *Index) list(query *gorm.DB, page Page) ([]Trade, int64, error) {
	page = page.normalise()
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []Trade
	err := query.Order("seq DESC").Limit(page.Limit).Offset(page.Offset).Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// Close releases the database handle.
func (i *Index) Close() error {
	sqlDB, err := i.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
