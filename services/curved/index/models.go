package index

import (
	"time"

	"github.com/google/uuid"
)

// Trade is one committed curve trade.
type Trade struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Seq          uint64    `gorm:"uniqueIndex;not null" json:"seq"`
	Nonce        uint64    `gorm:"not null;default:0" json:"nonce"`
	Asset        string    `gorm:"size:42;index:idx_trades_asset_seq,priority:1;not null" json:"asset"`
	Trader       string    `gorm:"size:42;index;not null" json:"trader"`
	Side         string    `gorm:"size:8;not null" json:"side"`
	Input        uint64    `gorm:"not null" json:"input"`
	Output       uint64    `gorm:"not null" json:"output"`
	Fee          uint64    `gorm:"not null" json:"fee"`
	VirtualBase  uint64    `json:"virtualBase"`
	VirtualToken uint64    `json:"virtualToken"`
	RealBase     uint64    `json:"realBase"`
	RealToken    uint64    `json:"realToken"`
	Timestamp    int64     `gorm:"index:idx_trades_asset_seq,priority:2" json:"timestamp"`
	CreatedAt    time.Time `json:"createdAt"`
}

// CurveSnapshot keeps the latest reserves observed for each curve.
type CurveSnapshot struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Asset        string    `gorm:"size:42;uniqueIndex;not null" json:"asset"`
	Creator      string    `gorm:"size:42;index" json:"creator"`
	Name         string    `gorm:"size:64" json:"name"`
	Symbol       string    `gorm:"size:16;index" json:"symbol"`
	URI          string    `gorm:"size:256" json:"uri"`
	VirtualBase  uint64    `json:"virtualBase"`
	VirtualToken uint64    `json:"virtualToken"`
	RealBase     uint64    `json:"realBase"`
	RealToken    uint64    `json:"realToken"`
	TradeCount   uint64    `json:"tradeCount"`
	Nonce        uint64    `gorm:"not null;default:0" json:"nonce"`
	Graduated    bool      `gorm:"index" json:"graduated"`
	GraduatedAt  int64     `json:"graduatedAt"`
	CurveCreated int64     `json:"curveCreated"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
