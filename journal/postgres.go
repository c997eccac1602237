package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rustyeddy/autotrader/order"
	"github.com/rustyeddy/autotrader/position"
)

const (
	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"
)

// PostgresOption defines connection options for the Postgres journal.
type PostgresOption struct {
	Host       string            `yaml:"host" json:"host"`
	Port       int               `yaml:"port" json:"port"`
	User       string            `yaml:"user" json:"user"`
	Password   string            `yaml:"-" json:"-"`
	Database   string            `yaml:"database" json:"database"`
	SSLMode    string            `yaml:"sslmode" json:"sslmode"`
	Params     map[string]string `yaml:"params" json:"params"`
	ConnString string            `yaml:"-" json:"-"`
	Config     *gorm.Config      `yaml:"-" json:"-"`
}

func (opt PostgresOption) dsn() string {
	if opt.ConnString != "" {
		return opt.ConnString
	}

	host := opt.Host
	if host == "" {
		host = defaultPostgresHost
	}
	port := opt.Port
	if port == 0 {
		port = defaultPostgresPort
	}
	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultPostgresSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}
	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}
	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	for key, value := range opt.Params {
		if key == "" {
			continue
		}
		query.Set(key, value)
	}
	u.RawQuery = query.Encode()

	return u.String()
}

type pgPosition struct {
	Symbol       string          `gorm:"type:varchar(16);primaryKey"`
	Qty          decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	EntryPrice   decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	EntryTime    time.Time       `gorm:"type:timestamptz;not null"`
	StopLoss     decimal.Decimal `gorm:"type:numeric(30,10)"`
	TakeProfit   decimal.Decimal `gorm:"type:numeric(30,10)"`
	TrailingPct  decimal.Decimal `gorm:"type:numeric(20,10)"`
	TrailingStop decimal.Decimal `gorm:"type:numeric(30,10)"`
	HighestPrice decimal.Decimal `gorm:"type:numeric(30,10)"`
	MaxHold      int64
	CurrentPrice decimal.Decimal `gorm:"type:numeric(30,10)"`
	RealizedPL   decimal.Decimal `gorm:"column:realized_pl;type:numeric(30,10)"`
	Fees         decimal.Decimal `gorm:"type:numeric(30,10)"`
	SignalID     string          `gorm:"type:varchar(64)"`
	UpdatedAt    time.Time       `gorm:"type:timestamptz"`
}

func (pgPosition) TableName() string { return "positions" }

type pgOrder struct {
	OrderID     string          `gorm:"type:varchar(32);primaryKey"`
	BrokerID    string          `gorm:"type:varchar(64)"`
	Symbol      string          `gorm:"type:varchar(16);not null;index"`
	Side        string          `gorm:"type:varchar(8);not null"`
	Kind        string          `gorm:"type:varchar(8);not null"`
	Qty         decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Status      string          `gorm:"type:varchar(20);not null;index"`
	LimitPrice  decimal.Decimal `gorm:"type:numeric(30,10)"`
	StopPrice   decimal.Decimal `gorm:"type:numeric(30,10)"`
	FilledQty   decimal.Decimal `gorm:"type:numeric(30,10)"`
	FilledPrice decimal.Decimal `gorm:"type:numeric(30,10)"`
	Commission  decimal.Decimal `gorm:"type:numeric(30,10)"`
	SignalID    string          `gorm:"type:varchar(64)"`
	Reason      string          `gorm:"type:text"`
	CreatedAt   time.Time       `gorm:"type:timestamptz"`
	UpdatedAt   time.Time       `gorm:"type:timestamptz"`
}

func (pgOrder) TableName() string { return "orders" }

type pgTrade struct {
	TradeID    string          `gorm:"type:varchar(32);primaryKey"`
	Symbol     string          `gorm:"type:varchar(16);not null;index"`
	Qty        decimal.Decimal `gorm:"type:numeric(30,10)"`
	EntryPrice decimal.Decimal `gorm:"type:numeric(30,10)"`
	ExitPrice  decimal.Decimal `gorm:"type:numeric(30,10)"`
	OpenTime   time.Time       `gorm:"type:timestamptz"`
	CloseTime  time.Time       `gorm:"type:timestamptz;index"`
	RealizedPL decimal.Decimal `gorm:"column:realized_pl;type:numeric(30,10)"`
	Fees       decimal.Decimal `gorm:"type:numeric(30,10)"`
	Reason     string          `gorm:"type:varchar(32)"`
	SignalID   string          `gorm:"type:varchar(64)"`
	Mode       string          `gorm:"type:varchar(8)"`
	Meta       datatypes.JSON  `gorm:"type:jsonb"`
}

func (pgTrade) TableName() string { return "trades" }

type pgEquity struct {
	ID            uint64          `gorm:"primaryKey;autoIncrement"`
	Time          time.Time       `gorm:"type:timestamptz;not null;index"`
	Cash          decimal.Decimal `gorm:"type:numeric(30,10)"`
	Equity        decimal.Decimal `gorm:"type:numeric(30,10)"`
	RealizedPL    decimal.Decimal `gorm:"column:realized_pl;type:numeric(30,10)"`
	UnrealizedPL  decimal.Decimal `gorm:"column:unrealized_pl;type:numeric(30,10)"`
	DrawdownPct   decimal.Decimal `gorm:"type:numeric(20,10)"`
	OpenPositions int
}

func (pgEquity) TableName() string { return "equity" }

type pgRiskState struct {
	ID                 int             `gorm:"primaryKey;autoIncrement:false"`
	Day                string          `gorm:"type:varchar(10);not null"`
	SessionStartEquity decimal.Decimal `gorm:"type:numeric(30,10)"`
	DayStartEquity     decimal.Decimal `gorm:"type:numeric(30,10)"`
	PeakEquity         decimal.Decimal `gorm:"type:numeric(30,10)"`
	RealizedPL         decimal.Decimal `gorm:"column:realized_pl;type:numeric(30,10)"`
	ConsecutiveLosses  int
	Halted             bool
	HaltReason         string         `gorm:"type:varchar(32)"`
	HaltedAt           *time.Time     `gorm:"type:timestamptz"`
	Cooldown           datatypes.JSON `gorm:"type:jsonb"`
	PendingExits       datatypes.JSON `gorm:"type:jsonb"`
	UpdatedAt          time.Time      `gorm:"type:timestamptz"`
}

func (pgRiskState) TableName() string { return "risk_state" }

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func riskModel(r RiskRecord) (pgRiskState, error) {
	cd, err := json.Marshal(r.Cooldown)
	if err != nil {
		return pgRiskState{}, err
	}
	pending, err := json.Marshal(r.PendingExits)
	if err != nil {
		return pgRiskState{}, err
	}
	m := pgRiskState{
		ID:                 1,
		Day:                r.Day,
		SessionStartEquity: dec(r.SessionStartEquity),
		DayStartEquity:     dec(r.DayStartEquity),
		PeakEquity:         dec(r.PeakEquity),
		RealizedPL:         dec(r.RealizedPL),
		ConsecutiveLosses:  r.ConsecutiveLosses,
		Halted:             r.Halted,
		HaltReason:         r.HaltReason,
		Cooldown:           datatypes.JSON(cd),
		PendingExits:       datatypes.JSON(pending),
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
	if !r.HaltedAt.IsZero() {
		at := r.HaltedAt.UTC()
		m.HaltedAt = &at
	}
	return m, nil
}

func (m pgRiskState) record() (RiskRecord, error) {
	r := RiskRecord{
		Day:                m.Day,
		SessionStartEquity: m.SessionStartEquity.InexactFloat64(),
		DayStartEquity:     m.DayStartEquity.InexactFloat64(),
		PeakEquity:         m.PeakEquity.InexactFloat64(),
		RealizedPL:         m.RealizedPL.InexactFloat64(),
		ConsecutiveLosses:  m.ConsecutiveLosses,
		Halted:             m.Halted,
		HaltReason:         m.HaltReason,
		UpdatedAt:          m.UpdatedAt,
	}
	if m.HaltedAt != nil {
		r.HaltedAt = *m.HaltedAt
	}
	if len(m.Cooldown) > 0 {
		if err := json.Unmarshal(m.Cooldown, &r.Cooldown); err != nil {
			return RiskRecord{}, fmt.Errorf("risk state cooldown: %w", err)
		}
	}
	if len(m.PendingExits) > 0 {
		if err := json.Unmarshal(m.PendingExits, &r.PendingExits); err != nil {
			return RiskRecord{}, fmt.Errorf("risk state pending exits: %w", err)
		}
	}
	return r, nil
}

func positionModel(p position.Position) pgPosition {
	updated := p.UpdatedAt
	if updated.IsZero() {
		updated = p.EntryTime
	}
	return pgPosition{
		Symbol:       p.Symbol,
		Qty:          dec(p.Qty),
		EntryPrice:   dec(p.EntryPrice),
		EntryTime:    p.EntryTime.UTC(),
		StopLoss:     dec(p.StopLoss),
		TakeProfit:   dec(p.TakeProfit),
		TrailingPct:  dec(p.TrailingPct),
		TrailingStop: dec(p.TrailingStop),
		HighestPrice: dec(p.HighestPrice),
		MaxHold:      int64(p.MaxHold),
		CurrentPrice: dec(p.CurrentPrice),
		RealizedPL:   dec(p.RealizedPL),
		Fees:         dec(p.Fees),
		SignalID:     p.SignalID,
		UpdatedAt:    updated.UTC(),
	}
}

func (m pgPosition) position() position.Position {
	return position.Position{
		Symbol:       m.Symbol,
		Qty:          m.Qty.InexactFloat64(),
		EntryPrice:   m.EntryPrice.InexactFloat64(),
		EntryTime:    m.EntryTime,
		StopLoss:     m.StopLoss.InexactFloat64(),
		TakeProfit:   m.TakeProfit.InexactFloat64(),
		TrailingPct:  m.TrailingPct.InexactFloat64(),
		TrailingStop: m.TrailingStop.InexactFloat64(),
		HighestPrice: m.HighestPrice.InexactFloat64(),
		MaxHold:      time.Duration(m.MaxHold),
		CurrentPrice: m.CurrentPrice.InexactFloat64(),
		RealizedPL:   m.RealizedPL.InexactFloat64(),
		Fees:         m.Fees.InexactFloat64(),
		SignalID:     m.SignalID,
		UpdatedAt:    m.UpdatedAt,
	}
}

func orderModel(o order.Order) pgOrder {
	updated := o.ClosedAt
	if updated.IsZero() {
		updated = o.SubmittedAt
	}
	if updated.IsZero() {
		updated = o.CreatedAt
	}
	return pgOrder{
		OrderID:     o.ID,
		BrokerID:    o.BrokerID,
		Symbol:      o.Symbol,
		Side:        string(o.Side),
		Kind:        string(o.Kind),
		Qty:         dec(o.Qty),
		Status:      string(o.Status),
		LimitPrice:  dec(o.LimitPrice),
		StopPrice:   dec(o.StopPrice),
		FilledQty:   dec(o.FilledQty),
		FilledPrice: dec(o.FilledPrice),
		Commission:  dec(o.Commission),
		SignalID:    o.SignalID,
		Reason:      o.Reason,
		CreatedAt:   o.CreatedAt.UTC(),
		UpdatedAt:   updated.UTC(),
	}
}

func tradeModel(t TradeRecord) (pgTrade, error) {
	meta := datatypes.JSON("{}")
	if len(t.Meta) > 0 {
		b, err := json.Marshal(t.Meta)
		if err != nil {
			return pgTrade{}, err
		}
		meta = datatypes.JSON(b)
	}
	return pgTrade{
		TradeID:    t.TradeID,
		Symbol:     t.Symbol,
		Qty:        dec(t.Qty),
		EntryPrice: dec(t.EntryPrice),
		ExitPrice:  dec(t.ExitPrice),
		OpenTime:   t.OpenTime.UTC(),
		CloseTime:  t.CloseTime.UTC(),
		RealizedPL: dec(t.RealizedPL),
		Fees:       dec(t.Fees),
		Reason:     t.Reason,
		SignalID:   t.SignalID,
		Mode:       t.Mode,
		Meta:       meta,
	}, nil
}

func (m pgTrade) record() (TradeRecord, error) {
	rec := TradeRecord{
		TradeID:    m.TradeID,
		Symbol:     m.Symbol,
		Qty:        m.Qty.InexactFloat64(),
		EntryPrice: m.EntryPrice.InexactFloat64(),
		ExitPrice:  m.ExitPrice.InexactFloat64(),
		OpenTime:   m.OpenTime,
		CloseTime:  m.CloseTime,
		RealizedPL: m.RealizedPL.InexactFloat64(),
		Fees:       m.Fees.InexactFloat64(),
		Reason:     m.Reason,
		SignalID:   m.SignalID,
		Mode:       m.Mode,
	}
	if len(m.Meta) > 0 && string(m.Meta) != "{}" {
		if err := json.Unmarshal(m.Meta, &rec.Meta); err != nil {
			return TradeRecord{}, fmt.Errorf("trade %s meta: %w", m.TradeID, err)
		}
	}
	return rec, nil
}

func equityModel(e EquitySnapshot) pgEquity {
	return pgEquity{
		Time:          e.Time.UTC(),
		Cash:          dec(e.Cash),
		Equity:        dec(e.Equity),
		RealizedPL:    dec(e.RealizedPL),
		UnrealizedPL:  dec(e.UnrealizedPL),
		DrawdownPct:   dec(e.DrawdownPct),
		OpenPositions: e.OpenPositions,
	}
}

func (m pgEquity) snapshot() EquitySnapshot {
	return EquitySnapshot{
		Time:          m.Time,
		Cash:          m.Cash.InexactFloat64(),
		Equity:        m.Equity.InexactFloat64(),
		RealizedPL:    m.RealizedPL.InexactFloat64(),
		UnrealizedPL:  m.UnrealizedPL.InexactFloat64(),
		DrawdownPct:   m.DrawdownPct.InexactFloat64(),
		OpenPositions: m.OpenPositions,
	}
}

// Postgres is a Repository backed by gorm. Money columns are numeric so
// the curve can be aggregated in SQL without float drift.
type Postgres struct {
	db *gorm.DB
}

func NewPostgres(opt PostgresOption) (*Postgres, error) {
	config := opt.Config
	if config == nil {
		config = &gorm.Config{}
	}

	db, err := gorm.Open(postgres.Open(opt.dsn()), config)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&pgPosition{}, &pgOrder{}, &pgTrade{}, &pgEquity{}, &pgRiskState{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) SavePosition(ctx context.Context, pos position.Position) error {
	m := positionModel(pos)
	return p.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "symbol"}}, UpdateAll: true}).
		Create(&m).Error
}

func (p *Postgres) DeletePosition(ctx context.Context, symbol string) error {
	return p.db.WithContext(ctx).Delete(&pgPosition{}, "symbol = ?", symbol).Error
}

func (p *Postgres) LoadOpenPositions(ctx context.Context) ([]position.Position, error) {
	var rows []pgPosition
	if err := p.db.WithContext(ctx).Order("symbol").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]position.Position, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.position())
	}
	return out, nil
}

func (p *Postgres) SaveOrder(ctx context.Context, o order.Order) error {
	m := orderModel(o)
	return p.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "order_id"}}, UpdateAll: true}).
		Create(&m).Error
}

func (p *Postgres) AppendTradeHistory(ctx context.Context, t TradeRecord) error {
	m, err := tradeModel(t)
	if err != nil {
		return err
	}
	return p.db.WithContext(ctx).Create(&m).Error
}

func (p *Postgres) RecordEquity(ctx context.Context, e EquitySnapshot) error {
	m := equityModel(e)
	return p.db.WithContext(ctx).Create(&m).Error
}

func (p *Postgres) LastEquity(ctx context.Context) (EquitySnapshot, error) {
	var m pgEquity
	err := p.db.WithContext(ctx).Order("time DESC").Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return EquitySnapshot{}, ErrNotFound
	}
	if err != nil {
		return EquitySnapshot{}, err
	}
	return m.snapshot(), nil
}

func (p *Postgres) SaveRiskState(ctx context.Context, r RiskRecord) error {
	m, err := riskModel(r)
	if err != nil {
		return err
	}
	return p.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, UpdateAll: true}).
		Create(&m).Error
}

func (p *Postgres) LoadRiskState(ctx context.Context) (RiskRecord, error) {
	var m pgRiskState
	err := p.db.WithContext(ctx).Where("id = ?", 1).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RiskRecord{}, ErrNotFound
	}
	if err != nil {
		return RiskRecord{}, err
	}
	return m.record()
}

func (p *Postgres) GetTrade(ctx context.Context, tradeID string) (TradeRecord, error) {
	var m pgTrade
	err := p.db.WithContext(ctx).Where("trade_id = ?", tradeID).Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return TradeRecord{}, fmt.Errorf("trade %q: %w", tradeID, ErrNotFound)
	}
	if err != nil {
		return TradeRecord{}, err
	}
	return m.record()
}

func (p *Postgres) ListTradesClosedBetween(ctx context.Context, start, end time.Time) ([]TradeRecord, error) {
	var rows []pgTrade
	err := p.db.WithContext(ctx).
		Where("close_time >= ? AND close_time < ?", start.UTC(), end.UTC()).
		Order("close_time ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]TradeRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := r.record()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
