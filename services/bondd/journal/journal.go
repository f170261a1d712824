package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"dualbond/core/events"
)

// Record is one persisted bond event.
type Record struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Bond       string    `gorm:"size:42;index:idx_bond_created"`
	Type       string    `gorm:"size:64;index"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"index:idx_bond_created"`
}

// Entry is the decoded form of a record.
type Entry struct {
	ID         uuid.UUID         `json:"id"`
	Bond       string            `json:"bond"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  time.Time         `json:"createdAt"`
}

// Journal stores bond events in SQL. It implements events.Emitter.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ events.Emitter = (*Journal)(nil)

// Dialector picks the gorm driver for dsn: postgres URLs use the postgres
// driver, anything else is treated as a sqlite DSN.
func Dialector(dsn string) gorm.Dialector {
	trimmed := strings.TrimSpace(dsn)
	if strings.HasPrefix(trimmed, "postgres://") || strings.HasPrefix(trimmed, "postgresql://") {
		return postgres.Open(trimmed)
	}
	return sqlite.Open(trimmed)
}

// Open connects to dsn and migrates the schema.
func Open(dsn string, log *slog.Logger) (*Journal, error) {
	db, err := gorm.Open(Dialector(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	return New(db, log)
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, log *slog.Logger) (*Journal, error) {
	if db == nil {
		return nil, fmt.Errorf("journal: database required")
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Journal{db: db, logger: log, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close releases the underlying connection pool.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Append stores evt. Events that do not belong to a bond are rejected.
func (j *Journal) Append(ctx context.Context, evt events.Event) error {
	bondEvt, ok := evt.(events.BondEvent)
	if !ok {
		return fmt.Errorf("journal: unsupported event %T", evt)
	}
	rendered := bondEvt.Event()
	attrs, err := json.Marshal(rendered.Attributes)
	if err != nil {
		return fmt.Errorf("journal: encode attributes: %w", err)
	}
	record := Record{
		ID:         uuid.New(),
		Bond:       bondEvt.BondAddress().Hex(),
		Type:       rendered.Type,
		Attributes: string(attrs),
		CreatedAt:  j.now(),
	}
	if err := j.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("journal: insert: %w", err)
	}
	return nil
}

// Emit implements events.Emitter. Write failures are logged because emitters
// cannot fail the operation that produced the event.
func (j *Journal) Emit(evt events.Event) {
	if err := j.Append(context.Background(), evt); err != nil {
		j.logger.Error("journal append failed",
			slog.String("type", evt.EventType()),
			slog.Any("error", err))
	}
}

// List returns up to limit events of bond in insertion order, optionally
// filtered by type.
func (j *Journal) List(ctx context.Context, bond common.Address, eventType string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	return j.find(ctx, bond, eventType, limit)
}

// All returns every event of bond in insertion order.
func (j *Journal) All(ctx context.Context, bond common.Address, eventType string) ([]Entry, error) {
	return j.find(ctx, bond, eventType, -1)
}

func (j *Journal) find(ctx context.Context, bond common.Address, eventType string, limit int) ([]Entry, error) {
	query := j.db.WithContext(ctx).Where("bond = ?", bond.Hex())
	if eventType = strings.TrimSpace(eventType); eventType != "" {
		query = query.Where("type = ?", eventType)
	}
	var records []Record
	if err := query.Order("created_at asc").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("journal: list: %w", err)
	}
	out := make([]Entry, 0, len(records))
	for _, rec := range records {
		entry := Entry{ID: rec.ID, Bond: rec.Bond, Type: rec.Type, CreatedAt: rec.CreatedAt}
		if err := json.Unmarshal([]byte(rec.Attributes), &entry.Attributes); err != nil {
			return nil, fmt.Errorf("journal: decode %s: %w", rec.ID, err)
		}
		out = append(out, entry)
	}
	return out, nil
}
