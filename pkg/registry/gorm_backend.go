package registry

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"github.com/solaius/model-harvester/pkg/entity"
)

// JSONEntity is a GORM column type storing a whole entity as JSON.
type JSONEntity entity.Entity

// Scan implements the sql.Scanner interface for JSONEntity.
func (j *JSONEntity) Scan(value any) error {
	var bytes []byte
	switch v := value.(type) {
	case string:
		bytes = []byte(v)
	case []byte:
		bytes = v
	default:
		return fmt.Errorf("unsupported type for JSONEntity: %T", value)
	}
	return json.Unmarshal(bytes, (*entity.Entity)(j))
}

// GormDBDataType picks a column type large enough for any payload.
func (JSONEntity) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	if db.Dialector.Name() == "mysql" {
		return "LONGTEXT"
	}
	return "TEXT"
}

// Value implements the driver.Valuer interface for JSONEntity.
func (j JSONEntity) Value() (driver.Value, error) {
	b, err := json.Marshal(entity.Entity(j))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// EntityRecord is one registry row. The queryable columns mirror the payload.
type EntityRecord struct {
	ID               string     `gorm:"primaryKey;column:id;size:255"`
	Type             string     `gorm:"column:type;size:32;index:idx_registry_type_status,priority:1;not null"`
	Source           string     `gorm:"column:source;size:128;index;not null"`
	Status           string     `gorm:"column:status;size:32;index:idx_registry_type_status,priority:2;not null"`
	ComplianceStatus string     `gorm:"column:compliance_status;size:32"`
	Score            float64    `gorm:"column:fni_score;index"`
	LastSeenAt       time.Time  `gorm:"column:last_seen_at"`
	Payload          JSONEntity `gorm:"column:payload;not null"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName returns the GORM table name.
func (EntityRecord) TableName() string { return "registry_entities" }

func newEntityRecord(e *entity.Entity) EntityRecord {
	return EntityRecord{
		ID:               e.ID,
		Type:             string(e.Type),
		Source:           e.Source,
		Status:           string(e.Status),
		ComplianceStatus: string(e.ComplianceStatus),
		Score:            e.FNI.Score,
		LastSeenAt:       e.LastSeenAt,
		Payload:          JSONEntity(*e),
	}
}

// GormBackend stores the registry in a relational table.
type GormBackend struct {
	db        *gorm.DB
	batchSize int
}

// NewGormBackend creates a GormBackend. Call AutoMigrate before use.
func NewGormBackend(db *gorm.DB) *GormBackend {
	return &GormBackend{db: db, batchSize: 500}
}

// AutoMigrate creates or updates the registry table.
func (b *GormBackend) AutoMigrate() error {
	if err := b.db.AutoMigrate(&EntityRecord{}); err != nil {
		return fmt.Errorf("auto-migrate registry_entities: %w", err)
	}
	return nil
}

func (b *GormBackend) LoadAll(ctx context.Context) ([]*entity.Entity, error) {
	var records []EntityRecord
	if err := b.db.WithContext(ctx).Order("id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("load registry entities: %w", err)
	}
	out := make([]*entity.Entity, 0, len(records))
	for i := range records {
		e := entity.Entity(records[i].Payload)
		out = append(out, &e)
	}
	return out, nil
}

// SaveAll upserts every entity. Rows are never deleted.
func (b *GormBackend) SaveAll(ctx context.Context, entities []*entity.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	records := make([]EntityRecord, 0, len(entities))
	for _, e := range entities {
		records = append(records, newEntityRecord(e))
	}
	return b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"type", "source", "status", "compliance_status",
			"fni_score", "last_seen_at", "payload", "updated_at",
		}),
	}).CreateInBatches(records, b.batchSize).Error
}

// OpenDB opens a database for the given dialect: "sqlite" (default),
// "postgres" or "mysql". MySQL DSNs need parseTime=true.
func OpenDB(dialect, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	var (
		db  *gorm.DB
		err error
	)
	switch dialect {
	case "", "sqlite":
		if dsn == "" {
			dsn = "harvest.db"
		}
		db, err = gorm.Open(sqlite.Open(sqliteDSN(dsn)), cfg)
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case "mysql":
		db, err = gorm.Open(mysql.Open(dsn), cfg)
	default:
		return nil, fmt.Errorf("unsupported database dialect: %s", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}
	if dialect == "" || dialect == "sqlite" {
		// SQLite has a single writer, and ":memory:" is private to a connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// sqliteDSN adds a busy timeout and WAL journaling to file databases, which
// the run store and registry open side by side.
func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}
