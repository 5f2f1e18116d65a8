package gorm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	ddd "github.com/GoooIce/loco-ddd"
)

var _ ddd.EventStore = (*GormStore)(nil)

// EventModel is the relational shape of a stored event. The auto-increment
// primary key doubles as the global version; (stream_id, version) is unique so
// two writers can never commit the same revision even if their version checks
// raced.
type EventModel struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	EventID    uuid.UUID `gorm:"type:uuid;not null"`
	StreamID   string    `gorm:"size:255;not null;uniqueIndex:idx_stream_version,priority:1;index"`
	Version    uint64    `gorm:"not null;uniqueIndex:idx_stream_version,priority:2"`
	EventType  string    `gorm:"size:255;not null"`
	Data       []byte    `gorm:"not null"`
	Metadata   []byte
	OccurredAt time.Time `gorm:"not null"`
}

func (EventModel) TableName() string { return "events" }

// GormStore is an EventStore on a relational database through GORM. It works
// with any dialect GORM supports; postgres and sqlite are what the tests run
// against.
type GormStore struct {
	db       *gorm.DB
	registry *ddd.EventRegistry
}

// NewGormStore wraps an open *gorm.DB. Run Migrate once at startup to create
// the events table.
func NewGormStore(db *gorm.DB, registry *ddd.EventRegistry) *GormStore {
	return &GormStore{db: db, registry: registry}
}

// Migrate creates or updates the events table.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&EventModel{})
}

// Save appends the batch in a single transaction. The revision check runs
// against the stream's current max version inside the transaction; the unique
// index on (stream_id, version) is the backstop for write skew under weaker
// isolation levels.
func (s *GormStore) Save(ctx context.Context, events []ddd.Envelope, revision ddd.StreamState) (ddd.AppendResult, error) {
	if len(events) == 0 {
		return ddd.AppendResult{Successful: true}, nil
	}

	streamID := events[0].StreamID
	for i, env := range events {
		if env.StreamID != streamID {
			return ddd.AppendResult{}, fmt.Errorf(
				"save to stream %q: %w: event %d targets stream %q",
				streamID, ddd.ErrInvalidEventBatch, i, env.StreamID,
			)
		}
	}

	var nextVersion uint64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var currentVersion uint64
		row := tx.Model(&EventModel{}).
			Select("COALESCE(MAX(version), 0)").
			Where("stream_id = ?", streamID).
			Row()
		if err := row.Scan(&currentVersion); err != nil {
			return ddd.WrapEventStoreError(err)
		}

		switch rev := revision.(type) {
		case ddd.Any:
			// No concurrency check.
		case ddd.NoStream:
			if currentVersion != 0 {
				return fmt.Errorf("stream %q: %w", streamID, ddd.ErrStreamExists)
			}
		case ddd.StreamExists:
			if currentVersion == 0 {
				return fmt.Errorf("stream %q: %w", streamID, ddd.ErrStreamNotFound)
			}
		case ddd.Revision:
			if currentVersion != uint64(rev) {
				return &ddd.StreamRevisionConflictError{
					Stream:           streamID,
					ExpectedRevision: rev,
					ActualRevision:   ddd.Revision(currentVersion),
				}
			}
		default:
			return fmt.Errorf("stream %q: %w: %T", streamID, ddd.ErrInvalidRevision, revision)
		}

		models := make([]*EventModel, 0, len(events))
		for i := range events {
			model, err := toModel(&events[i])
			if err != nil {
				return ddd.WrapEventStoreError(err)
			}
			models = append(models, model)
		}

		if err := tx.Create(models).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return &ddd.StreamRevisionConflictError{
					Stream:           streamID,
					ExpectedRevision: ddd.Revision(currentVersion),
				}
			}
			return ddd.WrapEventStoreError(err)
		}

		nextVersion = events[len(events)-1].Version
		return nil
	})
	if err != nil {
		return ddd.AppendResult{Successful: false}, err
	}

	return ddd.AppendResult{
		Successful:          true,
		NextExpectedVersion: nextVersion,
	}, nil
}

// LoadStream loads all committed events for the stream. An unknown stream
// yields an empty iterator.
func (s *GormStore) LoadStream(ctx context.Context, id string) (*ddd.Iterator[*ddd.Envelope], error) {
	return s.LoadStreamFrom(ctx, id, 0)
}

// LoadStreamFrom loads the stream's events with version > version, in version
// order.
func (s *GormStore) LoadStreamFrom(ctx context.Context, id string, version uint64) (*ddd.Iterator[*ddd.Envelope], error) {
	var models []*EventModel
	err := s.db.WithContext(ctx).
		Where("stream_id = ? AND version > ?", id, version).
		Order("version ASC").
		Find(&models).Error
	if err != nil {
		return nil, ddd.WrapEventStoreError(err)
	}
	return s.iterate(models), nil
}

// LoadFromAll loads events across all streams with global version > version,
// in commit order.
func (s *GormStore) LoadFromAll(ctx context.Context, version uint64) (*ddd.Iterator[*ddd.Envelope], error) {
	var models []*EventModel
	err := s.db.WithContext(ctx).
		Where("id > ?", version).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, ddd.WrapEventStoreError(err)
	}
	return s.iterate(models), nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// iterate decodes rows lazily so a long stream does not need all its payloads
// deserialized up front.
func (s *GormStore) iterate(models []*EventModel) *ddd.Iterator[*ddd.Envelope] {
	idx := 0
	return ddd.NewIteratorFunc(func(ctx context.Context) (*ddd.Envelope, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if idx >= len(models) {
			return nil, io.EOF
		}
		model := models[idx]
		idx++

		env, err := fromModel(s.registry, model)
		if err != nil {
			return nil, ddd.WrapEventStoreError(err)
		}
		return env, nil
	})
}

func toModel(env *ddd.Envelope) (*EventModel, error) {
	stored, err := ddd.EncodeEnvelope(env)
	if err != nil {
		return nil, err
	}

	var metadata []byte
	if len(stored.Metadata) > 0 {
		metadata, err = json.Marshal(stored.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
	}

	return &EventModel{
		EventID:    stored.EventID,
		StreamID:   stored.StreamID,
		Version:    stored.Version,
		EventType:  stored.EventType,
		Data:       stored.Data,
		Metadata:   metadata,
		OccurredAt: stored.OccurredAt,
	}, nil
}

func fromModel(registry *ddd.EventRegistry, model *EventModel) (*ddd.Envelope, error) {
	stored := &ddd.StoredEvent{
		EventID:       model.EventID,
		StreamID:      model.StreamID,
		EventType:     model.EventType,
		Data:          model.Data,
		Version:       model.Version,
		GlobalVersion: model.ID,
		OccurredAt:    model.OccurredAt,
	}

	if len(model.Metadata) > 0 {
		if err := json.Unmarshal(model.Metadata, &stored.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}

	return ddd.DecodeStoredEvent(registry, stored)
}
