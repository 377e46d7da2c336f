package statesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sketchparty/internal/db"
	"sketchparty/internal/game"
)

// PostgresStore keeps each room as a jsonb row in game_states. Narrow
// operations lock the row for the duration of one transaction; every
// committed write fires a NOTIFY carrying the room id.
type PostgresStore struct {
	db           *gorm.DB
	dsn          string
	pingInterval time.Duration
}

func NewPostgresStore(conn *gorm.DB, dsn string) *PostgresStore {
	return &PostgresStore{
		db:           conn,
		dsn:          dsn,
		pingInterval: 90 * time.Second,
	}
}

func (p *PostgresStore) Fetch(ctx context.Context, room string) (*game.State, error) {
	var row db.GameState
	err := p.db.WithContext(ctx).Where("room_id = ?", room).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFound(room)
	}
	if err != nil {
		return nil, err
	}
	return game.Decode(row.State)
}

func (p *PostgresStore) Upsert(ctx context.Context, room string, state *game.State) error {
	data, err := game.Encode(state)
	if err != nil {
		return err
	}
	row := db.GameState{
		RoomID: room,
		Phase:  string(state.Phase),
		State:  datatypes.JSON(data),
	}
	return p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "room_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"phase":      row.Phase,
			"state":      row.State,
			"version":    gorm.Expr("game_states.version + 1"),
			"updated_at": time.Now().UTC(),
		}),
	}).Create(&row).Error
}

func (p *PostgresStore) Delete(ctx context.Context, room string) error {
	return p.db.WithContext(ctx).Where("room_id = ?", room).Delete(&db.GameState{}).Error
}

func (p *PostgresStore) SubmitDrawing(ctx context.Context, room string, drawing game.Drawing) (*game.State, error) {
	return p.mutate(ctx, room, "drawing_submitted", func(current *game.State) (*game.State, db.EventPayload, error) {
		if current == nil {
			return nil, db.EventPayload{}, notFound(room)
		}
		next, err := current.Submit(drawing)
		if err != nil {
			return nil, db.EventPayload{}, reject(err)
		}
		return next, db.EventPayload{PlayerID: drawing.AuthorID, DrawingID: drawing.ID, Count: len(next.Drawings)}, nil
	})
}

func (p *PostgresStore) SubmitVote(ctx context.Context, room, voterID, drawingID string) (*game.State, error) {
	return p.mutate(ctx, room, "vote_cast", func(current *game.State) (*game.State, db.EventPayload, error) {
		if current == nil {
			return nil, db.EventPayload{}, notFound(room)
		}
		next, err := current.CastVote(voterID, drawingID)
		if err != nil {
			return nil, db.EventPayload{}, reject(err)
		}
		return next, db.EventPayload{PlayerID: voterID, DrawingID: drawingID, Count: len(next.Votes)}, nil
	})
}

func (p *PostgresStore) UpdatePhase(ctx context.Context, room string, update game.PhaseUpdate) (*game.State, error) {
	return p.mutate(ctx, room, "phase_advanced", func(current *game.State) (*game.State, db.EventPayload, error) {
		if current == nil {
			return nil, db.EventPayload{}, notFound(room)
		}
		next, err := current.Advance(update)
		if err != nil {
			return nil, db.EventPayload{}, reject(err)
		}
		return next, db.EventPayload{From: string(update.From), Phase: string(next.Phase), Count: len(next.Votes)}, nil
	})
}

func (p *PostgresStore) ResetRound(ctx context.Context, room string, reset game.RoundReset) (*game.State, error) {
	return p.mutate(ctx, room, "round_reset", func(current *game.State) (*game.State, db.EventPayload, error) {
		next, err := current.Reset(reset)
		if err != nil {
			return nil, db.EventPayload{}, reject(err)
		}
		return next, db.EventPayload{Phase: string(next.Phase), Word: next.CurrentWord, PlayerID: reset.PlayerID}, nil
	})
}

type mutation func(current *game.State) (*game.State, db.EventPayload, error)

func (p *PostgresStore) mutate(ctx context.Context, room, eventType string, fn mutation) (*game.State, error) {
	var result *game.State
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row db.GameState
		var current *game.State
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("room_id = ?", room).First(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return err
		default:
			if current, err = game.Decode(row.State); err != nil {
				return err
			}
		}

		next, payload, err := fn(current)
		if err != nil {
			return err
		}
		data, err := game.Encode(next)
		if err != nil {
			return err
		}
		if current == nil {
			row = db.GameState{
				RoomID: room,
				Phase:  string(next.Phase),
				State:  datatypes.JSON(data),
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		} else {
			updates := map[string]any{
				"phase":      string(next.Phase),
				"state":      datatypes.JSON(data),
				"version":    gorm.Expr("version + 1"),
				"updated_at": time.Now().UTC(),
			}
			if err := tx.Model(&db.GameState{}).Where("room_id = ?", room).Updates(updates).Error; err != nil {
				return err
			}
		}
		if err := persistEvent(tx, room, eventType, payload); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, classifyStoreError(err)
	}
	return result, nil
}

func persistEvent(tx *gorm.DB, room, eventType string, payload db.EventPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return tx.Create(&db.Event{
		RoomID:  room,
		Type:    eventType,
		Payload: datatypes.JSON(data),
	}).Error
}

// classifyStoreError turns races lost inside Postgres into ErrRejected:
// two participants creating the same room, or a serialization failure.
func classifyStoreError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "40001", "40P01":
			return reject(err)
		}
	}
	return err
}

// Watch listens on the notification channel and refetches the room each
// time it changes. The feed ends when ctx is cancelled.
func (p *PostgresStore) Watch(ctx context.Context, room string) (<-chan Change, error) {
	listener := pq.NewListener(p.dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Error().Err(err).Str("room", room).Msg("store listener event")
		}
	})
	if err := listener.Listen(db.NotifyChannel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("listen %s: %w", db.NotifyChannel, err)
	}
	log.Info().Str("channel", db.NotifyChannel).Str("room", room).Msg("listening for state changes")

	changes := make(chan Change, watchBuffer)
	go p.forward(ctx, room, listener, changes)
	return changes, nil
}

func (p *PostgresStore) forward(ctx context.Context, room string, listener *pq.Listener, changes chan<- Change) {
	defer close(changes)
	defer listener.Close()
	ticker := time.NewTicker(p.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-listener.Notify:
			// A nil notification follows a reconnect; anything may have
			// been missed, so refetch.
			if n != nil && n.Extra != room {
				continue
			}
			p.emit(ctx, room, changes)
		case <-ticker.C:
			go func() {
				if err := listener.Ping(); err != nil {
					log.Warn().Err(err).Str("room", room).Msg("store listener ping failed")
				}
			}()
		}
	}
}

func (p *PostgresStore) emit(ctx context.Context, room string, changes chan<- Change) {
	state, err := p.Fetch(ctx, room)
	change := Change{Room: room, State: state}
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Error().Err(err).Str("room", room).Msg("refetch after notify failed")
			return
		}
		change.State = nil
	}
	select {
	case changes <- change:
	case <-ctx.Done():
	}
}
