package archive

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tecu23/duel-server/internal/color"
	"github.com/tecu23/duel-server/pkg/events"
	"github.com/tecu23/duel-server/pkg/rules"
	"github.com/tecu23/duel-server/pkg/session"
)

// ErrNotFound is returned when a session was never archived.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrNotFinished rejects sessions that have not ended.
var ErrNotFinished = errors.New("session has not ended")

// Archive keeps a relational record of finished sessions. A nil *Archive
// accepts every call and stores nothing, so the server can run without a
// database.
type Archive struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to postgres and migrates the schema.
func Open(dsn string, logger *zap.Logger) (*Archive, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	return New(db, logger)
}

// New wraps an open gorm DB and migrates the schema.
func New(db *gorm.DB, logger *zap.Logger) (*Archive, error) {
	if db == nil {
		return nil, nil
	}
	if err := db.AutoMigrate(&ArchivedSession{}, &ArchivedMove{}); err != nil {
		return nil, err
	}

	return &Archive{db: db, logger: logger}, nil
}

// Close releases the connection pool.
func (a *Archive) Close() error {
	if a == nil {
		return nil
	}

	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

// Record upserts the final state of s and replaces its move rows.
func (a *Archive) Record(ctx context.Context, s session.GameSession) error {
	if a == nil {
		return nil
	}
	if !s.Status.Terminal() {
		return ErrNotFinished
	}

	row := toRow(s)
	moves := toMoves(s.ID, s.MoveHistory)

	return a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Omit("Moves").Create(&row).Error; err != nil {
			return err
		}

		if err := tx.Where("session_id = ?", s.ID).Delete(&ArchivedMove{}).Error; err != nil {
			return err
		}
		if len(moves) == 0 {
			return nil
		}

		return tx.Create(&moves).Error
	})
}

// Get loads an archived session with its moves in play order.
func (a *Archive) Get(ctx context.Context, id string) (*ArchivedSession, error) {
	if a == nil {
		return nil, ErrNotFound
	}

	var row ArchivedSession
	err := a.db.WithContext(ctx).
		Preload("Moves", func(db *gorm.DB) *gorm.DB { return db.Order("ply") }).
		First(&row, "id = ?", id).Error
	if err != nil {
		return nil, err
	}

	return &row, nil
}

// ByPlayer returns the most recent sessions playerID took part in.
func (a *Archive) ByPlayer(ctx context.Context, playerID string, limit int) ([]ArchivedSession, error) {
	if a == nil {
		return nil, nil
	}

	var rows []ArchivedSession
	err := a.db.WithContext(ctx).
		Where("first_id = ? OR second_id = ?", playerID, playerID).
		Order("ended_at DESC").
		Limit(limit).
		Find(&rows).Error

	return rows, err
}

// Attach records every session the publisher reports as ended.
func (a *Archive) Attach(p *events.Publisher) {
	if a == nil || p == nil {
		return
	}

	record := func(e events.Event) {
		s, ok := e.Payload.(session.GameSession)
		if !ok {
			return
		}
		if err := a.Record(context.Background(), s); err != nil {
			a.logger.Error("failed to archive session", zap.String("session_id", s.ID), zap.Error(err))
			return
		}
		a.logger.Debug("session archived", zap.String("session_id", s.ID), zap.String("status", string(s.Status)))
	}

	p.Subscribe(events.EventGameCompleted, record)
	p.Subscribe(events.EventGameAborted, record)
}

func toRow(s session.GameSession) ArchivedSession {
	row := ArchivedSession{
		ID:          s.ID,
		Version:     s.Version,
		FirstID:     s.Players.First.ID,
		FirstName:   s.Players.First.DisplayName,
		Status:      string(s.Status),
		Winner:      string(s.Winner),
		EndReason:   s.EndReason,
		FinalBoard:  s.BoardState,
		MoveHistory: s.MoveHistory,
		CreatedAt:   s.CreatedAt,
		EndedAt:     s.UpdatedAt,
	}

	if p := s.Players.Second; p != nil {
		row.SecondID = p.ID
		row.SecondName = p.DisplayName
	}
	if tc := s.TimeControl; tc != nil {
		initial, increment := tc.Initial.Milliseconds(), tc.Increment.Milliseconds()
		row.InitialMs = &initial
		row.IncrementMs = &increment
	}

	return row
}

func toMoves(id, history string) []ArchivedMove {
	fields := strings.Fields(history)
	moves := make([]ArchivedMove, 0, len(fields))

	for i, uci := range fields {
		slot := rules.First
		if i%2 == 1 {
			slot = rules.Second
		}
		moves = append(moves, ArchivedMove{
			SessionID: id,
			Ply:       i + 1,
			UCI:       uci,
			Color:     string(color.Of(slot)),
		})
	}

	return moves
}
