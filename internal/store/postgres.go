package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/DoyleJ11/arcade-match-backend/internal/match"
	"github.com/DoyleJ11/arcade-match-backend/internal/tournament"
)

type Postgres struct {
	db  *gorm.DB
	log *zap.Logger
}

// OpenPostgres connects and runs migrations.
func OpenPostgres(dsn string, log *zap.Logger) (*Postgres, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("store")

	gormLogger := logger.New(
		zap.NewStdLog(log),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := db.AutoMigrate(&TournamentRecord{}, &MatchResultRecord{}); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	log.Info("database ready")
	return &Postgres{db: db, log: log}, nil
}

func (p *Postgres) SaveTournament(ctx context.Context, t tournament.Tournament) error {
	rec, err := tournamentRecord(t)
	if err != nil {
		return err
	}
	err = p.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"slug", "name", "status", "snapshot", "updated_at"}),
		}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save tournament %s: %w", t.ID, err)
	}
	return nil
}

func (p *Postgres) LoadTournaments(ctx context.Context) ([]tournament.Tournament, error) {
	var recs []TournamentRecord
	if err := p.db.WithContext(ctx).Order("updated_at").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("load tournaments: %w", err)
	}
	out := make([]tournament.Tournament, 0, len(recs))
	for _, rec := range recs {
		t, err := rec.tournament()
		if err != nil {
			p.log.Warn("skipping unreadable tournament", zap.String("tournament_id", rec.ID), zap.Error(err))
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// SaveMatchResult ignores a repeated write for the same session.
func (p *Postgres) SaveMatchResult(ctx context.Context, r match.Result) error {
	rec := resultRecord(r)
	err := p.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save result %s: %w", r.SessionID, err)
	}
	return nil
}

func (p *Postgres) LoadMatchResult(ctx context.Context, sessionID string) (match.Result, error) {
	var rec MatchResultRecord
	err := p.db.WithContext(ctx).First(&rec, "session_id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return match.Result{}, ErrResultNotFound
	}
	if err != nil {
		return match.Result{}, fmt.Errorf("load result %s: %w", sessionID, err)
	}
	return rec.result(), nil
}

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
