package db

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"sketchparty/internal/config"
)

const NotifyChannel = "game_state_changes"

type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

func PoolFromConfig(cfg config.Config) PoolConfig {
	return PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifetimeSeconds) * time.Second,
		ConnMaxIdleTime: time.Duration(cfg.DBConnMaxIdleTimeSeconds) * time.Second,
	}
}

// Open connects to Postgres. When lazy is set the initial ping is skipped,
// so an unreachable or placeholder DSN yields a handle whose calls fail.
func Open(dsn string, pool PoolConfig, lazy bool) (*gorm.DB, error) {
	if dsn == "" {
		return nil, errors.New("database dsn is empty")
	}
	conn, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableAutomaticPing: lazy,
		Logger:               logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	if pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if pool.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	}
	return conn, nil
}

// Migrate runs GORM auto-migrations and installs the change-notification
// trigger. cmd/migrate applies the same schema from db/migrations.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("db connection is nil")
	}
	if err := conn.AutoMigrate(
		&GameState{},
		&Event{},
	); err != nil {
		return err
	}
	if err := conn.Exec(notifyFunctionSQL).Error; err != nil {
		return err
	}
	if err := conn.Exec(dropNotifyTriggerSQL).Error; err != nil {
		return err
	}
	if err := conn.Exec(notifyTriggerSQL).Error; err != nil {
		return err
	}
	log.Info().Msg("database migration complete")
	return nil
}

const notifyFunctionSQL = `
CREATE OR REPLACE FUNCTION notify_game_state_change() RETURNS trigger AS $$
BEGIN
	IF TG_OP = 'DELETE' THEN
		PERFORM pg_notify('game_state_changes', OLD.room_id);
		RETURN OLD;
	END IF;
	PERFORM pg_notify('game_state_changes', NEW.room_id);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql`

const dropNotifyTriggerSQL = `DROP TRIGGER IF EXISTS game_states_notify ON game_states`

const notifyTriggerSQL = `
CREATE TRIGGER game_states_notify
	AFTER INSERT OR UPDATE OR DELETE ON game_states
	FOR EACH ROW EXECUTE FUNCTION notify_game_state_change()`
