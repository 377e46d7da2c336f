package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sketchparty/internal/db"
	"sketchparty/internal/game"
	"sketchparty/internal/phase"
	"sketchparty/internal/player"
	"sketchparty/internal/presence"
	"sketchparty/internal/statesync"
)

func run(ctx context.Context, cfg *Config) error {
	if cfg.verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	clock := clockwork.NewRealClock()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	var bus statesync.Bus
	var natsBus *statesync.NATSBus
	if cfg.natsURL != "" {
		natsCfg := statesync.DefaultNATSConfig()
		natsCfg.URL = cfg.natsURL
		natsBus, err = statesync.ConnectNATS(natsCfg)
		if err != nil {
			return err
		}
		defer natsBus.Close()
		bus = natsBus
	}

	var cache statesync.Cache = statesync.NewMemoryCache()
	if cfg.cacheDir != "" {
		fileCache, err := statesync.NewFileCache(cfg.cacheDir)
		if err != nil {
			return fmt.Errorf("open cache dir: %w", err)
		}
		cache = fileCache
	}

	words := game.DefaultWordBank()
	if cfg.wordBank != "" {
		if words, err = game.LoadWordBank(cfg.wordBank); err != nil {
			return fmt.Errorf("load word bank: %w", err)
		}
	}

	client := statesync.NewClient(statesync.Options{
		Room:  cfg.room,
		Store: store,
		Bus:   bus,
		Cache: cache,
		Clock: clock,
	})

	playerID := cfg.playerID
	if playerID == "" {
		playerID = game.NewUserID(clock.Now())
	}

	trackerOpts := []presence.Option{
		presence.WithClock(clock),
		presence.WithInterval(cfg.heartbeat),
		presence.WithTTL(cfg.presenceTTL),
	}
	if cfg.presenceMode == presence.ModeChannel {
		roster, err := openRoster(ctx, natsBus, cfg.presenceTTL)
		if err != nil {
			return err
		}
		trackerOpts = append(trackerOpts, presence.WithRoster(roster))
	}
	tracker := presence.New(client, playerID, trackerOpts...)

	session := player.NewSession(client, player.Options{
		PlayerID: playerID,
		Clock:    clock,
		Words:    words,
		Limits:   game.Limits{DrawingSeconds: cfg.drawSeconds, VotingSeconds: cfg.voteSeconds},
		TTL:      cfg.presenceTTL,
		Presence: tracker,
	})
	controller := phase.New(client,
		phase.WithClock(clock),
		phase.WithInterval(cfg.tick),
		phase.WithWordBank(words),
		phase.WithPlayerID(playerID),
	)

	if cfg.verbose {
		unsubscribe := client.Subscribe(func(state *game.State) {
			if state == nil {
				log.Debug().Str("room", cfg.room).Msg("room cleared")
				return
			}
			log.Debug().
				Str("room", cfg.room).
				Str("phase", string(state.Phase)).
				Int("drawings", len(state.Drawings)).
				Int("votes", len(state.Votes)).
				Msg("state changed")
		})
		defer unsubscribe()
	}

	client.Start(ctx)
	if _, err := session.Join(ctx, cfg.name); err != nil {
		return err
	}
	log.Info().
		Str("room", client.Room()).
		Str("player_id", playerID).
		Str("store", cfg.store).
		Str("presence", string(tracker.Mode())).
		Bool("bus", bus != nil).
		Msg("referee joined")

	go controller.Run(ctx)
	go tracker.Run(ctx)

	if cfg.statusEvery > 0 {
		reportStatus(ctx, clock, cfg.statusEvery, session)
	} else {
		<-ctx.Done()
	}

	leaveCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tracker.Leave(leaveCtx); err != nil {
		log.Warn().Err(err).Msg("leave roster failed")
	}
	log.Info().Str("room", client.Room()).Msg("referee stopped")
	return nil
}

func openStore(cfg *Config) (statesync.RemoteStore, error) {
	switch cfg.store {
	case storeHTTP:
		return statesync.NewAPIStore(cfg.apiURL, nil), nil
	case storeMemory:
		log.Warn().Msg("memory store: this referee is alone in its room")
		return statesync.NewMemoryStore(), nil
	}

	base := cfg.base
	base.DatabaseURL = cfg.databaseURL
	dsn, placeholder := base.StoreDSN()
	if placeholder {
		log.Warn().Msg("DATABASE_URL is missing or a placeholder; every store call will fail")
	}
	conn, err := db.Open(dsn, db.PoolFromConfig(base), placeholder)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return statesync.NewPostgresStore(conn, dsn), nil
}

// openRoster prefers the JetStream bucket and falls back to a local roster,
// which only sees this process.
func openRoster(ctx context.Context, bus *statesync.NATSBus, ttl time.Duration) (presence.Roster, error) {
	if bus == nil {
		log.Warn().Msg("channel presence without NATS only counts this process")
		return presence.NewMemoryRoster(), nil
	}
	roster, err := presence.NewNATSRoster(ctx, bus.Conn(), presence.DefaultBucket, ttl)
	if err != nil {
		return nil, err
	}
	return roster, nil
}

func reportStatus(ctx context.Context, clock clockwork.Clock, every time.Duration, session *player.Session) {
	ticker := clock.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			view := session.View(ctx)
			if !view.Ready {
				log.Info().Str("room", view.Room).Msg("waiting for room state")
				continue
			}
			log.Info().
				Str("room", view.Room).
				Str("phase", string(view.Phase)).
				Str("word", view.Word).
				Str("time_left", player.FormatTime(view.TimeLeft)).
				Int("drawings", len(view.Drawings)).
				Int("active_players", view.ActivePlayers).
				Msg("room status")
		}
	}
}
