package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"sketchparty/internal/config"
	"sketchparty/internal/presence"
)

const (
	storePostgres = "postgres"
	storeHTTP     = "http"
	storeMemory   = "memory"
)

type Config struct {
	room         string
	name         string
	playerID     string
	store        string
	apiURL       string
	databaseURL  string
	natsURL      string
	presence     string
	cacheDir     string
	wordBank     string
	tick         time.Duration
	heartbeat    time.Duration
	presenceTTL  time.Duration
	statusEvery  time.Duration
	drawSeconds  int
	voteSeconds  int
	verbose      bool
	base         config.Config
	presenceMode presence.Mode
}

func (c *Config) validate() error {
	switch c.store {
	case storePostgres, storeHTTP, storeMemory:
	default:
		return fmt.Errorf("unknown store %q (want postgres, http or memory)", c.store)
	}
	if c.store == storeHTTP && c.apiURL == "" {
		return fmt.Errorf("--api-url is required with --store=%s", storeHTTP)
	}
	mode, err := presence.ParseMode(c.presence)
	if err != nil {
		return err
	}
	c.presenceMode = mode
	if c.tick <= 0 || c.heartbeat <= 0 || c.presenceTTL <= 0 {
		return fmt.Errorf("intervals must be positive")
	}
	if c.drawSeconds <= 0 || c.voteSeconds <= 0 {
		return fmt.Errorf("round limits must be positive")
	}
	return nil
}

// newCmd binds flags to SKETCHPARTY_* environment variables. Defaults come
// from the shared environment config so the referee and the server agree.
func newCmd(cfg *Config, base config.Config) *cobra.Command {
	cfg.base = base
	v := viper.New()
	v.SetEnvPrefix("SKETCHPARTY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "referee",
		Short:         "Join a sketch room headlessly and keep its rounds moving.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.room, "room", "r", base.DefaultRoom, "room to join (env: SKETCHPARTY_ROOM)")
	fs.StringVarP(&cfg.name, "name", "n", "Referee", "display name (env: SKETCHPARTY_NAME)")
	fs.StringVar(&cfg.playerID, "player-id", "", "participant id, generated when empty (env: SKETCHPARTY_PLAYER_ID)")
	fs.StringVarP(&cfg.store, "store", "s", storePostgres, "shared store: postgres, http or memory (env: SKETCHPARTY_STORE)")
	fs.StringVar(&cfg.apiURL, "api-url", base.PublicURL, "fallback server base URL for --store=http (env: SKETCHPARTY_API_URL)")
	fs.StringVar(&cfg.databaseURL, "database-url", base.DatabaseURL, "postgres DSN (env: SKETCHPARTY_DATABASE_URL)")
	fs.StringVar(&cfg.natsURL, "nats-url", base.NATSURL, "NATS URL for the cross-instance channel, empty disables it (env: SKETCHPARTY_NATS_URL)")
	fs.StringVar(&cfg.presence, "presence", base.PresenceMode, "presence mode: state or channel (env: SKETCHPARTY_PRESENCE)")
	fs.StringVar(&cfg.cacheDir, "cache-dir", base.CacheDir, "directory for the local state cache (env: SKETCHPARTY_CACHE_DIR)")
	fs.StringVar(&cfg.wordBank, "word-bank", base.WordBankPath, "YAML word list replacing the built-in words (env: SKETCHPARTY_WORD_BANK)")
	fs.DurationVar(&cfg.tick, "tick", base.TickInterval, "phase check interval (env: SKETCHPARTY_TICK)")
	fs.DurationVar(&cfg.heartbeat, "heartbeat", base.HeartbeatInterval, "presence heartbeat interval (env: SKETCHPARTY_HEARTBEAT)")
	fs.DurationVar(&cfg.presenceTTL, "presence-ttl", base.PresenceTTL, "time before a silent participant stops counting (env: SKETCHPARTY_PRESENCE_TTL)")
	fs.DurationVar(&cfg.statusEvery, "status-every", 5*time.Second, "how often to log the room view, 0 disables (env: SKETCHPARTY_STATUS_EVERY)")
	fs.IntVar(&cfg.drawSeconds, "draw-seconds", base.DrawingSeconds, "drawing limit for rooms this referee creates (env: SKETCHPARTY_DRAW_SECONDS)")
	fs.IntVar(&cfg.voteSeconds, "vote-seconds", base.VotingSeconds, "voting limit for rooms this referee creates (env: SKETCHPARTY_VOTE_SECONDS)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "log every state change (env: SKETCHPARTY_VERBOSE)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})

	return cmd
}
