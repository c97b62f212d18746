package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind           string
	cors           string
	countdown      time.Duration
	maxPlayers     int
	maxRounds      int
	port           int
	prefix         string
	profile        bool
	roundDelay     time.Duration
	scrambleMax    int
	scrambleMin    int
	sessionTimeout time.Duration
	startDelay     time.Duration
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.maxRounds < 1 || c.maxRounds%2 == 0 {
		return fmt.Errorf("invalid --max-rounds (must be a positive odd number): %d", c.maxRounds)
	}
	if c.maxPlayers < 1 {
		return fmt.Errorf("invalid --max-players (must be at least 1): %d", c.maxPlayers)
	}
	if c.scrambleMin < 1 || c.scrambleMax < c.scrambleMin {
		return fmt.Errorf("invalid scramble range: %d-%d", c.scrambleMin, c.scrambleMax)
	}
	if c.countdown < time.Second {
		return fmt.Errorf("invalid --countdown (must be at least 1s): %s", c.countdown)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("SQUAREG")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "squareg",
		Short:         "A real-time multiplayer tile-rotation puzzle race.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: SQUAREG_BIND)")
	fs.StringVar(&cfg.cors, "cors", "", "allowed origin for cross-origin clients (env: SQUAREG_CORS)")
	fs.DurationVar(&cfg.countdown, "countdown", 3*time.Second, "countdown before each round begins (env: SQUAREG_COUNTDOWN)")
	fs.IntVar(&cfg.maxPlayers, "max-players", 4, "maximum players per room (env: SQUAREG_MAX_PLAYERS)")
	fs.IntVar(&cfg.maxRounds, "max-rounds", 7, "rounds per match, must be odd (env: SQUAREG_MAX_ROUNDS)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: SQUAREG_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: SQUAREG_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: SQUAREG_PROFILE)")
	fs.DurationVar(&cfg.roundDelay, "round-delay", 5*time.Second, "pause between a round win and the next round (env: SQUAREG_ROUND_DELAY)")
	fs.IntVar(&cfg.scrambleMax, "scramble-max", 35, "maximum rotations applied to a target pattern (env: SQUAREG_SCRAMBLE_MAX)")
	fs.IntVar(&cfg.scrambleMin, "scramble-min", 15, "minimum rotations applied to a target pattern (env: SQUAREG_SCRAMBLE_MIN)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle rooms are ended (env: SQUAREG_SESSION_TIMEOUT)")
	fs.DurationVar(&cfg.startDelay, "start-delay", 2*time.Second, "grace period before a full lobby auto-starts (env: SQUAREG_START_DELAY)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: SQUAREG_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: SQUAREG_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: SQUAREG_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: SQUAREG_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("squareg v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
