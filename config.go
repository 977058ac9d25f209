package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	backendTimeout time.Duration
	backendToken   string
	backendURL     string
	bind           string
	catalog        string
	database       string
	port           int
	prefix         string
	profile        bool
	refillBatch    int
	sessionTimeout time.Duration
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
	if c.backendURL == "" && c.catalog == "" {
		return errors.New("one of --backend-url or --catalog must be provided")
	}
	if c.backendURL != "" && c.catalog != "" {
		return errors.New("--backend-url and --catalog are mutually exclusive")
	}
	if c.backendURL != "" {
		u, err := url.Parse(c.backendURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid backend url: %q", c.backendURL)
		}
	}
	if c.refillBatch < 1 {
		return fmt.Errorf("invalid refill batch (must be at least 1): %d", c.refillBatch)
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
	v.SetEnvPrefix("QUIZBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "quizboard",
		Short:         "Host category board trivia games for teams on a shared screen.",
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

	fs.DurationVar(&cfg.backendTimeout, "backend-timeout", 10*time.Second, "timeout for requests to the trivia backend (env: QUIZBOARD_BACKEND_TIMEOUT)")
	fs.StringVar(&cfg.backendToken, "backend-token", "", "bearer token sent to the trivia backend (env: QUIZBOARD_BACKEND_TOKEN)")
	fs.StringVar(&cfg.backendURL, "backend-url", "", "base url of the trivia backend (env: QUIZBOARD_BACKEND_URL)")
	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: QUIZBOARD_BIND)")
	fs.StringVarP(&cfg.catalog, "catalog", "c", "", "path to a local question catalog, used instead of a backend (env: QUIZBOARD_CATALOG)")
	fs.StringVar(&cfg.database, "database", "", "path to sqlite database for saving games across restarts (env: QUIZBOARD_DATABASE)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: QUIZBOARD_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: QUIZBOARD_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: QUIZBOARD_PROFILE)")
	fs.IntVar(&cfg.refillBatch, "refill-batch", 6, "replacement questions requested per refill (env: QUIZBOARD_REFILL_BATCH)")
	fs.DurationVar(&cfg.sessionTimeout, "session-timeout", 60*time.Minute, "time before idle games are closed (env: QUIZBOARD_SESSION_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: QUIZBOARD_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: QUIZBOARD_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: QUIZBOARD_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: QUIZBOARD_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("quizboard v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
