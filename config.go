package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/stevemurr/agentbench/archive"
	"github.com/stevemurr/agentbench/store"
)

// config is read from the environment and can be overridden by flags.
type config struct {
	Host               string
	Port               string
	DataDir            string
	Backend            string
	DatabaseURL        string
	FirestoreProjectID string
	AllowedOrigins     string
	LogLevel           string
	LogFormat          string

	ArchiveBucket    string
	ArchiveRegion    string
	ArchiveEndpoint  string
	ArchivePathStyle bool
}

func defaultConfig() *config {
	pathStyle, _ := strconv.ParseBool(env("ARCHIVE_PATH_STYLE", "false"))
	return &config{
		Host:               env("HOST", "0.0.0.0"),
		Port:               env("PORT", "8080"),
		DataDir:            env("DATA_DIR", "./data"),
		Backend:            env("STORE_BACKEND", "json"),
		DatabaseURL:        env("DATABASE_URL", ""),
		FirestoreProjectID: env("FIRESTORE_PROJECT_ID", ""),
		AllowedOrigins:     env("ALLOWED_ORIGINS", "*"),
		LogLevel:           env("LOG_LEVEL", "info"),
		LogFormat:          env("LOG_FORMAT", "json"),
		ArchiveBucket:      env("ARCHIVE_BUCKET", ""),
		ArchiveRegion:      env("ARCHIVE_REGION", "us-east-1"),
		ArchiveEndpoint:    env("ARCHIVE_ENDPOINT", ""),
		ArchivePathStyle:   pathStyle,
	}
}

func (c *config) bindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Host, "host", c.Host, "listen host ($HOST)")
	fs.StringVar(&c.Port, "port", c.Port, "listen port ($PORT)")
	fs.StringVar(&c.DataDir, "data-dir", c.DataDir, "data directory for json and sqlite backends ($DATA_DIR)")
	fs.StringVar(&c.Backend, "store", c.Backend, "store backend: json, sqlite, postgres, firestore or memory ($STORE_BACKEND)")
	fs.StringVar(&c.DatabaseURL, "database-url", c.DatabaseURL, "postgres connection string ($DATABASE_URL)")
	fs.StringVar(&c.FirestoreProjectID, "firestore-project", c.FirestoreProjectID, "Google Cloud project ($FIRESTORE_PROJECT_ID)")
	fs.StringVar(&c.AllowedOrigins, "allowed-origins", c.AllowedOrigins, "comma-separated CORS origins ($ALLOWED_ORIGINS)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error ($LOG_LEVEL)")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "json or console ($LOG_FORMAT)")
	fs.StringVar(&c.ArchiveBucket, "archive-bucket", c.ArchiveBucket, "S3 bucket for agent exports; empty disables them ($ARCHIVE_BUCKET)")
	fs.StringVar(&c.ArchiveRegion, "archive-region", c.ArchiveRegion, "S3 region ($ARCHIVE_REGION)")
	fs.StringVar(&c.ArchiveEndpoint, "archive-endpoint", c.ArchiveEndpoint, "S3-compatible endpoint URL ($ARCHIVE_ENDPOINT)")
	fs.BoolVar(&c.ArchivePathStyle, "archive-path-style", c.ArchivePathStyle, "use path-style S3 addressing ($ARCHIVE_PATH_STYLE)")
}

func (c *config) origins() []string {
	return strings.Split(c.AllowedOrigins, ",")
}

func newLogger(w io.Writer, level, format string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	switch format {
	case "console":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	case "json", "":
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q (json or console)", format)
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

func (c *config) logger() (zerolog.Logger, error) {
	return newLogger(os.Stderr, c.LogLevel, c.LogFormat)
}

func (c *config) openStore(ctx context.Context, log zerolog.Logger) (store.Store, error) {
	s, err := store.New(ctx, store.Config{
		Backend:            c.Backend,
		DataDir:            c.DataDir,
		DatabaseURL:        c.DatabaseURL,
		FirestoreProjectID: c.FirestoreProjectID,
		Logger:             log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create store (backend=%s): %w", c.Backend, err)
	}
	return s, nil
}

// openArchive returns nil when no bucket is configured.
func (c *config) openArchive(ctx context.Context) (archive.Store, error) {
	if c.ArchiveBucket == "" {
		return nil, nil
	}
	a, err := archive.NewS3Store(ctx, archive.S3Config{
		Bucket:    c.ArchiveBucket,
		Region:    c.ArchiveRegion,
		Endpoint:  c.ArchiveEndpoint,
		PathStyle: c.ArchivePathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open archive bucket %s: %w", c.ArchiveBucket, err)
	}
	return a, nil
}
