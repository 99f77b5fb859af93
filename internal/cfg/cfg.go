package cfg

import (
	"errors"
	"flag"
	"fmt"
	"slices"
	"time"
)

// Blob store backends.
const (
	BlobFS = "fs"
	BlobS3 = "s3"
)

// Ledger backends.
const (
	LedgerMemory   = "memory"
	LedgerPostgres = "postgres"
	LedgerBolt     = "bolt"
	LedgerSQLite   = "sqlite"
	LedgerDynamoDB = "dynamodb"
)

var (
	blobBackends   = []string{BlobFS, BlobS3}
	ledgerBackends = []string{LedgerMemory, LedgerPostgres, LedgerBolt, LedgerSQLite, LedgerDynamoDB}
)

// Config holds the server-level settings: listener, shutdown budgets,
// backend selection and integrations. Pipeline, feed and database pool
// settings register their own flags.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string

	BlobBackend string
	BlobDir     string
	AWSRegion   string
	AWSEndpoint string

	LedgerBackend string
	BoltPath      string
	SQLitePath    string
	DynamoTable   string

	SlackWebhookURL string
	FeedInterval    time.Duration
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on /api/v1 (empty = no auth)")

	fs.StringVar(&c.BlobBackend, "blob-backend", BlobFS, "blob store backend (fs|s3)")
	fs.StringVar(&c.BlobDir, "blob-dir", "./data", "root directory for the fs blob backend")
	fs.StringVar(&c.AWSRegion, "aws-region", "us-east-1", "AWS region for s3 and dynamodb")
	fs.StringVar(&c.AWSEndpoint, "aws-endpoint", "", "AWS endpoint override (localstack, minio)")

	fs.StringVar(&c.LedgerBackend, "ledger-backend", LedgerMemory, "alert ledger backend (memory|postgres|bolt|sqlite|dynamodb)")
	fs.StringVar(&c.BoltPath, "bolt-path", "capetl-ledger.db", "bbolt file for the bolt ledger")
	fs.StringVar(&c.SQLitePath, "sqlite-path", "capetl-ledger.sqlite", "database file for the sqlite ledger")
	fs.StringVar(&c.DynamoTable, "dynamodb-table", "", "DynamoDB table for the dynamodb ledger")

	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack webhook URL for new alert summaries")
	fs.DurationVar(&c.FeedInterval, "feed-interval", 0, "poll the alert feed at this interval (0 = only on POST /api/v1/alerts/fetch)")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
// databaseURL is the postgres pool URL, required by the postgres ledger.
func (c *Config) Validate(databaseURL string) error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.FeedInterval < 0 || (c.FeedInterval > 0 && c.FeedInterval < time.Second) {
		errs = append(errs, fmt.Errorf("invalid FEED_INTERVAL %s (must be 0 or >= 1s)", c.FeedInterval))
	}

	switch c.BlobBackend {
	case BlobFS:
		if c.BlobDir == "" {
			errs = append(errs, errors.New("BLOB_DIR is required for the fs blob backend"))
		}
	case BlobS3:
		if c.AWSRegion == "" {
			errs = append(errs, errors.New("AWS_REGION is required for the s3 blob backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid BLOB_BACKEND %q (must be one of %v)", c.BlobBackend, blobBackends))
	}

	switch c.LedgerBackend {
	case LedgerMemory:
	case LedgerPostgres:
		if databaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres ledger"))
		}
	case LedgerBolt:
		if c.BoltPath == "" {
			errs = append(errs, errors.New("BOLT_PATH is required for the bolt ledger"))
		}
	case LedgerSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH is required for the sqlite ledger"))
		}
	case LedgerDynamoDB:
		if c.DynamoTable == "" {
			errs = append(errs, errors.New("DYNAMODB_TABLE is required for the dynamodb ledger"))
		}
		if c.AWSRegion == "" {
			errs = append(errs, errors.New("AWS_REGION is required for the dynamodb ledger"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid LEDGER_BACKEND %q (must be one of %v)", c.LedgerBackend, ledgerBackends))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// NeedsAWS reports whether any selected backend talks to AWS.
func (c *Config) NeedsAWS() bool {
	return c.BlobBackend == BlobS3 || c.LedgerBackend == LedgerDynamoDB
}

// LedgerBackends lists the accepted ledger backend names.
func LedgerBackends() []string { return slices.Clone(ledgerBackends) }
