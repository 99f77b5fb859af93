package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/capetl/internal/blob"
	"github.com/linnemanlabs/capetl/internal/blob/fsblob"
	"github.com/linnemanlabs/capetl/internal/blob/s3blob"
	ac "github.com/linnemanlabs/capetl/internal/cfg"
	"github.com/linnemanlabs/capetl/internal/dedup"
	"github.com/linnemanlabs/capetl/internal/ledger/boltledger"
	"github.com/linnemanlabs/capetl/internal/ledger/dynamoledger"
	"github.com/linnemanlabs/capetl/internal/ledger/memledger"
	"github.com/linnemanlabs/capetl/internal/ledger/pgledger"
	"github.com/linnemanlabs/capetl/internal/ledger/sqliteledger"
	"github.com/linnemanlabs/capetl/internal/postgres"
)

// newAWSSession returns nil when no selected backend needs AWS.
func newAWSSession(appCfg *ac.Config) (*session.Session, error) {
	if !appCfg.NeedsAWS() {
		return nil, nil
	}
	awsCfg := &aws.Config{Region: aws.String(appCfg.AWSRegion)}
	if appCfg.AWSEndpoint != "" {
		awsCfg.Endpoint = aws.String(appCfg.AWSEndpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	return sess, nil
}

func openBlobStore(appCfg *ac.Config, sess *session.Session) (blob.Store, error) {
	switch appCfg.BlobBackend {
	case ac.BlobS3:
		return s3blob.New(sess), nil
	case ac.BlobFS:
		st, err := fsblob.New(appCfg.BlobDir)
		if err != nil {
			return nil, fmt.Errorf("fsblob: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown blob backend %q", appCfg.BlobBackend)
	}
}

// openLedger builds the configured ledger. The returned close func is never
// nil.
func openLedger(ctx context.Context, appCfg *ac.Config, pgCfg postgres.Config, sess *session.Session, L log.Logger) (dedup.Ledger, func(), error) {
	noop := func() {}

	switch appCfg.LedgerBackend {
	case ac.LedgerMemory:
		L.Info(ctx, "using in-memory ledger, alert history is lost on restart")
		return memledger.New(), noop, nil

	case ac.LedgerPostgres:
		pool, err := postgres.NewPool(ctx, pgCfg)
		if err != nil {
			return nil, noop, fmt.Errorf("postgres pool: %w", err)
		}
		l, err := pgledger.New(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, noop, fmt.Errorf("pgledger init: %w", err)
		}
		L.Info(ctx, "using postgres ledger", "max_conns", pgCfg.MaxConns)
		return l, pool.Close, nil

	case ac.LedgerBolt:
		l, err := boltledger.Open(appCfg.BoltPath)
		if err != nil {
			return nil, noop, fmt.Errorf("boltledger open: %w", err)
		}
		L.Info(ctx, "using bolt ledger", "path", appCfg.BoltPath)
		return l, func() { _ = l.Close() }, nil

	case ac.LedgerSQLite:
		l, err := sqliteledger.Open(ctx, appCfg.SQLitePath)
		if err != nil {
			return nil, noop, fmt.Errorf("sqliteledger open: %w", err)
		}
		L.Info(ctx, "using sqlite ledger", "path", appCfg.SQLitePath)
		return l, func() { _ = l.Close() }, nil

	case ac.LedgerDynamoDB:
		if sess == nil {
			return nil, noop, fmt.Errorf("dynamodb ledger needs an aws session")
		}
		L.Info(ctx, "using dynamodb ledger", "table", appCfg.DynamoTable, "region", appCfg.AWSRegion)
		return dynamoledger.New(dynamodb.New(sess), appCfg.DynamoTable), noop, nil

	default:
		return nil, noop, fmt.Errorf("unknown ledger backend %q", appCfg.LedgerBackend)
	}
}
