// cmd/app.go
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/redis/go-redis/v9"

	"github.com/aceteam-ai/paygrid/internal/blob"
	"github.com/aceteam-ai/paygrid/internal/cache"
	"github.com/aceteam-ai/paygrid/internal/config"
	"github.com/aceteam-ai/paygrid/internal/extract"
	"github.com/aceteam-ai/paygrid/internal/jobs"
	"github.com/aceteam-ai/paygrid/internal/ledger"
	"github.com/aceteam-ai/paygrid/internal/normalize"
	"github.com/aceteam-ai/paygrid/internal/query"
	"github.com/aceteam-ai/paygrid/internal/queue"
	"github.com/aceteam-ai/paygrid/internal/store"
)

// app holds the wired engine for one command invocation.
type app struct {
	cfg        *config.Config
	log        *slog.Logger
	rdb        *redis.Client
	store      *store.Store
	queue      *queue.Client
	blobs      blob.Store
	ledger     *ledger.Store
	queries    *query.Service
	cache      *cache.Invalidator
	jobs       *jobs.Orchestrator
	normalizer *normalize.Service
}

// newApp loads the configuration and connects every backing service.
// withExtractor builds the extraction strategy chain, which only workers use.
func newApp(ctx context.Context, withExtractor bool) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	log := slog.Default()
	a := &app{cfg: cfg, log: log}

	Debug("connecting to redis at %s", store.MaskURL(cfg.Redis.URL))
	a.rdb, err = store.Dial(ctx, cfg.Redis.URL, cfg.Redis.Password)
	if err != nil {
		return nil, err
	}
	a.store = store.New(a.rdb, store.WithLogger(log))

	if len(cfg.Districts) > 0 {
		if err := a.store.RegisterDistricts(ctx, cfg.Districts...); err != nil {
			a.close()
			return nil, err
		}
	}

	a.queue = queue.NewClient(a.rdb, queue.Config{
		ConsumerGroup: cfg.Queue.Group,
		Block:         cfg.Queue.Block,
		MaxAttempts:   cfg.Queue.MaxAttempts,
		ClaimIdle:     cfg.Queue.ClaimIdle,
	})

	if a.blobs, err = openBlobs(ctx, cfg.Blob); err != nil {
		a.close()
		return nil, err
	}

	if dir := filepath.Dir(cfg.Ledger.Path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			a.close()
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}
	if a.ledger, err = ledger.OpenStore(cfg.Ledger.Path); err != nil {
		a.close()
		return nil, err
	}

	a.queries = query.New(a.store, query.Config{CacheTTL: cfg.Cache.TTL, CacheSize: cfg.Cache.Size}, log)
	a.cache = cache.NewInvalidator(a.rdb, a.queries, log)

	opts := []jobs.Option{
		jobs.WithLogger(log),
		jobs.WithInvalidator(a.cache),
		jobs.WithLedger(a.ledger),
	}
	if withExtractor {
		ex, err := a.extractor(ctx)
		if err != nil {
			a.close()
			return nil, err
		}
		opts = append(opts, jobs.WithExtractor(ex))
	}
	a.jobs = jobs.New(a.store, a.blobs, a.queue, jobs.Config{
		Retention:     cfg.Jobs.Retention,
		PreviewLimit:  cfg.Jobs.PreviewLimit,
		ApplyGuardTTL: cfg.Jobs.ApplyGuardTTL,
	}, opts...)

	a.normalizer = normalize.New(a.store, a.queue, normalize.Config{RunningTTL: cfg.Normalize.RunningTTL},
		normalize.WithLogger(log),
		normalize.WithInvalidator(a.cache),
		normalize.WithLedger(a.ledger),
	)
	return a, nil
}

func openBlobs(ctx context.Context, cfg config.BlobConfig) (blob.Store, error) {
	switch cfg.Driver {
	case "s3":
		return blob.NewS3Store(ctx, blob.S3Config{
			Bucket:   cfg.Bucket,
			Prefix:   cfg.Prefix,
			Region:   cfg.Region,
			Endpoint: cfg.Endpoint,
		})
	default:
		return blob.NewFSStore(cfg.Dir)
	}
}

// extractor builds the strategy chain in priority order: the external text
// tool, the embedded PDF text library, then OCR when enabled. OCR reads the
// document from S3, so it needs the s3 blob driver.
func (a *app) extractor(ctx context.Context) (*extract.Extractor, error) {
	strategies := []extract.Strategy{
		extract.NewPdftotext(a.cfg.Extract.Pdftotext, extract.ExecRunner{Log: a.log}),
		extract.NewPDFLib(),
	}
	if a.cfg.Extract.OCR {
		if a.cfg.Blob.Driver != "s3" {
			a.log.Warn("ocr disabled: documents are not stored in s3", "blob_driver", a.cfg.Blob.Driver)
		} else {
			awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(a.cfg.Blob.Region))
			if err != nil {
				return nil, fmt.Errorf("load aws config: %w", err)
			}
			strategies = append(strategies, extract.NewTextract(textract.NewFromConfig(awsCfg), extract.OCRConfig{
				PollInterval: a.cfg.Extract.PollInterval,
				MaxWait:      a.cfg.Extract.MaxWait,
			}, a.log))
		}
	}
	ex := extract.New(a.log, strategies...)
	Debug("extraction strategies: %v", ex.Strategies())
	return ex, nil
}

func (a *app) close() {
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.log.Warn("failed to close ledger", "error", err)
		}
	}
	if a.store != nil {
		a.store.Close()
	} else if a.rdb != nil {
		a.rdb.Close()
	}
}

// withApp runs fn against a freshly wired app and closes it afterwards.
func withApp(ctx context.Context, withExtractor bool, fn func(*app) error) error {
	a, err := newApp(ctx, withExtractor)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}
