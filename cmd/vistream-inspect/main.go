// Command vistream-inspect builds a pipeline from a YAML file against a
// blob-backed table store and prints one line per delivered sub-chunk.
//
//	vistream-inspect -pipeline avg.yaml -store local -root ./tables
//	vistream-inspect -pipeline cal.yaml -store s3 -bucket vis -prefix obs/ -dynamo-table gains
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hupe1980/vistream"
	"github.com/hupe1980/vistream/blobstore"
	vsminio "github.com/hupe1980/vistream/blobstore/minio"
	vss3 "github.com/hupe1980/vistream/blobstore/s3"
	"github.com/hupe1980/vistream/buffer"
	"github.com/hupe1980/vistream/config"
	"github.com/hupe1980/vistream/storage/blobtable"
	"github.com/hupe1980/vistream/transform/calibration"
	"github.com/hupe1980/vistream/transform/calibration/dynamo"
)

type flags struct {
	pipeline    string
	store       string
	root        string
	bucket      string
	prefix      string
	endpoint    string
	secure      bool
	cacheBytes  int64
	memLimit    int64
	ioLimit     int64
	dynamoTable string
	out         string
	verbose     bool
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.pipeline, "pipeline", "", "YAML pipeline file (required)")
	flag.StringVar(&f.store, "store", "local", "blob store: local, s3 or minio")
	flag.StringVar(&f.root, "root", ".", "root directory of the local store")
	flag.StringVar(&f.bucket, "bucket", "", "bucket for s3 and minio")
	flag.StringVar(&f.prefix, "prefix", "", "key prefix inside the bucket")
	flag.StringVar(&f.endpoint, "endpoint", "localhost:9000", "minio endpoint")
	flag.BoolVar(&f.secure, "secure", false, "use TLS for minio")
	flag.Int64Var(&f.cacheBytes, "cache-bytes", 0, "in-memory block cache in bytes (0 disables)")
	flag.Int64Var(&f.memLimit, "memory-limit", 0, "buffer memory limit in bytes (0 = unlimited)")
	flag.Int64Var(&f.ioLimit, "io-limit", 0, "block read limit in bytes per second (0 = unlimited)")
	flag.StringVar(&f.dynamoTable, "dynamo-table", "", "register the DynamoDB table as calibration source \"dynamo\"")
	flag.StringVar(&f.out, "out", "", "enable the materialize layer, writing tables to this local directory")
	flag.BoolVar(&f.verbose, "v", false, "debug logging")
	flag.Parse()
	return f
}

func main() {
	f := parseFlags()
	if f.pipeline == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, f); err != nil {
		fmt.Fprintln(os.Stderr, "vistream-inspect:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, f flags) error {
	p, err := config.LoadPipeline(f.pipeline)
	if err != nil {
		return err
	}

	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return aws.Config{}, fmt.Errorf("load aws config: %w", err)
		}
		awsCfg = &cfg
		return cfg, nil
	}

	blobs, err := openBlobs(ctx, f, loadAWS)
	if err != nil {
		return err
	}
	if f.cacheBytes > 0 {
		blobs = blobstore.NewCachingStore(blobs, blobstore.NewBlobCache(f.cacheBytes))
	}
	st := blobtable.New(blobs)

	sources := map[string]calibration.Source{"unity": calibration.Unity{}}
	if f.dynamoTable != "" {
		cfg, err := loadAWS()
		if err != nil {
			return err
		}
		sources["dynamo"] = dynamo.New(dynamodb.NewFromConfig(cfg), f.dynamoTable)
	}

	var out *blobtable.Store
	if f.out != "" {
		out = blobtable.New(blobstore.NewLocalStore(f.out))
	}
	var reg *vistream.Registry
	if out != nil {
		reg = vistream.StandardRegistry(sources, out)
	} else {
		reg = vistream.StandardRegistry(sources, nil)
	}

	level := slog.LevelInfo
	if f.verbose {
		level = slog.LevelDebug
	}
	metrics := &vistream.BasicMetricsCollector{}

	h, err := vistream.BuildFromConfig(ctx, st, reg, p,
		vistream.WithLogger(vistream.NewTextLogger(level)),
		vistream.WithMetricsCollector(metrics),
		vistream.WithMemoryLimit(f.memLimit),
		vistream.WithIOLimit(f.ioLimit),
	)
	if err != nil {
		return err
	}

	fmt.Printf("%-6s %-6s %-6s %-14s %-8s %-8s %s\n", "CHUNK", "SUB", "ROWS", "TIME", "CHANNELS", "FLAGGED", "INPUTS")
	for buf, err := range h.All(ctx) {
		if err != nil {
			return errors.Join(err, h.Close())
		}
		printSubchunk(buf)
	}
	if err := h.Close(); err != nil {
		return err
	}

	s := metrics.GetStats()
	fmt.Printf("\n%d sub-chunks, %d rows\n", s.SubchunkCount, s.RowCount)
	for _, name := range h.Layers()[1:] {
		ls := s.Layers[name]
		if ls.Count == 0 {
			continue
		}
		fmt.Printf("  %-12s %6d runs %6d errors  avg %.3fms\n",
			name, ls.Count, ls.Errors, float64(ls.TotalNanos)/float64(ls.Count)/1e6)
	}
	return nil
}

func openBlobs(ctx context.Context, f flags, loadAWS func() (aws.Config, error)) (blobstore.BlobStore, error) {
	switch f.store {
	case "local":
		return blobstore.NewLocalStore(f.root), nil
	case "s3":
		if f.bucket == "" {
			return nil, errors.New("-bucket is required for s3")
		}
		cfg, err := loadAWS()
		if err != nil {
			return nil, err
		}
		return vss3.NewStore(awss3.NewFromConfig(cfg), f.bucket, f.prefix), nil
	case "minio":
		if f.bucket == "" {
			return nil, errors.New("-bucket is required for minio")
		}
		client, err := minio.New(f.endpoint, &minio.Options{
			Creds:  credentials.NewEnvMinio(),
			Secure: f.secure,
		})
		if err != nil {
			return nil, fmt.Errorf("minio client: %w", err)
		}
		ok, err := client.BucketExists(ctx, f.bucket)
		if err != nil {
			return nil, fmt.Errorf("minio bucket %q: %w", f.bucket, err)
		}
		if !ok {
			return nil, fmt.Errorf("minio bucket %q does not exist", f.bucket)
		}
		return vsminio.NewStore(client, f.bucket, f.prefix), nil
	default:
		return nil, fmt.Errorf("unknown store %q", f.store)
	}
}

func printSubchunk(buf *buffer.Buffer) {
	flagged := 0
	for _, fl := range buf.Flags {
		if fl {
			flagged++
		}
	}
	frac := 0.0
	if len(buf.Flags) > 0 {
		frac = float64(flagged) / float64(len(buf.Flags))
	}
	inputs := 0
	for _, m := range buf.Meta {
		inputs += m.Counts
	}
	t := 0.0
	if buf.Rows() > 0 {
		t = buf.Time[0]
	}
	fmt.Printf("%-6d %-6d %-6d %-14.3f %-8d %-8.3f %d\n",
		buf.Chunk, buf.Subchunk, buf.Rows(), t, len(buf.Frequencies), frac, inputs)
}
