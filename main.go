package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/peterbourgon/ff/v3"
	"golang.org/x/sync/errgroup"

	"github.com/reelhouse/reelhouse-api/api"
	"github.com/reelhouse/reelhouse-api/chunks"
	"github.com/reelhouse/reelhouse-api/clients"
	"github.com/reelhouse/reelhouse-api/config"
	"github.com/reelhouse/reelhouse-api/handlers"
	"github.com/reelhouse/reelhouse-api/hls"
	"github.com/reelhouse/reelhouse-api/jobs"
	"github.com/reelhouse/reelhouse-api/log"
	"github.com/reelhouse/reelhouse-api/pipeline"
	"github.com/reelhouse/reelhouse-api/playback"
	"github.com/reelhouse/reelhouse-api/pprof"
	"github.com/reelhouse/reelhouse-api/progress"
	"github.com/reelhouse/reelhouse-api/queue"
	"github.com/reelhouse/reelhouse-api/store"
	"github.com/reelhouse/reelhouse-api/subtitles"
	"github.com/reelhouse/reelhouse-api/transcode"
	"github.com/reelhouse/reelhouse-api/video"
)

func main() {
	fs := flag.NewFlagSet("reelhouse-api", flag.ExitOnError)
	cli := config.Cli{}

	version := fs.Bool("version", false, "print application version")

	fs.StringVar(&cli.HTTPAddress, "http-addr", "0.0.0.0:8989", "Address to bind the HTTP API to")
	fs.StringVar(&cli.APIToken, "api-token", "IAmAuthorized", "Auth header value for API access")
	fs.StringVar(&cli.DatabaseURL, "database-url", "", "Connection URL for the metadata Postgres database")
	fs.StringVar(&cli.ObjectStoreEndpoint, "object-store-endpoint", "", "S3-compatible endpoint holding transcoded media")
	fs.StringVar(&cli.ObjectStoreKey, "object-store-key", "", "Access key id for the object store")
	fs.StringVar(&cli.ObjectStoreSecret, "object-store-secret", "", "Access key secret for the object store")
	fs.StringVar(&cli.ObjectStoreRegion, "object-store-region", "us-east-1", "Region of the object store bucket")
	fs.StringVar(&cli.ObjectStoreBucket, "object-store-bucket", "", "Bucket holding transcoded media")
	fs.StringVar(&cli.PublicBaseURL, "public-base-url", "", "CDN or gateway base URL for playback links. Defaults to {endpoint}/{bucket}")
	fs.StringVar(&cli.UploadDir, "upload-dir", os.TempDir(), "Scratch directory for uploaded chunks and transcode output")
	fs.IntVar(&cli.TranscodeConcurrency, "parallel-transcode-jobs", 1, "Number of ffmpeg renditions allowed to run at once")
	fs.IntVar(&cli.QueueConcurrency, "queue-workers", 1, "Number of processing jobs to run concurrently")
	fs.IntVar(&cli.QueueDepth, "queue-depth", config.DefaultQueueDepth, "Maximum number of jobs allowed to wait in the processing queue")
	fs.IntVar(&cli.SegmentDurationSec, "segment-duration", config.DefaultSegmentDurationSec, "HLS target segment duration in seconds")
	fs.DurationVar(&cli.ProbeTimeout, "probe-timeout", video.ProbeTimeout, "Max time to wait for ffprobe on an uploaded file")
	fs.DurationVar(&cli.UploadTimeout, "upload-timeout", clients.DefaultOperationTimeout, "Max time for a single object store operation")
	config.CommaSliceFlag(fs, &cli.AllowedOrigins, "cors-allowed-origins", []string{"*"}, "Comma delimited list of origins allowed to call the API from a browser")
	pprofPort := fs.Int("pprof-port", 6061, "Pprof listen port")
	_ = fs.String("config", "", "config file (optional)")

	err := ff.Parse(fs, os.Args[1:],
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithEnvVarPrefix("REELHOUSE"),
	)
	if err != nil {
		fatalf("error parsing cli: %s", err)
	}
	if len(fs.Args()) > 0 {
		fatalf("unexpected extra arguments on command line: %v", fs.Args())
	}

	if *version {
		fmt.Printf("reelhouse-api version: %s\n", config.Version)
		return
	}

	go func() {
		log.LogNoJobID("pprof listener stopped", "err", pprof.ListenAndServe(*pprofPort))
	}()

	if cli.DatabaseURL == "" {
		fatalf("database-url is required")
	}
	if cli.ObjectStoreBucket == "" {
		fatalf("object-store-bucket is required")
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	metadata, err := store.ConnectPostgres(connectCtx, cli.DatabaseURL)
	cancel()
	if err != nil {
		fatalf("error connecting to postgres: %s", err)
	}
	if err := metadata.EnsureSchema(context.Background()); err != nil {
		fatalf("error ensuring database schema: %s", err)
	}

	objects, err := clients.NewObjectStore(clients.ObjectStoreOptions{
		Endpoint:        cli.ObjectStoreEndpoint,
		Region:          cli.ObjectStoreRegion,
		AccessKeyID:     cli.ObjectStoreKey,
		AccessKeySecret: cli.ObjectStoreSecret,
		Bucket:          cli.ObjectStoreBucket,
		PublicBaseURL:   cli.PublicBaseURL,
		Timeout:         cli.UploadTimeout,
	})
	if err != nil {
		fatalf("error creating object store client: %s", err)
	}

	bus := progress.NewBus()
	publisher := &hls.Publisher{Objects: objects, Metadata: metadata}
	chunkStore := chunks.NewStore(cli.UploadDir)

	var prober video.Prober = video.Probe{}
	if cli.ProbeTimeout > 0 {
		prober = timeoutProber{inner: prober, timeout: cli.ProbeTimeout}
	}

	coordinator := &pipeline.Coordinator{
		Chunks:    chunkStore,
		Objects:   objects,
		Metadata:  metadata,
		Publisher: publisher,
		Prober:    prober,
		Engine:    transcode.NewEngine(bus, cli.TranscodeConcurrency, cli.SegmentDurationSec),
		Bus:       bus,
		Ladder:    video.DefaultLadder,
	}
	jobQueue := queue.New(metadata, coordinator.Run, cli.QueueConcurrency, cli.QueueDepth)
	manager := &jobs.Manager{Metadata: metadata, Queue: jobQueue}

	// rows left active by a previous process are unrecoverable
	if fixed, err := manager.FixStuck(context.Background()); err != nil {
		fatalf("error failing abandoned jobs: %s", err)
	} else if fixed > 0 {
		log.LogNoJobID("failed jobs abandoned by a previous run", "count", fixed)
	}

	collection := &handlers.HandlersCollection{
		Chunks:    chunkStore,
		Jobs:      manager,
		Subtitles: &subtitles.Manager{Objects: objects, Metadata: metadata, Publisher: publisher},
		Playback:  &playback.Handler{Objects: objects, Metadata: metadata},
		Bus:       bus,
	}

	group, ctx := errgroup.WithContext(context.Background())

	group.Go(func() error {
		return handleSignals(ctx)
	})

	group.Go(func() error {
		return api.ListenAndServe(ctx, cli, collection, jobQueue)
	})

	group.Go(func() error {
		jobQueue.Start(ctx)
		return jobQueue.Wait()
	})

	err = group.Wait()
	log.LogNoJobID("Shutdown complete", "reason", err)
}

func handleSignals(ctx context.Context) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	select {
	case s := <-c:
		return fmt.Errorf("caught signal=%v", s)
	case <-ctx.Done():
		return nil
	}
}

// timeoutProber bounds each ffprobe call with the configured deadline.
type timeoutProber struct {
	inner   video.Prober
	timeout time.Duration
}

func (p timeoutProber) Probe(ctx context.Context, path string) (video.SourceInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.inner.Probe(ctx, path)
}

func fatalf(format string, args ...interface{}) {
	log.LogNoJobID(fmt.Sprintf(format, args...))
	os.Exit(1)
}
