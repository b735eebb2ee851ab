package api

import (
	"context"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reelhouse/reelhouse-api/config"
	"github.com/reelhouse/reelhouse-api/handlers"
	"github.com/reelhouse/reelhouse-api/log"
	"github.com/reelhouse/reelhouse-api/middleware"
	"github.com/reelhouse/reelhouse-api/queue"
)

// ListenAndServe runs the HTTP API until ctx is cancelled or the listener
// fails, then shuts down gracefully.
func ListenAndServe(ctx context.Context, cli config.Cli, collection *handlers.HandlersCollection, jobQueue *queue.Queue) error {
	router := NewRouter(cli, collection, jobQueue)
	server := http.Server{Addr: cli.HTTPAddress, Handler: router}
	ctx, cancel := context.WithCancel(ctx)

	log.LogNoJobID(
		"Starting reelhouse API!",
		"version", config.Version,
		"host", cli.HTTPAddress,
	)

	var err error
	go func() {
		err = server.ListenAndServe()
		cancel()
	}()

	<-ctx.Done()
	if err != nil {
		return err
	}

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

// NewRouter wires the full HTTP surface. Upload and job management sit behind
// bearer-token auth; health, playback and progress are public.
func NewRouter(cli config.Cli, collection *handlers.HandlersCollection, jobQueue *queue.Queue) *httprouter.Router {
	router := httprouter.New()
	withLogging := middleware.LogRequest(log.Base())
	withCORS := middleware.AllowCORS(cli.AllowedOrigins)
	withAuth := middleware.IsAuthorized
	withCapacityChecking := middleware.HasCapacity

	// Simple endpoint for healthchecks
	router.GET("/ok", withLogging(collection.Ok()))
	router.Handler(http.MethodGet, "/metrics", promhttp.Handler())

	// Chunked upload surface
	router.POST("/upload-chunk",
		withLogging(withCORS(withAuth(cli.APIToken, collection.UploadChunk()))))
	router.GET("/check-upload-chunk",
		withLogging(withCORS(withAuth(cli.APIToken, collection.CheckUploadChunk()))))
	router.POST("/complete-upload",
		withLogging(withCORS(withAuth(cli.APIToken,
			withCapacityChecking(jobQueue, collection.CompleteUpload())))))
	router.POST("/trailer-upload",
		withLogging(withCORS(withAuth(cli.APIToken,
			withCapacityChecking(jobQueue, collection.TrailerUpload())))))
	router.POST("/upload-subtitle",
		withLogging(withCORS(withAuth(cli.APIToken, collection.UploadSubtitle()))))

	// Job management
	router.GET("/processing-jobs",
		withLogging(withCORS(withAuth(cli.APIToken, collection.ListProcessingJobs()))))
	router.POST("/processing-jobs/:id/cancel",
		withLogging(withCORS(withAuth(cli.APIToken, collection.CancelProcessingJob()))))
	router.POST("/processing-jobs/:id/retry",
		withLogging(withCORS(withAuth(cli.APIToken,
			withCapacityChecking(jobQueue, collection.RetryProcessingJob())))))
	router.DELETE("/processing-jobs",
		withLogging(withCORS(withAuth(cli.APIToken, collection.ClearProcessingJobs()))))

	// Playback and progress push, consumed by players and upload UIs
	router.GET("/stream/:trackId", withLogging(withCORS(collection.Stream())))
	router.GET("/hls/*key", withLogging(withCORS(collection.HLS())))
	router.GET("/progress/:clientId", withLogging(collection.Progress()))

	return router
}
