package api

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RouterOptions — ограничение частоты запросов; RateLimit <= 0 — без ограничения.
type RouterOptions struct {
	RateLimit float64
	RateBurst int
}

// NewRouter собирает маршруты поверх движка.
func NewRouter(eng Engine, logger *zap.SugaredLogger, opts RouterOptions) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	r := gin.New()
	r.Use(recovery(logger), requestLogger(logger))
	if l := newLimiter(opts.RateLimit, opts.RateBurst); l != nil {
		r.Use(rateLimit(l))
	}

	r.GET("/healthz", HealthHandler(eng))

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/meta/types", MetaListHandler(eng))
		apiGroup.GET("/meta/types/:type", MetaTypeHandler(eng))
		apiGroup.GET("/meta/types/:type/schema", MetaSchemaHandler(eng))

		apiGroup.POST("/types/:type/entities", CreateHandler(eng))
		apiGroup.GET("/types/:type/entities", ListHandler(eng))
		apiGroup.POST("/types/:type/search", SearchHandler(eng))
		apiGroup.POST("/types/:type/import", ImportHandler(eng))

		apiGroup.GET("/entities/:id", GetOneHandler(eng))
		apiGroup.PATCH("/entities/:id", UpdateHandler(eng))
		apiGroup.DELETE("/entities/:id", DeleteHandler(eng))
		apiGroup.GET("/entities/:id/validate", ValidateHandler(eng))
		apiGroup.GET("/entities/:id/export", ExportHandler(eng))
	}
	return r
}

const shutdownTimeout = 10 * time.Second

// RunServer слушает addr до отмены ctx, затем мягко останавливается.
func RunServer(ctx context.Context, addr string, handler http.Handler, logger *zap.SugaredLogger) error {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Infow("HTTP server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}
	logger.Infow("HTTP server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "http shutdown")
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server")
	}
	return nil
}
