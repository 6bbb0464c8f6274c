// Package server exposes the conversion pipeline over HTTP.
package server

import (
	"context"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/acm19/picbatch/internal/actionlog"
	"github.com/acm19/picbatch/internal/convert"
)

// Converter is the part of convert.Coordinator the transport drives.
type Converter interface {
	Submit(ctx context.Context, items []convert.SourceItem) convert.Report
	Processing() []convert.ProcessingRecord
	Results() []convert.ResultRecord
	Open(ctx context.Context, name string) (io.ReadCloser, convert.ResultRecord, error)
	Remove(ctx context.Context, name string) error
	Discard(ctx context.Context) error
	BuildArchive(ctx context.Context) ([]byte, error)
	ArchiveName() string
	ArchiveContentType() string
	BulkDownloadAvailable() bool
	Limits() (maxItems int, maxItemBytes int64)
}

// maxMultipartMemory bounds the in-memory part of an upload; the rest spills to disk.
const maxMultipartMemory = 32 << 20

// NewRouter builds the gin engine. validator may be nil.
func NewRouter(conv Converter, validator convert.Validator, actions actionlog.Notifier) *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = maxMultipartMemory
	r.Use(gin.Recovery())
	r.Use(loggerMiddleware())

	batch := newBatchController(conv, actions)
	files := newValidateController(validator)
	actionCtl := newActionController(actions)

	api := r.Group("/api")
	api.POST("/convert", batch.Convert)
	api.GET("/processing", batch.Processing)
	api.GET("/results", batch.Results)
	api.GET("/results/:name", batch.Download)
	api.DELETE("/results/:name", batch.Remove)
	api.DELETE("/results", batch.Discard)
	api.GET("/archive", batch.Archive)
	api.POST("/validate", files.Validate)
	api.Any("/log-action", actionCtl.LogAction)
	api.GET("/log-ip", actionCtl.LogIP)
	return r
}
