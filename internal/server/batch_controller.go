package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/acm19/picbatch/internal/actionlog"
	"github.com/acm19/picbatch/internal/convert"
)

type recordJSON struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

type resultJSON struct {
	OutputName   string  `json:"outputName"`
	OriginalName string  `json:"originalName"`
	OriginalSize int64   `json:"originalSize"`
	OutputSize   int64   `json:"outputSize"`
	Format       string  `json:"format"`
	Quality      float64 `json:"quality"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	DownloadURL  string  `json:"downloadUrl"`
	PreviewURL   string  `json:"previewUrl,omitempty"`
}

type reportJSON struct {
	BatchID      string       `json:"batchId"`
	Admitted     int          `json:"admitted"`
	Completed    int          `json:"completed"`
	Failed       int          `json:"failed"`
	Warnings     []string     `json:"warnings"`
	Items        []recordJSON `json:"items"`
	Results      []resultJSON `json:"results"`
	BulkDownload bool         `json:"bulkDownload"`
}

type batchController struct {
	conv    Converter
	actions actionlog.Notifier
}

func newBatchController(conv Converter, actions actionlog.Notifier) *batchController {
	return &batchController{conv: conv, actions: actions}
}

func (b *batchController) notify(c *gin.Context, action string) {
	if b.actions != nil {
		b.actions.Log(c.Request.Context(), action)
	}
}

// uploadOverhead is the multipart framing allowed on top of the admitted payload.
const uploadOverhead = 1 << 20

// Convert accepts multipart "files" and runs them as one batch.
func (b *batchController) Convert(c *gin.Context) {
	maxItems, maxItemBytes := b.conv.Limits()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, int64(maxItems)*maxItemBytes+uploadOverhead)

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit)})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "expected multipart form with files"})
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no files submitted"})
		return
	}

	items := make([]convert.SourceItem, 0, len(headers))
	for i, fh := range headers {
		// Items past the batch limit or above the size limit are rejected on their
		// metadata alone, so their bytes are never read.
		if i >= maxItems || fh.Size > maxItemBytes {
			items = append(items, convert.SourceItem{OriginalName: fh.Filename, ByteSize: fh.Size})
			continue
		}
		item, err := sourceItem(fh)
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": ErrUpload.Error()})
			return
		}
		items = append(items, item)
	}

	report := b.conv.Submit(c.Request.Context(), items)

	resp := reportJSON{
		BatchID:      report.BatchID,
		Admitted:     report.Admitted,
		Completed:    report.Completed,
		Failed:       report.Failed,
		Warnings:     report.Warnings(),
		Items:        recordsJSON(report.Items),
		Results:      resultsJSON(b.conv.Results()),
		BulkDownload: b.conv.BulkDownloadAvailable(),
	}
	c.JSON(http.StatusOK, resp)
}

func sourceItem(fh *multipart.FileHeader) (convert.SourceItem, error) {
	f, err := fh.Open()
	if err != nil {
		return convert.SourceItem{}, fmt.Errorf("failed to open upload %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return convert.SourceItem{}, fmt.Errorf("failed to read upload %s: %w", fh.Filename, err)
	}
	return convert.SourceItem{
		OriginalName: fh.Filename,
		ByteSize:     fh.Size,
		MIMEHint:     fh.Header.Get("Content-Type"),
		Payload:      data,
	}, nil
}

// Processing returns the records of the current batch.
func (b *batchController) Processing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": recordsJSON(b.conv.Processing())})
}

// Results lists the accumulated results.
func (b *batchController) Results(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"results":      resultsJSON(b.conv.Results()),
		"bulkDownload": b.conv.BulkDownloadAvailable(),
	})
}

// Download streams one output.
func (b *batchController) Download(c *gin.Context) {
	name := c.Param("name")
	rc, r, err := b.conv.Open(c.Request.Context(), name)
	if err != nil {
		b.fail(c, err)
		return
	}
	defer rc.Close()

	c.DataFromReader(http.StatusOK, r.OutputSize, r.Format.MIMEType(), rc, map[string]string{
		"Content-Disposition": attachment(r.OutputName),
	})
}

// Remove drops one output.
func (b *batchController) Remove(c *gin.Context) {
	if err := b.conv.Remove(c.Request.Context(), c.Param("name")); err != nil {
		b.fail(c, err)
		return
	}
	b.notify(c, actionlog.ActionRemoveResult)
	c.Status(http.StatusNoContent)
}

// Discard drops every output.
func (b *batchController) Discard(c *gin.Context) {
	if err := b.conv.Discard(c.Request.Context()); err != nil {
		b.fail(c, err)
		return
	}
	b.notify(c, actionlog.ActionDiscardResults)
	c.Status(http.StatusNoContent)
}

// Archive sends the archive of every completed output.
func (b *batchController) Archive(c *gin.Context) {
	data, err := b.conv.BuildArchive(c.Request.Context())
	if err != nil {
		b.fail(c, err)
		return
	}
	b.notify(c, actionlog.ActionDownloadArchive)
	c.Header("Content-Disposition", attachment(b.conv.ArchiveName()))
	c.Data(http.StatusOK, b.conv.ArchiveContentType(), data)
}

func (b *batchController) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	if errors.Is(err, convert.ErrResultNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": ErrInternal.Error()})
}

func attachment(name string) string {
	return fmt.Sprintf("attachment; filename*=UTF-8''%s", url.PathEscape(name))
}

func recordsJSON(records []convert.ProcessingRecord) []recordJSON {
	out := make([]recordJSON, 0, len(records))
	for _, r := range records {
		out = append(out, recordJSON{Index: r.Index, Name: r.DisplayName, State: string(r.State), Error: r.Error})
	}
	return out
}

func resultsJSON(results []convert.ResultRecord) []resultJSON {
	out := make([]resultJSON, 0, len(results))
	for _, r := range results {
		out = append(out, resultJSON{
			OutputName:   r.OutputName,
			OriginalName: r.OriginalName,
			OriginalSize: r.OriginalSize,
			OutputSize:   r.OutputSize,
			Format:       r.Format.String(),
			Quality:      r.Quality,
			Width:        r.Width,
			Height:       r.Height,
			DownloadURL:  "/api/results/" + url.PathEscape(r.OutputName),
			PreviewURL:   r.Handle.URL,
		})
	}
	return out
}
