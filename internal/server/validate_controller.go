package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/acm19/picbatch/internal/convert"
)

type validateController struct {
	validator convert.Validator
}

func newValidateController(validator convert.Validator) *validateController {
	return &validateController{validator: validator}
}

// Validate sniffs multipart "file" against the allow-list. A disallowed type is 415.
func (v *validateController) Validate(c *gin.Context) {
	if v.validator == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "validation is not configured"})
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no file uploaded"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": ErrUpload.Error()})
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": ErrUpload.Error()})
		return
	}

	verdict, err := v.validator.Validate(c.Request.Context(), fh.Filename, data)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error validating file"})
		return
	}
	if !verdict.Allowed {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{
			"allowed":  false,
			"mimeType": verdict.MIMEType,
			"error":    verdict.Reason,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"allowed": true, "mimeType": verdict.MIMEType})
}
