// Package docparse extracts plain text from candidate documents so the
// screening prompt can consume CVs uploaded as binary attachments.
package docparse

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"code.sajari.com/docconv"
	"go.uber.org/zap"
)

type Parser struct {
	workDir string
	logger  *zap.Logger
}

func New(logger *zap.Logger, workDir string) *Parser {
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &Parser{
		workDir: workDir,
		logger:  logger,
	}
}

// ExtractText converts the document bytes to plain text based on the file
// extension. PDF/Office formats go through docconv, which needs the payload
// on disk; the scratch file is removed before returning.
func (p *Parser) ExtractText(filename string, data []byte) (string, error) {
	fileType := strings.ToLower(filepath.Ext(filename))

	switch fileType {
	case ".pdf", ".docx", ".doc", ".rtf", ".odt":
		if err := os.MkdirAll(p.workDir, 0o755); err != nil {
			return "", fmt.Errorf("create work dir: %w", err)
		}

		scratch, err := os.CreateTemp(p.workDir, "attachment_*"+fileType)
		if err != nil {
			return "", fmt.Errorf("create scratch file: %w", err)
		}
		defer os.Remove(scratch.Name())

		if _, err := scratch.Write(data); err != nil {
			scratch.Close()
			return "", fmt.Errorf("write scratch file: %w", err)
		}
		scratch.Close()

		res, err := docconv.ConvertPath(scratch.Name())
		if err != nil {
			return "", fmt.Errorf("parse document: %w", err)
		}

		p.logger.Debug("extracted document text",
			zap.String("filename", filename),
			zap.Int("bytes", len(data)),
			zap.Int("text_length", len(res.Body)),
		)

		return res.Body, nil
	case ".txt", ".md":
		return string(data), nil
	default:
		return "", fmt.Errorf("unsupported file type: %s", fileType)
	}
}

// Supported reports whether the filename has an extension ExtractText handles.
func Supported(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf", ".docx", ".doc", ".rtf", ".odt", ".txt", ".md":
		return true
	default:
		return false
	}
}
