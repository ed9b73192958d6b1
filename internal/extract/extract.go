// Package extract turns raw document bytes into plain text for chunking.
package extract

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kailas-cloud/ragdex/internal/domain"
)

// Text extracts plain text from raw document bytes according to the
// document's MIME type. Uploads are bounded by the store's size ceiling,
// so buffering the stream here is safe.
func Text(mimeType string, r io.Reader) (string, error) {
	switch mimeType {
	case domain.MIMETypeText:
		data, err := io.ReadAll(r)
		if err != nil {
			return "", fmt.Errorf("read text document: %w", err)
		}
		return string(data), nil

	case domain.MIMETypePDF:
		data, err := io.ReadAll(r)
		if err != nil {
			return "", fmt.Errorf("read pdf document: %w", err)
		}
		return pdfText(data)

	default:
		return "", fmt.Errorf("extract %q: %w", mimeType, domain.ErrUnsupportedMediaType)
	}
}

func pdfText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var sb strings.Builder
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extract pdf page %d: %w", pageNum, err)
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}

	return sb.String(), nil
}
