// Package extract pulls plain text out of uploaded document files.
package extract

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

var ErrUnsupportedFileType = errors.New("unsupported file type")

// SupportedTypes are the accepted file extensions, without the dot.
var SupportedTypes = []string{"pdf", "txt", "docx", "doc", "xlsx", "xls"}

// Supported reports whether the given extension (without dot) can be extracted.
func Supported(fileType string) bool {
	fileType = strings.ToLower(strings.TrimPrefix(fileType, "."))
	for _, t := range SupportedTypes {
		if t == fileType {
			return true
		}
	}
	return false
}

// Text reads the file at path and extracts its plain text based on fileType.
func Text(path, fileType string) (string, error) {
	fileType = strings.ToLower(strings.TrimPrefix(fileType, "."))
	switch fileType {
	case "pdf":
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("open pdf failed: %w", err)
		}
		defer f.Close()
		return PDFText(f)
	case "txt":
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read text file failed: %w", err)
		}
		return string(b), nil
	case "docx", "doc":
		return DocxText(path)
	case "xlsx", "xls":
		return XLSXText(path)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFileType, fileType)
	}
}
