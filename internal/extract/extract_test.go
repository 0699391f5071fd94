package extract

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestSupported(t *testing.T) {
	assert.True(t, Supported("pdf"))
	assert.True(t, Supported("PDF"))
	assert.True(t, Supported(".docx"))
	assert.True(t, Supported("xlsx"))
	assert.False(t, Supported("exe"))
	assert.False(t, Supported(""))
}

func TestTextFromTxtFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "note.txt")
	require.NoError(t, os.WriteFile(path, []byte("plain text content"), 0o644))

	text, err := Text(path, "txt")
	require.NoError(t, err)
	assert.Equal(t, "plain text content", text)
}

func TestTextUnsupportedType(t *testing.T) {
	_, err := Text("whatever.bin", "bin")
	assert.ErrorIs(t, err, ErrUnsupportedFileType)
}

func writeTestDocx(t *testing.T, documentXML string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.docx")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(documentXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return path
}

func TestDocxTextParagraphsAndBreaks(t *testing.T) {
	path := writeTestDocx(t, `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>First paragraph.</w:t></w:r></w:p>
    <w:p><w:r><w:t>Line one</w:t><w:br/><w:t>line two</w:t></w:r></w:p>
  </w:body>
</w:document>`)

	text, err := DocxText(path)
	require.NoError(t, err)
	assert.Contains(t, text, "First paragraph.")
	assert.Contains(t, text, "Line one\nline two")
}

func TestDocxTextMissingDocumentXML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.docx")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	_, err = DocxText(path)
	assert.Error(t, err)
}

func TestXLSXTextFlattensRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.xlsx")

	wb := excelize.NewFile()
	require.NoError(t, wb.SetCellValue("Sheet1", "A1", "name"))
	require.NoError(t, wb.SetCellValue("Sheet1", "B1", "role"))
	require.NoError(t, wb.SetCellValue("Sheet1", "A2", "alice"))
	require.NoError(t, wb.SetCellValue("Sheet1", "B2", "teacher"))
	require.NoError(t, wb.SaveAs(path))

	text, err := XLSXText(path)
	require.NoError(t, err)
	assert.Equal(t, "name role\nalice teacher", text)
}
