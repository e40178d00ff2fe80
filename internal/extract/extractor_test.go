package extract

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestExtractBytes_plain(t *testing.T) {
	e := NewExtractor()
	content := []byte("Hello world\nLine 2")
	got, err := e.ExtractBytes(content, ".txt")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "Hello world\nLine 2" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_plainInvalidUTF8(t *testing.T) {
	e := NewExtractor()
	got, err := e.ExtractBytes([]byte("hello\x80world"), ".md")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "hello�world" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_excel(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	f.SetCellValue("Sheet1", "A1", "Title")
	f.SetCellValue("Sheet1", "A2", "Value 1")
	f.SetCellValue("Sheet1", "B2", "Value 2")
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}

	got, err := NewExtractor().ExtractBytes(buf.Bytes(), ".xlsx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "Title\nValue 1\tValue 2" {
		t.Errorf("got %q", got)
	}
}

func TestExtract_plainFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.txt")
	if err := os.WriteFile(path, []byte("File content"), 0600); err != nil {
		t.Fatal(err)
	}
	got, err := NewExtractor().Extract(path)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got != "File content" {
		t.Errorf("got %q", got)
	}
}

func TestExtract_nonexistent(t *testing.T) {
	if _, err := NewExtractor().Extract("/nonexistent/path/file.txt"); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestExtractBytes_html(t *testing.T) {
	page := `<html><head><title>T</title><style>p{}</style><script>var x = "no";</script></head>
<body>
  <nav>Menu</nav>
  <h1>Welcome</h1>
  <article><p>Cats are   mammals.</p><p>Dogs too.</p></article>
  <div>loose text</div>
  <section>Fish <b>are</b> not.</section>
</body></html>`
	got, err := NewExtractor().ExtractBytes([]byte(page), ".html")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	want := "Welcome Cats are mammals. Dogs too. Fish are not."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestHTMLText_fallbackToBody(t *testing.T) {
	got, err := HTMLText(strings.NewReader(`<html><body><div>Only  a div</div><script>x()</script></body></html>`))
	if err != nil {
		t.Fatal(err)
	}
	if got != "Only a div" {
		t.Errorf("got %q", got)
	}
}

func minimalDocx(body string, contentTypes string, docPath string) []byte {
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	if contentTypes != "" {
		fw, _ := w.Create("[Content_Types].xml")
		_, _ = fw.Write([]byte(contentTypes))
	}
	fw, _ := w.Create(docPath)
	_, _ = fw.Write([]byte(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` + body + `</w:body></w:document>`))
	_ = w.Close()
	return buf.Bytes()
}

func TestExtractBytes_docx(t *testing.T) {
	body := `<w:p w:rsidR="00A1"><w:r><w:t>Hello</w:t></w:r><w:r><w:t xml:space="preserve"> world</w:t></w:r></w:p><w:p><w:r><w:t>Second</w:t></w:r></w:p>`
	got, err := NewExtractor().ExtractBytes(minimalDocx(body, "", "word/document.xml"), ".docx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "Hello world\nSecond" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_docxContentTypes(t *testing.T) {
	ct := `<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"><Override ContentType="` + docxMainContentType + `" PartName="/word/document2.xml"/></Types>`
	body := `<w:p><w:r><w:t>Moved part</w:t></w:r></w:p>`
	got, err := NewExtractor().ExtractBytes(minimalDocx(body, ct, "word/document2.xml"), ".docx")
	if err != nil {
		t.Fatalf("ExtractBytes: %v", err)
	}
	if got != "Moved part" {
		t.Errorf("got %q", got)
	}
}

func TestExtractBytes_docxNotZip(t *testing.T) {
	if _, err := NewExtractor().ExtractBytes([]byte("not a zip"), ".docx"); err == nil {
		t.Error("expected error")
	}
}
