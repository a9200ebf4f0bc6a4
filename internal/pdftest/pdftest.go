// Package pdftest builds small real PDF files for engine tests. The
// generated documents carry one text line per page and optionally a
// flat outline, enough for page extraction and bookmark walking.
package pdftest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// OutlineEntry declares one top-level bookmark.
type OutlineEntry struct {
	Title string
	Page  int // 1-based
}

// Doc describes a fixture document.
type Doc struct {
	Pages   int
	Outline []OutlineEntry
}

// Bytes renders d as a complete PDF.
//
// Object layout: 1 catalog, 2 page tree, 3 font, then one page and
// one content stream per page, then the outline objects.
func Bytes(d Doc) []byte {
	n := d.Pages
	if n <= 0 {
		n = 1
	}
	pageObj := func(i int) int { return 3 + i }       // i is 1-based
	contentObj := func(i int) int { return 3 + n + i }
	outlineRoot := 4 + 2*n

	var objs []string

	catalog := "<< /Type /Catalog /Pages 2 0 R"
	if len(d.Outline) > 0 {
		catalog += fmt.Sprintf(" /Outlines %d 0 R", outlineRoot)
	}
	catalog += " >>"
	objs = append(objs, catalog)

	kids := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		kids = append(kids, fmt.Sprintf("%d 0 R", pageObj(i)))
	}
	objs = append(objs, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), n))

	objs = append(objs, "<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")

	for i := 1; i <= n; i++ {
		objs = append(objs, fmt.Sprintf(
			"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>",
			contentObj(i)))
	}
	for i := 1; i <= n; i++ {
		stream := fmt.Sprintf("BT /F1 24 Tf 72 720 Td (Page %d) Tj ET", i)
		objs = append(objs, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}

	if k := len(d.Outline); k > 0 {
		objs = append(objs, fmt.Sprintf(
			"<< /Type /Outlines /First %d 0 R /Last %d 0 R /Count %d >>",
			outlineRoot+1, outlineRoot+k, k))
		for j, e := range d.Outline {
			page := e.Page
			if page < 1 {
				page = 1
			} else if page > n {
				page = n
			}
			item := fmt.Sprintf("<< /Title (%s) /Parent %d 0 R /Dest [%d 0 R /Fit]",
				escape(e.Title), outlineRoot, pageObj(page))
			if j > 0 {
				item += fmt.Sprintf(" /Prev %d 0 R", outlineRoot+j)
			}
			if j < k-1 {
				item += fmt.Sprintf(" /Next %d 0 R", outlineRoot+j+2)
			}
			item += " >>"
			objs = append(objs, item)
		}
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, body := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objs)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}

// WriteFile renders d into a temp file and returns its path.
func WriteFile(t *testing.T, d Doc) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.pdf")
	if err := os.WriteFile(path, Bytes(d), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

// Encrypt writes an encrypted copy of inPath. With a non-empty userPW
// the copy cannot be opened without the password.
func Encrypt(t *testing.T, inPath, outPath, userPW, ownerPW string) {
	t.Helper()
	conf := model.NewDefaultConfiguration()
	conf.UserPW = userPW
	conf.OwnerPW = ownerPW
	if err := api.EncryptFile(inPath, outPath, conf); err != nil {
		t.Fatalf("encrypt fixture: %v", err)
	}
}

func escape(s string) string {
	return strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`).Replace(s)
}
