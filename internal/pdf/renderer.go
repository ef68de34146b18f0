// Package pdf renders the documents the data plane sells.
//
// Validation errors (empty content, oversized input, unknown page size) are
// sentinel errors so handlers can map them to 4xx; anything else coming out
// of the render is a server-side failure.
package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/bfitz887/pdf-api/internal/config"
)

// Renderer errors
var (
	ErrEmptyDocument   = errors.New("document has no content")
	ErrInvalidPageSize = errors.New("invalid page size")
	ErrUploadTooLarge  = errors.New("upload exceeds size limit")
)

const (
	fontBody    = "Helvetica"
	fontMono    = "Courier"
	lineHeight  = 5.5
	maxSections = 100
)

// Renderer builds PDF documents
type Renderer struct {
	maxUploadBytes int64
}

// NewRenderer creates a PDF renderer
func NewRenderer(cfg *config.PDFConfig) *Renderer {
	return &Renderer{maxUploadBytes: cfg.MaxUploadBytes}
}

// MaxUploadBytes returns the upload size cap
func (r *Renderer) MaxUploadBytes() int64 {
	return r.maxUploadBytes
}

func normalizePageSize(size string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(size)) {
	case "", "a4":
		return "A4", nil
	case "letter":
		return "Letter", nil
	case "legal":
		return "Legal", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPageSize, size)
	}
}

func newDocument(pageSize string, landscape bool) *fpdf.Fpdf {
	orientation := "P"
	if landscape {
		orientation = "L"
	}
	doc := fpdf.New(orientation, "mm", pageSize, "")
	doc.SetMargins(20, 20, 20)
	doc.SetAutoPageBreak(true, 20)
	return doc
}

func output(doc *fpdf.Fpdf) ([]byte, error) {
	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render document: %w", err)
	}
	return buf.Bytes(), nil
}

// TextRequest describes a simple text document
type TextRequest struct {
	Title     string `json:"title"`
	Body      string `json:"body" binding:"required"`
	PageSize  string `json:"page_size"`
	Landscape bool   `json:"landscape"`
}

// RenderText renders a title plus flowing paragraphs
func (r *Renderer) RenderText(req *TextRequest) ([]byte, error) {
	if strings.TrimSpace(req.Body) == "" {
		return nil, ErrEmptyDocument
	}
	pageSize, err := normalizePageSize(req.PageSize)
	if err != nil {
		return nil, err
	}

	doc := newDocument(pageSize, req.Landscape)
	if req.Title != "" {
		doc.SetTitle(req.Title, true)
	}
	addPageNumbers(doc)
	doc.AddPage()

	if req.Title != "" {
		doc.SetFont(fontBody, "B", 18)
		doc.MultiCell(0, 9, req.Title, "", "L", false)
		doc.Ln(4)
	}

	doc.SetFont(fontBody, "", 11)
	for _, paragraph := range strings.Split(req.Body, "\n") {
		if strings.TrimSpace(paragraph) == "" {
			doc.Ln(lineHeight)
			continue
		}
		doc.MultiCell(0, lineHeight, paragraph, "", "L", false)
	}

	return output(doc)
}

// Table is an optional two-dimensional block inside a report section
type Table struct {
	Columns []string   `json:"columns" binding:"required"`
	Rows    [][]string `json:"rows"`
}

// ReportSection is one numbered section of a report
type ReportSection struct {
	Heading string `json:"heading" binding:"required"`
	Body    string `json:"body"`
	Table   *Table `json:"table,omitempty"`
}

// ReportRequest describes a structured report
type ReportRequest struct {
	Title    string          `json:"title" binding:"required"`
	Author   string          `json:"author"`
	Subject  string          `json:"subject"`
	Sections []ReportSection `json:"sections" binding:"required"`
	PageSize string          `json:"page_size"`
}

// RenderReport renders a report with a title block, numbered sections, and
// optional tables
func (r *Renderer) RenderReport(req *ReportRequest) ([]byte, error) {
	if len(req.Sections) == 0 {
		return nil, ErrEmptyDocument
	}
	if len(req.Sections) > maxSections {
		return nil, fmt.Errorf("%w: too many sections", ErrEmptyDocument)
	}
	pageSize, err := normalizePageSize(req.PageSize)
	if err != nil {
		return nil, err
	}

	doc := newDocument(pageSize, false)
	doc.SetTitle(req.Title, true)
	if req.Author != "" {
		doc.SetAuthor(req.Author, true)
	}
	if req.Subject != "" {
		doc.SetSubject(req.Subject, true)
	}
	addPageNumbers(doc)
	doc.AddPage()

	doc.SetFont(fontBody, "B", 22)
	doc.MultiCell(0, 10, req.Title, "", "L", false)
	doc.SetFont(fontBody, "", 10)
	doc.SetTextColor(110, 110, 110)
	if req.Author != "" {
		doc.CellFormat(0, 6, req.Author, "", 1, "L", false, 0, "")
	}
	if req.Subject != "" {
		doc.CellFormat(0, 6, req.Subject, "", 1, "L", false, 0, "")
	}
	doc.CellFormat(0, 6, "Generated "+time.Now().UTC().Format("2006-01-02 15:04 UTC"), "", 1, "L", false, 0, "")
	doc.SetTextColor(0, 0, 0)
	doc.Ln(6)

	for i, section := range req.Sections {
		doc.SetFont(fontBody, "B", 14)
		doc.MultiCell(0, 7, fmt.Sprintf("%d. %s", i+1, section.Heading), "", "L", false)
		doc.Ln(1)

		if section.Body != "" {
			doc.SetFont(fontBody, "", 11)
			for _, paragraph := range strings.Split(section.Body, "\n") {
				if strings.TrimSpace(paragraph) == "" {
					doc.Ln(lineHeight)
					continue
				}
				doc.MultiCell(0, lineHeight, paragraph, "", "L", false)
			}
		}

		if section.Table != nil && len(section.Table.Columns) > 0 {
			doc.Ln(2)
			renderTable(doc, section.Table)
		}
		doc.Ln(4)
	}

	return output(doc)
}

func renderTable(doc *fpdf.Fpdf, t *Table) {
	pageWidth, _ := doc.GetPageSize()
	left, _, right, _ := doc.GetMargins()
	colWidth := (pageWidth - left - right) / float64(len(t.Columns))

	doc.SetFont(fontBody, "B", 10)
	doc.SetFillColor(235, 235, 235)
	for _, col := range t.Columns {
		doc.CellFormat(colWidth, 7, col, "1", 0, "L", true, 0, "")
	}
	doc.Ln(-1)

	doc.SetFont(fontBody, "", 10)
	for _, row := range t.Rows {
		for i := range t.Columns {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			doc.CellFormat(colWidth, 6.5, cell, "1", 0, "L", false, 0, "")
		}
		doc.Ln(-1)
	}
}

// RenderUpload wraps an uploaded text file into a paginated document
func (r *Renderer) RenderUpload(filename string, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyDocument
	}
	if int64(len(data)) > r.maxUploadBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrUploadTooLarge, len(data))
	}

	doc := newDocument("A4", false)
	if filename != "" {
		doc.SetTitle(filename, true)
	}
	addPageNumbers(doc)
	doc.AddPage()

	if filename != "" {
		doc.SetFont(fontBody, "B", 14)
		doc.MultiCell(0, 7, filename, "", "L", false)
		doc.Ln(3)
	}

	doc.SetFont(fontMono, "", 9)
	content := strings.ReplaceAll(string(data), "\r\n", "\n")
	for _, line := range strings.Split(content, "\n") {
		if line == "" {
			doc.Ln(4.5)
			continue
		}
		doc.MultiCell(0, 4.5, line, "", "L", false)
	}

	return output(doc)
}

func addPageNumbers(doc *fpdf.Fpdf) {
	doc.AliasNbPages("")
	doc.SetFooterFunc(func() {
		doc.SetY(-15)
		doc.SetFont(fontBody, "I", 8)
		doc.SetTextColor(128, 128, 128)
		doc.CellFormat(0, 10, fmt.Sprintf("Page %d of {nb}", doc.PageNo()), "", 0, "C", false, 0, "")
	})
}
