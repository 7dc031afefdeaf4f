package loader

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/dslipak/pdf"
	"github.com/xuri/excelize/v2"
)

// TextParser reads plain text and markdown files.
type TextParser struct{}

func (TextParser) Extensions() []string { return []string{".txt", ".md"} }

func (TextParser) Parse(r io.Reader) ([]Page, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return []Page{{Text: string(data)}}, nil
}

// PDFParser extracts the plain text of every page of a PDF.
type PDFParser struct{}

func (PDFParser) Extensions() []string { return []string{".pdf"} }

func (PDFParser) Parse(r io.Reader) ([]Page, error) {
	// pdf.NewReader needs a ReaderAt
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read pdf: %w", err)
	}
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}

	var pages []Page
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		if text = strings.TrimSpace(text); text != "" {
			pages = append(pages, Page{Number: i, Text: text})
		}
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("pdf has no extractable text")
	}
	return pages, nil
}

// HTMLParser extracts the readable blocks of an HTML page, preferring the
// main or article element when one exists.
type HTMLParser struct{}

func (HTMLParser) Extensions() []string { return []string{".html", ".htm"} }

func (HTMLParser) Parse(r io.Reader) ([]Page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, nav, footer").Remove()
	sel := doc.Find("main, article")
	if sel.Length() == 0 {
		sel = doc.Selection
	}
	var parts []string
	sel.Find("h1, h2, h3, h4, p, li, dt, dd, td").Each(func(_ int, s *goquery.Selection) {
		// nested blocks are picked up by their own match
		if s.Find("p, li, dt, dd, td").Length() > 0 {
			return
		}
		if t := terminate(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return []Page{{Text: strings.Join(parts, "\n")}}, nil
}

// SpreadsheetParser reads question/answer sheets. Every sheet becomes one
// page and every row one line.
type SpreadsheetParser struct{}

func (SpreadsheetParser) Extensions() []string { return []string{".xlsx"} }

func (SpreadsheetParser) Parse(r io.Reader) ([]Page, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open spreadsheet: %w", err)
	}
	defer f.Close()

	var pages []Page
	for i, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", sheet, err)
		}
		var lines []string
		for _, row := range rows {
			var cells []string
			for _, cell := range row {
				if t := terminate(cell); t != "" {
					cells = append(cells, t)
				}
			}
			if len(cells) > 0 {
				lines = append(lines, strings.Join(cells, " "))
			}
		}
		if len(lines) > 0 {
			pages = append(pages, Page{Number: i + 1, Label: sheet, Text: strings.Join(lines, "\n")})
		}
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("spreadsheet has no text")
	}
	return pages, nil
}

// terminate collapses whitespace and closes the text with a period so that
// headings and cells stay separate sentences.
func terminate(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return ""
	}
	if !strings.ContainsAny(s[len(s)-1:], ".!?") {
		s += "."
	}
	return s
}
