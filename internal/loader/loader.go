package loader

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"faqrag/internal/domain"
)

// Page is one unit of extracted text. Parsers that have no notion of pages
// return a single Page with Number 0. Label names the page in titles when
// set, "page N" is used otherwise.
type Page struct {
	Number int
	Label  string
	Text   string
}

// Parser extracts text from a source file.
type Parser interface {
	Parse(r io.Reader) ([]Page, error)
	Extensions() []string
}

// Loader resolves source paths and parses them into documents.
type Loader struct {
	parsers map[string]Parser
	logger  *zap.Logger
}

// New creates a loader with every built-in parser registered.
func New(logger *zap.Logger) *Loader {
	l := &Loader{parsers: make(map[string]Parser), logger: logger}
	l.Register(TextParser{})
	l.Register(PDFParser{})
	l.Register(HTMLParser{})
	l.Register(SpreadsheetParser{})
	return l
}

// Register adds a parser for every extension it claims.
func (l *Loader) Register(p Parser) {
	for _, ext := range p.Extensions() {
		l.parsers[strings.ToLower(ext)] = p
	}
}

// Load expands globs in paths and parses every supported file. A file
// matched by several entries is loaded once.
func (l *Loader) Load(paths []string) ([]domain.Document, error) {
	var documents []domain.Document
	seen := make(map[string]struct{})
	for _, p := range paths {
		matches, _ := filepath.Glob(p)
		if matches == nil {
			matches = []string{p}
		}
		for _, m := range matches {
			key, err := filepath.Abs(m)
			if err != nil {
				key = filepath.Clean(m)
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			parser, ok := l.parsers[strings.ToLower(filepath.Ext(m))]
			if !ok {
				l.logger.Warn("skipping unsupported source", zap.String("path", m))
				continue
			}
			docs, err := l.loadFile(m, parser)
			if err != nil {
				return nil, err
			}
			documents = append(documents, docs...)
		}
	}
	if len(documents) == 0 {
		return nil, fmt.Errorf("no documents found in %v", paths)
	}
	return documents, nil
}

func (l *Loader) loadFile(path string, parser Parser) ([]domain.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pages, err := parser.Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	base := filepath.Base(path)
	docs := make([]domain.Document, 0, len(pages))
	for _, pg := range pages {
		if strings.TrimSpace(pg.Text) == "" {
			continue
		}
		doc := domain.Document{ID: hashString(path), Path: path, Title: base, Content: pg.Text}
		if pg.Number > 0 {
			doc.ID = hashString(fmt.Sprintf("%s#%d", path, pg.Number))
			label := pg.Label
			if label == "" {
				label = fmt.Sprintf("page %d", pg.Number)
			}
			doc.Title = fmt.Sprintf("%s (%s)", base, label)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func hashString(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:8])
}
