/**
 * Layout Analyzer
 *
 * Heuristic structure parsing for structure mode. Works from what routing
 * already produced: OCR line spans with boxes when the page was recognized,
 * plain paragraphs when it came from the embedded text layer.
 *
 * Extracts:
 * - Regions (headings, paragraphs, tables) and their reading order
 * - Delimiter-based tables (pipes, tabs, commas)
 */

package processor

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/adverant/nexus/batch-ocr/internal/document"
	"github.com/adverant/nexus/batch-ocr/internal/logging"
)

const (
	RegionHeading   = "heading"
	RegionParagraph = "paragraph"
	RegionTable     = "table"
)

// StructureParser turns routed pages into a structured document
type StructureParser interface {
	Parse(ctx context.Context, doc document.Document, pages []document.Page) (*StructuredDocument, error)
}

// StructuredDocument is the structure-mode view of one document
type StructuredDocument struct {
	Path  string           `json:"path"`
	Pages []StructuredPage `json:"pages"`
}

// StructuredPage is the layout of one page
type StructuredPage struct {
	PageNumber   int            `json:"page_number"`
	Source       string         `json:"source"`
	Confidence   float64        `json:"confidence"`
	Regions      []LayoutRegion `json:"regions"`
	Tables       []Table        `json:"tables"`
	ReadingOrder []int          `json:"reading_order"`
}

// LayoutRegion represents a region in the document
type LayoutRegion struct {
	ID          int         `json:"id"`
	Type        string      `json:"type"`
	BoundingBox BoundingBox `json:"bbox"`
	Confidence  float64     `json:"confidence"`
	Content     string      `json:"content"`
}

// Table represents an extracted table
type Table struct {
	ID         int        `json:"id"`
	RegionID   int        `json:"region_id"`
	Delimiter  string     `json:"delimiter"`
	Rows       []TableRow `json:"rows"`
	Confidence float64    `json:"confidence"`
}

// TableRow represents a row in a table
type TableRow struct {
	RowNumber int         `json:"row"`
	Cells     []TableCell `json:"cells"`
}

// TableCell represents a cell in a table
type TableCell struct {
	ColumnNumber int    `json:"column"`
	Content      string `json:"content"`
}

// LayoutAnalyzer performs heuristic document layout analysis
type LayoutAnalyzer struct {
	logger *logging.Logger
}

// NewLayoutAnalyzer creates a new layout analyzer
func NewLayoutAnalyzer() *LayoutAnalyzer {
	return &LayoutAnalyzer{logger: logging.NewLogger("layout")}
}

// Parse analyzes every page of a routed document
func (l *LayoutAnalyzer) Parse(ctx context.Context, doc document.Document, pages []document.Page) (*StructuredDocument, error) {
	out := &StructuredDocument{Path: doc.RelPath, Pages: make([]StructuredPage, 0, len(pages))}
	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out.Pages = append(out.Pages, l.AnalyzePage(page))
	}
	return out, nil
}

// AnalyzePage builds the layout of a single page
func (l *LayoutAnalyzer) AnalyzePage(page document.Page) StructuredPage {
	sp := StructuredPage{
		PageNumber: page.Index + 1,
		Source:     string(page.Source),
	}

	var regions []LayoutRegion
	if page.Source == document.SourceOCR && len(page.Spans) > 0 {
		regions = l.regionsFromSpans(page.Spans)
		sp.Confidence = meanConfidence(page.Spans)
	} else {
		regions = l.regionsFromText(page.Text())
		if len(regions) > 0 {
			sp.Confidence = 1.0
		}
	}

	for i := range regions {
		regions[i].ID = i
		if table := l.extractTable(regions[i]); table != nil {
			regions[i].Type = RegionTable
			table.ID = len(sp.Tables)
			table.RegionID = i
			sp.Tables = append(sp.Tables, *table)
		}
	}

	sp.Regions = regions
	sp.ReadingOrder = determineReadingOrder(regions)
	if sp.Regions == nil {
		sp.Regions = []LayoutRegion{}
	}
	if sp.Tables == nil {
		sp.Tables = []Table{}
	}

	l.logger.Debug("page layout", "page", sp.PageNumber, "regions", len(sp.Regions), "tables", len(sp.Tables))
	return sp
}

// regionsFromSpans groups consecutive lines into blocks, splitting where the
// vertical gap exceeds the median line height
func (l *LayoutAnalyzer) regionsFromSpans(spans []document.Span) []LayoutRegion {
	lineHeight := medianHeight(spans)
	var regions []LayoutRegion
	var block []document.Span

	flush := func() {
		if len(block) == 0 {
			return
		}
		regions = append(regions, spanRegion(block, lineHeight))
		block = nil
	}

	for i, s := range spans {
		if i > 0 {
			prev := spans[i-1]
			gap := s.Box.Y - (prev.Box.Y + prev.Box.Height)
			if gap > lineHeight || s.Box.Y+s.Box.Height <= prev.Box.Y {
				flush()
			}
		}
		block = append(block, s)
	}
	flush()
	return regions
}

func spanRegion(block []document.Span, lineHeight int) LayoutRegion {
	texts := make([]string, 0, len(block))
	box := block[0].Box
	var conf float64
	for _, s := range block {
		texts = append(texts, strings.TrimSpace(s.Text))
		box = unionBox(box, s.Box)
		conf += s.Confidence
	}
	content := strings.Join(texts, "\n")

	regionType := RegionParagraph
	tall := lineHeight > 0 && block[0].Box.Height*10 >= lineHeight*13
	if len(block) == 1 && (tall || looksLikeHeading(content)) {
		regionType = RegionHeading
	}

	return LayoutRegion{
		Type:        regionType,
		BoundingBox: box,
		Confidence:  conf / float64(len(block)),
		Content:     content,
	}
}

var blankLine = regexp.MustCompile(`\n[ \t]*\n`)

// regionsFromText splits embedded text into paragraphs on blank lines
func (l *LayoutAnalyzer) regionsFromText(text string) []LayoutRegion {
	var regions []LayoutRegion
	for _, para := range blankLine.Split(text, -1) {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		regionType := RegionParagraph
		if !strings.Contains(para, "\n") && looksLikeHeading(para) {
			regionType = RegionHeading
		}
		regions = append(regions, LayoutRegion{
			Type:       regionType,
			Confidence: 1.0,
			Content:    para,
		})
	}
	return regions
}

// looksLikeHeading accepts short lines without sentence punctuation that
// are either upper case or numbered ("1.2 Scope")
func looksLikeHeading(line string) bool {
	line = strings.TrimSpace(line)
	n := utf8.RuneCountInString(line)
	if n == 0 || n > 80 {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(line)
	if strings.ContainsRune(".,;", last) {
		return false
	}
	if numberedHeading.MatchString(line) {
		return true
	}

	letters, upper := 0, 0
	for _, r := range line {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	return letters >= 3 && upper == letters
}

var numberedHeading = regexp.MustCompile(`^(\d+\.)*\d+\.?\s+\p{Lu}`)

// extractTable returns a table when every line of the region shares a
// delimiter with a stable column count
func (l *LayoutAnalyzer) extractTable(region LayoutRegion) *Table {
	lines := splitIntoLines(region.Content)
	if len(lines) < 2 {
		return nil
	}

	delimiter := detectDelimiter(lines[0])
	if delimiter == "" {
		return nil
	}
	expectedCols := strings.Count(lines[0], delimiter)

	rows := make([]TableRow, 0, len(lines))
	for rowIdx, line := range lines {
		if detectDelimiter(line) != delimiter || abs(strings.Count(line, delimiter)-expectedCols) > 1 {
			return nil
		}
		if isSeparatorRow(line) {
			continue
		}

		cells := extractCellsFromLine(line, delimiter)
		tableCells := make([]TableCell, 0, len(cells))
		for colIdx, cell := range cells {
			tableCells = append(tableCells, TableCell{ColumnNumber: colIdx, Content: strings.TrimSpace(cell)})
		}
		rows = append(rows, TableRow{RowNumber: rowIdx, Cells: tableCells})
	}

	if len(rows) < 2 {
		return nil
	}
	for i := range rows {
		rows[i].RowNumber = i
	}

	return &Table{
		Delimiter:  delimiter,
		Rows:       rows,
		Confidence: region.Confidence * 0.6,
	}
}

// detectDelimiter identifies the delimiter used in a line
func detectDelimiter(line string) string {
	for _, delim := range []string{"|", "\t", ","} {
		// At least 2 delimiters needed for a table
		if strings.Count(line, delim) >= 2 {
			return delim
		}
	}
	return ""
}

// isSeparatorRow matches Markdown-style rule lines such as |---|:--:|
func isSeparatorRow(line string) bool {
	trimmed := strings.Trim(line, "|-: \t")
	return trimmed == "" && strings.Contains(line, "-")
}

// extractCellsFromLine splits line into cells based on delimiter
func extractCellsFromLine(line string, delimiter string) []string {
	cells := strings.Split(line, delimiter)
	if delimiter == "|" {
		// Leading/trailing pipes produce empty edge cells
		if len(cells) > 0 && strings.TrimSpace(cells[0]) == "" {
			cells = cells[1:]
		}
		if len(cells) > 0 && strings.TrimSpace(cells[len(cells)-1]) == "" {
			cells = cells[:len(cells)-1]
		}
	}
	return cells
}

// splitIntoLines splits text into non-empty lines
func splitIntoLines(text string) []string {
	var lines []string
	for _, line := range strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '\r' }) {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// determineReadingOrder orders regions top-to-bottom, then left-to-right.
// Regions without boxes keep their text order.
func determineReadingOrder(regions []LayoutRegion) []int {
	order := make([]int, len(regions))
	for i := range regions {
		order[i] = i
	}

	sort.SliceStable(order, func(a, b int) bool {
		ra, rb := regions[order[a]].BoundingBox, regions[order[b]].BoundingBox
		if ra == (BoundingBox{}) || rb == (BoundingBox{}) {
			return false
		}
		// Same row when vertical spans overlap
		if ra.Y < rb.Y+rb.Height && rb.Y < ra.Y+ra.Height {
			return ra.X < rb.X
		}
		return ra.Y < rb.Y
	})
	return order
}

// Markdown renders the page in reading order
func (p StructuredPage) Markdown() string {
	tables := make(map[int]Table, len(p.Tables))
	for _, t := range p.Tables {
		tables[t.RegionID] = t
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<!-- page %d (%s) -->\n\n", p.PageNumber, p.Source)
	for _, idx := range p.ReadingOrder {
		region := p.Regions[idx]
		switch region.Type {
		case RegionHeading:
			b.WriteString("## " + strings.ReplaceAll(region.Content, "\n", " ") + "\n\n")
		case RegionTable:
			if t, ok := tables[idx]; ok {
				b.WriteString(t.Markdown())
				b.WriteString("\n")
				continue
			}
			b.WriteString(region.Content + "\n\n")
		default:
			b.WriteString(region.Content + "\n\n")
		}
	}
	return b.String()
}

// Markdown renders the table as a pipe table with the first row as header
func (t Table) Markdown() string {
	if len(t.Rows) == 0 {
		return ""
	}
	cols := 0
	for _, row := range t.Rows {
		if len(row.Cells) > cols {
			cols = len(row.Cells)
		}
	}

	var b strings.Builder
	writeRow := func(row TableRow) {
		b.WriteString("|")
		for c := 0; c < cols; c++ {
			content := ""
			if c < len(row.Cells) {
				content = strings.ReplaceAll(row.Cells[c].Content, "|", `\|`)
			}
			b.WriteString(" " + content + " |")
		}
		b.WriteString("\n")
	}

	writeRow(t.Rows[0])
	b.WriteString("|" + strings.Repeat(" --- |", cols) + "\n")
	for _, row := range t.Rows[1:] {
		writeRow(row)
	}
	return b.String()
}

func medianHeight(spans []document.Span) int {
	heights := make([]int, 0, len(spans))
	for _, s := range spans {
		if s.Box.Height > 0 {
			heights = append(heights, s.Box.Height)
		}
	}
	if len(heights) == 0 {
		return 0
	}
	sort.Ints(heights)
	return heights[len(heights)/2]
}

func meanConfidence(spans []document.Span) float64 {
	if len(spans) == 0 {
		return 0
	}
	var sum float64
	for _, s := range spans {
		sum += s.Confidence
	}
	return sum / float64(len(spans))
}

func unionBox(a, b BoundingBox) BoundingBox {
	minX, minY := min(a.X, b.X), min(a.Y, b.Y)
	maxX := max(a.X+a.Width, b.X+b.Width)
	maxY := max(a.Y+a.Height, b.Y+b.Height)
	return BoundingBox{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// abs returns absolute value of integer
func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
