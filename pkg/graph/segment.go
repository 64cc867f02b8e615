package graph

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/graphloom/loom/pkg/common"
)

// tableDelimRe matches markdown table delimiter rows such as
// "|---|---|" or "| :--- | ---: |".
var tableDelimRe = regexp.MustCompile(`^\s*\|?\s*:?-{3,}:?\s*(\|\s*:?-{3,}:?\s*)+\|?\s*$`)

// span is a half-open rune offset range into the original document text.
type span struct {
	start int
	end   int
}

// Segment splits a document into ordered chunks. Unstructured text is
// cut at sentence boundaries under the token budget; structured record
// sources become one chunk per record with the header repeated. Chunk
// offsets are rune offsets into the original text, so every chunk can
// be mapped back to its source span.
func (p *Pipeline) Segment(doc common.Document, text string) ([]common.Chunk, error) {
	if !utf8.ValidString(text) {
		return nil, &common.MalformedInputError{DocumentID: doc.ID, Reason: "text is not valid UTF-8"}
	}
	if strings.TrimSpace(text) == "" {
		return nil, &common.MalformedInputError{DocumentID: doc.ID, Reason: "document is empty"}
	}

	encoder, err := tiktoken.GetEncoding(p.tokenEncoder)
	if err != nil {
		return nil, fmt.Errorf("failed to load token encoder %q: %w", p.tokenEncoder, err)
	}

	var chunks []common.Chunk
	switch doc.Kind {
	case common.SourceStructured:
		chunks = p.segmentRecords(doc, text, encoder)
	default:
		chunks = p.segmentText(doc, text, encoder)
	}

	if len(chunks) == 0 {
		return nil, &common.MalformedInputError{DocumentID: doc.ID, Reason: "no segmentable content"}
	}
	return chunks, nil
}

// segmentText accumulates whole sentences into chunks until the next
// sentence would exceed the token budget. A sentence longer than the
// budget becomes a chunk of its own rather than being cut mid-sentence.
func (p *Pipeline) segmentText(doc common.Document, text string, encoder *tiktoken.Tiktoken) []common.Chunk {
	runes := []rune(text)
	sentences := splitIntoSentences(runes)

	var chunks []common.Chunk
	var current []span
	currentTokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunkSpan := span{start: current[0].start, end: current[len(current)-1].end}
		chunks = append(chunks, common.Chunk{
			DocumentID: doc.ID,
			Index:      len(chunks),
			Start:      chunkSpan.start,
			End:        chunkSpan.end,
			Text:       string(runes[chunkSpan.start:chunkSpan.end]),
			Tokens:     currentTokens,
		})
		current = nil
		currentTokens = 0
	}

	for _, sentence := range sentences {
		tokens := len(encoder.Encode(string(runes[sentence.start:sentence.end]), nil, nil))
		if currentTokens > 0 && currentTokens+tokens > p.maxChunkTokens {
			flush()
		}
		current = append(current, sentence)
		currentTokens += tokens
		if currentTokens >= p.maxChunkTokens {
			flush()
		}
	}
	flush()

	for i := range chunks {
		chunks[i].ID = chunkID(doc.ID, i)
	}
	return chunks
}

// segmentRecords emits one chunk per data row. The header line is
// prepended to the chunk text so field names survive into extraction,
// but the chunk span covers the row alone.
func (p *Pipeline) segmentRecords(doc common.Document, text string, encoder *tiktoken.Tiktoken) []common.Chunk {
	runes := []rune(text)

	var rows []span
	for _, line := range splitLines(runes) {
		trimmed := trimSpan(runes, line)
		if trimmed.start < trimmed.end {
			rows = append(rows, trimmed)
		}
	}
	if len(rows) == 0 {
		return nil
	}

	var header span
	hasHeader := false
	if len(rows) >= 2 && isRecordHeader(spanText(runes, rows[0]), spanText(runes, rows[1])) {
		header = rows[0]
		hasHeader = true
		rows = rows[1:]
	}

	chunks := make([]common.Chunk, 0, len(rows))
	for _, row := range rows {
		chunkText := spanText(runes, row)
		if hasHeader {
			chunkText = spanText(runes, header) + "\n" + chunkText
		}
		chunks = append(chunks, common.Chunk{
			ID:         chunkID(doc.ID, len(chunks)),
			DocumentID: doc.ID,
			Index:      len(chunks),
			Start:      row.start,
			End:        row.end,
			Text:       chunkText,
			Tokens:     len(encoder.Encode(chunkText, nil, nil)),
		})
	}
	return chunks
}

func spanText(runes []rune, s span) string {
	return string(runes[s.start:s.end])
}

func chunkID(documentID string, index int) string {
	return fmt.Sprintf("%s#%d", documentID, index)
}

// splitIntoSentences returns sentence spans over the rune slice. A
// markdown table, recognized by its delimiter row, is kept intact as a
// single span so extraction sees rows together with their header; a
// pipe-containing line without a delimiter row is a span of its own.
// Unterminated lines join the following line into one sentence.
func splitIntoSentences(runes []rune) []span {
	lines := splitLines(runes)

	var sentences []span
	var pending span
	hasPending := false
	var table span
	inTable := false

	flushPending := func() {
		if hasPending {
			sentences = append(sentences, pending)
			hasPending = false
		}
	}
	textLine := func(trimmed span) {
		parts, lastTerminated := splitLineIntoSentences(runes, trimmed)
		for j, part := range parts {
			if hasPending {
				pending.end = part.end
			} else {
				pending = part
				hasPending = true
			}
			if j < len(parts)-1 || lastTerminated {
				flushPending()
			}
		}
	}

	for i, line := range lines {
		trimmed := trimSpan(runes, line)
		lineText := string(runes[trimmed.start:trimmed.end])
		blank := trimmed.start >= trimmed.end
		hasPipe := strings.Contains(lineText, "|")

		if inTable {
			if !blank && hasPipe {
				table.end = trimmed.end
				continue
			}
			sentences = append(sentences, table)
			inTable = false
			if blank {
				continue
			}
			textLine(trimmed)
			continue
		}

		if blank {
			flushPending()
			continue
		}

		if hasPipe {
			flushPending()
			if nextLineIsTableDelim(runes, lines, i) {
				table = trimmed
				inTable = true
			} else {
				sentences = append(sentences, trimmed)
			}
			continue
		}

		textLine(trimmed)
	}
	flushPending()
	if inTable {
		sentences = append(sentences, table)
	}

	return sentences
}

func nextLineIsTableDelim(runes []rune, lines []span, i int) bool {
	if i+1 >= len(lines) {
		return false
	}
	next := trimSpan(runes, lines[i+1])
	return tableDelimRe.MatchString(string(runes[next.start:next.end]))
}

// splitLineIntoSentences splits a single line at sentence-terminating
// punctuation. It reports whether the line's final span ended at a
// terminator, so callers can join unterminated lines with their
// successors.
func splitLineIntoSentences(runes []rune, line span) ([]span, bool) {
	var parts []span
	start := line.start
	lastTerminated := false

	for i := line.start; i < line.end; i++ {
		r := runes[i]
		if r != '.' && r != '!' && r != '?' {
			continue
		}

		// Numbered listings such as "1. Introduction" are not sentence ends.
		if r == '.' && i > line.start && unicode.IsDigit(runes[i-1]) {
			if i+1 < line.end && runes[i+1] == ' ' {
				continue
			}
		}

		end := i + 1
		for end < line.end && strings.ContainsRune(`"')]}`, runes[end]) {
			end++
		}
		if end < line.end && runes[end] != ' ' && runes[end] != '\t' {
			continue
		}

		part := trimSpan(runes, span{start: start, end: end})
		if part.start < part.end {
			parts = append(parts, part)
		}
		start = end
		lastTerminated = true
		i = end - 1
	}

	tail := trimSpan(runes, span{start: start, end: line.end})
	if tail.start < tail.end {
		parts = append(parts, tail)
		lastTerminated = false
	}
	return parts, lastTerminated
}

func splitLines(runes []rune) []span {
	var lines []span
	start := 0
	for i, r := range runes {
		if r == '\n' {
			lines = append(lines, span{start: start, end: i})
			start = i + 1
		}
	}
	if start <= len(runes) {
		lines = append(lines, span{start: start, end: len(runes)})
	}
	return lines
}

func trimSpan(runes []rune, s span) span {
	for s.start < s.end && unicode.IsSpace(runes[s.start]) {
		s.start++
	}
	for s.end > s.start && unicode.IsSpace(runes[s.end-1]) {
		s.end--
	}
	return s
}

// headerFieldNames are substrings commonly found in header fields of
// delimited record sources.
var headerFieldNames = []string{
	"id", "name", "date", "time", "type", "status",
	"description", "value", "amount", "count", "total", "email", "phone",
}

// isRecordHeader reports whether the first row of a record source is a
// header rather than data: it carries no numeric fields while the first
// data row does, or at least two of its fields use common header names.
func isRecordHeader(header, data string) bool {
	headerFields := splitRecordFields(header)
	if len(headerFields) == 0 {
		return false
	}

	dataFields := splitRecordFields(data)
	if countNumericFields(headerFields) == 0 && countNumericFields(dataFields) > 0 {
		return true
	}

	matches := 0
	for _, field := range headerFields {
		lower := strings.ToLower(strings.Trim(field, `"`))
		for _, pattern := range headerFieldNames {
			if strings.Contains(lower, pattern) {
				matches++
				break
			}
		}
	}
	return matches >= 2
}

func splitRecordFields(line string) []string {
	var sep string
	switch {
	case strings.Contains(line, "\t"):
		sep = "\t"
	case strings.Contains(line, ";"):
		sep = ";"
	default:
		sep = ","
	}
	parts := strings.Split(line, sep)
	fields := make([]string, 0, len(parts))
	for _, part := range parts {
		fields = append(fields, strings.TrimSpace(part))
	}
	return fields
}

func countNumericFields(fields []string) int {
	count := 0
	for _, field := range fields {
		field = strings.Trim(field, `"`)
		if field == "" {
			continue
		}
		if _, err := strconv.ParseFloat(field, 64); err == nil {
			count++
		}
	}
	return count
}
