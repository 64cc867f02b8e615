package graph

import (
	"reflect"
	"testing"

	"github.com/graphloom/loom/pkg/common"
	"github.com/graphloom/loom/pkg/store/memory"
)

// sentenceStrings resolves sentence spans back to text so tests can
// compare against literals.
func sentenceStrings(text string) []string {
	runes := []rune(text)
	spans := splitIntoSentences(runes)
	if spans == nil {
		return nil
	}
	out := make([]string, len(spans))
	for i, s := range spans {
		out[i] = string(runes[s.start:s.end])
	}
	return out
}

func TestSplitIntoSentences(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "empty input",
			text: "",
			want: []string(nil),
		},
		{
			name: "single sentence",
			text: "Hello world.",
			want: []string{"Hello world."},
		},
		{
			name: "multiple sentences",
			text: "Hello world. This is a test! How are you?",
			want: []string{
				"Hello world.",
				"This is a test!",
				"How are you?",
			},
		},
		{
			name: "sentences with empty lines",
			text: "First sentence.\n\nSecond sentence.\n\nThird sentence.",
			want: []string{
				"First sentence.",
				"Second sentence.",
				"Third sentence.",
			},
		},
		{
			name: "multi-line sentence",
			text: "This is a long\nsentence that spans\nmultiple lines.",
			want: []string{"This is a long\nsentence that spans\nmultiple lines."},
		},
		{
			name: "markdown table as single sentence",
			text: "Header1 | Header2\n------- | -------\nValue1  | Value2\nValue3  | Value4",
			want: []string{
				"Header1 | Header2\n------- | -------\nValue1  | Value2\nValue3  | Value4",
			},
		},
		{
			name: "text with table",
			text: "Introduction text.\nHeader1 | Header2\n------- | -------\nValue1  | Value2\nConclusion text.",
			want: []string{
				"Introduction text.",
				"Header1 | Header2\n------- | -------\nValue1  | Value2",
				"Conclusion text.",
			},
		},
		{
			name: "table without delimiter",
			text: "Header1 | Header2\nValue1  | Value2",
			want: []string{
				"Header1 | Header2",
				"Value1  | Value2",
			},
		},
		{
			name: "text with no punctuation",
			text: "Just some text without punctuation\nMore text here",
			want: []string{"Just some text without punctuation\nMore text here"},
		},
		{
			name: "mixed content",
			text: "Start here.\n\n| Col1 | Col2 |\n|------|------|\n| Val1 | Val2 |\n\nEnd here!",
			want: []string{
				"Start here.",
				"| Col1 | Col2 |\n|------|------|\n| Val1 | Val2 |",
				"End here!",
			},
		},
		{
			name: "numeric listing stays in one sentence",
			text: "Today we discuss three points. 1. First item 2. Second item 3. Third item. Done!",
			want: []string{
				"Today we discuss three points.",
				"1. First item 2. Second item 3. Third item.",
				"Done!",
			},
		},
		{
			name: "terminator followed by closing quote",
			text: `He said "Stop." Then he left.`,
			want: []string{
				`He said "Stop."`,
				"Then he left.",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sentenceStrings(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("splitIntoSentences() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestSegmentTextChunks(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		maxTokens int
		want      []common.Chunk
	}{
		{
			name:      "single sentence under limit",
			text:      "Hello world.",
			maxTokens: 10,
			want: []common.Chunk{
				{ID: "doc-1#0", Index: 0, Start: 0, End: 12, Text: "Hello world."},
			},
		},
		{
			name:      "multiple sentences share a chunk",
			text:      "First sentence. Second sentence.",
			maxTokens: 20,
			want: []common.Chunk{
				{ID: "doc-1#0", Index: 0, Start: 0, End: 32, Text: "First sentence. Second sentence."},
			},
		},
		{
			name:      "sentences split by token limit",
			text:      "First sentence. Second sentence. Third sentence.",
			maxTokens: 1,
			want: []common.Chunk{
				{ID: "doc-1#0", Index: 0, Start: 0, End: 15, Text: "First sentence."},
				{ID: "doc-1#1", Index: 1, Start: 16, End: 32, Text: "Second sentence."},
				{ID: "doc-1#2", Index: 2, Start: 33, End: 48, Text: "Third sentence."},
			},
		},
		{
			name:      "table kept as a single chunk",
			text:      "| Header1 | Header2 |\n|---------|---------|\n| Value1  | Value2  |",
			maxTokens: 10,
			want: []common.Chunk{
				{ID: "doc-1#0", Index: 0, Start: 0, End: 65, Text: "| Header1 | Header2 |\n|---------|---------|\n| Value1  | Value2  |"},
			},
		},
	}

	p := newTestPipeline(t, memory.NewGraphMemStore(), newFakeAI())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p.maxChunkTokens = tt.maxTokens
			doc := common.Document{ID: "doc-1", Kind: common.SourceUnstructured}

			got, err := p.Segment(doc, tt.text)
			if err != nil {
				t.Fatalf("Segment() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Segment() returned %d chunks, want %d", len(got), len(tt.want))
			}

			for i, chunk := range got {
				expected := tt.want[i]
				if chunk.ID != expected.ID {
					t.Errorf("chunk[%d].ID = %q, want %q", i, chunk.ID, expected.ID)
				}
				if chunk.DocumentID != "doc-1" {
					t.Errorf("chunk[%d].DocumentID = %q, want %q", i, chunk.DocumentID, "doc-1")
				}
				if chunk.Index != expected.Index {
					t.Errorf("chunk[%d].Index = %d, want %d", i, chunk.Index, expected.Index)
				}
				if chunk.Start != expected.Start || chunk.End != expected.End {
					t.Errorf("chunk[%d] span = (%d,%d), want (%d,%d)", i, chunk.Start, chunk.End, expected.Start, expected.End)
				}
				if chunk.Text != expected.Text {
					t.Errorf("chunk[%d].Text = %q, want %q", i, chunk.Text, expected.Text)
				}
				if chunk.Tokens <= 0 {
					t.Errorf("chunk[%d].Tokens = %d, want > 0", i, chunk.Tokens)
				}
			}
		})
	}
}

func TestSegmentMalformedInput(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{name: "empty text", text: ""},
		{name: "whitespace only", text: " \n\t  "},
		{name: "invalid utf-8", text: string([]byte{0xff, 0xfe, 0xfd})},
	}

	p := newTestPipeline(t, memory.NewGraphMemStore(), newFakeAI())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := common.Document{ID: "doc-1", Kind: common.SourceUnstructured}
			_, err := p.Segment(doc, tt.text)
			if err == nil {
				t.Fatalf("Segment() error = nil, want malformed input")
			}
			if !common.IsMalformedInput(err) {
				t.Errorf("Segment() error = %v, want malformed input", err)
			}
		})
	}
}

func TestSegmentRecords(t *testing.T) {
	p := newTestPipeline(t, memory.NewGraphMemStore(), newFakeAI())
	doc := common.Document{ID: "doc-1", Kind: common.SourceStructured}

	t.Run("header repeated per row", func(t *testing.T) {
		got, err := p.Segment(doc, "Name,Age,City\nJohn,25,NYC\nJane,30,LA")
		if err != nil {
			t.Fatalf("Segment() error = %v", err)
		}
		want := []common.Chunk{
			{ID: "doc-1#0", Index: 0, Start: 14, End: 25, Text: "Name,Age,City\nJohn,25,NYC"},
			{ID: "doc-1#1", Index: 1, Start: 26, End: 36, Text: "Name,Age,City\nJane,30,LA"},
		}
		if len(got) != len(want) {
			t.Fatalf("Segment() returned %d chunks, want %d", len(got), len(want))
		}
		for i, chunk := range got {
			expected := want[i]
			if chunk.ID != expected.ID || chunk.Index != expected.Index {
				t.Errorf("chunk[%d] = %s/%d, want %s/%d", i, chunk.ID, chunk.Index, expected.ID, expected.Index)
			}
			if chunk.Start != expected.Start || chunk.End != expected.End {
				t.Errorf("chunk[%d] span = (%d,%d), want (%d,%d)", i, chunk.Start, chunk.End, expected.Start, expected.End)
			}
			if chunk.Text != expected.Text {
				t.Errorf("chunk[%d].Text = %q, want %q", i, chunk.Text, expected.Text)
			}
		}
	})

	t.Run("single row treated as data", func(t *testing.T) {
		got, err := p.Segment(doc, "John,25,NYC")
		if err != nil {
			t.Fatalf("Segment() error = %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("Segment() returned %d chunks, want 1", len(got))
		}
		if got[0].Text != "John,25,NYC" {
			t.Errorf("chunk text = %q, want row without header", got[0].Text)
		}
		if got[0].Start != 0 || got[0].End != 11 {
			t.Errorf("chunk span = (%d,%d), want (0,11)", got[0].Start, got[0].End)
		}
	})

	t.Run("numeric first row is not a header", func(t *testing.T) {
		got, err := p.Segment(doc, "1,2,3\n4,5,6")
		if err != nil {
			t.Fatalf("Segment() error = %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("Segment() returned %d chunks, want 2", len(got))
		}
		if got[0].Text != "1,2,3" || got[1].Text != "4,5,6" {
			t.Errorf("chunks = %q, %q, want rows kept as data", got[0].Text, got[1].Text)
		}
	})
}

func TestIsRecordHeader(t *testing.T) {
	tests := []struct {
		name   string
		header string
		data   string
		want   bool
	}{
		{
			name:   "text header with numeric data",
			header: "Name,Age,City",
			data:   "John,25,NYC",
			want:   true,
		},
		{
			name:   "all numeric rows",
			header: "1,2,3",
			data:   "4,5,6",
			want:   false,
		},
		{
			name:   "common header names without numbers",
			header: "ID,Name,Email",
			data:   "a,John,john@test.com",
			want:   true,
		},
		{
			name:   "prices and quantities",
			header: "Product,Price,Quantity",
			data:   "Apple,1.99,100",
			want:   true,
		},
		{
			name:   "prose rows",
			header: "The quick fox,jumped",
			data:   "over the dog,again",
			want:   false,
		},
		{
			name:   "semicolon separated",
			header: "Name;Amount;Status",
			data:   "Widget;3;active",
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isRecordHeader(tt.header, tt.data)
			if got != tt.want {
				t.Errorf("isRecordHeader() = %v, want %v", got, tt.want)
			}
		})
	}
}
