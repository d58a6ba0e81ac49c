package services

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/docmesh/docmesh-backend/internal/platform/filestore"
	"github.com/docmesh/docmesh-backend/internal/types"
)

// chunkMaxChars bounds a single chunk in runes. Paragraph boundaries are
// preferred; a paragraph longer than the bound is hard-split.
const chunkMaxChars = 1200

// ContentResolver maps a document to the full text a stage should process.
// Resolution depends on the category: file and website documents read the
// converted object from the file store, quick notes and transcribed audio
// carry their text inline on the record.
type ContentResolver interface {
	Resolve(ctx context.Context, doc *types.Document) (string, error)
}

type contentResolver struct {
	files filestore.Store
}

func NewContentResolver(files filestore.Store) ContentResolver {
	return &contentResolver{files: files}
}

func (r *contentResolver) Resolve(ctx context.Context, doc *types.Document) (string, error) {
	switch doc.Category {
	case types.DocCategoryQuickNote:
		return doc.Content, nil
	case types.DocCategoryAudio:
		if strings.TrimSpace(doc.Content) == "" {
			return "", fmt.Errorf("document %s: transcript not available yet", doc.ID)
		}
		return doc.Content, nil
	case types.DocCategoryFile, types.DocCategoryWebsite:
		if doc.FilePath == "" {
			return "", fmt.Errorf("document %s: no file path", doc.ID)
		}
		data, err := r.files.Read(ctx, doc.FilePath)
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("document %s: unknown category %q", doc.ID, doc.Category)
	}
}

// ChunkStream yields a document's chunks one at a time in order, with
// deterministic ids and a gap-free index. Streams are cheap; every stage
// run opens a fresh one, so two stages never share iteration state.
type ChunkStream struct {
	doc      *types.Document
	resolver ContentResolver

	resolved bool
	pieces   []string
	next     int
}

func NewChunkStream(resolver ContentResolver, doc *types.Document) *ChunkStream {
	return &ChunkStream{doc: doc, resolver: resolver}
}

// Next returns the next chunk, or ok=false once the stream is exhausted.
// Content resolution happens lazily on the first call.
func (s *ChunkStream) Next(ctx context.Context) (*types.Chunk, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if !s.resolved {
		text, err := s.resolver.Resolve(ctx, s.doc)
		if err != nil {
			return nil, false, err
		}
		s.pieces = splitChunks(text, chunkMaxChars)
		s.resolved = true
	}
	if s.next >= len(s.pieces) {
		return nil, false, nil
	}
	idx := s.next
	s.next++
	return &types.Chunk{
		ID:    types.ChunkID(s.doc.ID, idx),
		DocID: s.doc.ID,
		Idx:   idx,
		Text:  s.pieces[idx],
	}, true, nil
}

// splitChunks packs paragraphs into bounded pieces. Blank text yields no
// chunks. Consecutive paragraphs are joined with a blank line while they
// fit; an oversized paragraph is cut at rune boundaries.
func splitChunks(text string, maxChars int) []string {
	var out []string
	var cur strings.Builder
	curLen := 0

	flush := func() {
		if curLen > 0 {
			out = append(out, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		pLen := utf8.RuneCountInString(para)
		if pLen > maxChars {
			flush()
			for _, piece := range hardSplit(para, maxChars) {
				out = append(out, piece)
			}
			continue
		}
		// +2 for the joining blank line
		if curLen > 0 && curLen+2+pLen > maxChars {
			flush()
		}
		if curLen > 0 {
			cur.WriteString("\n\n")
			curLen += 2
		}
		cur.WriteString(para)
		curLen += pLen
	}
	flush()
	return out
}

func hardSplit(text string, maxChars int) []string {
	var out []string
	runes := []rune(text)
	for start := 0; start < len(runes); start += maxChars {
		end := start + maxChars
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}
