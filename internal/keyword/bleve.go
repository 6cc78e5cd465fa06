package keyword

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
)

// deleteBatchSize bounds how many hits are collected per delete round.
const deleteBatchSize = 1000

// BleveIndex implements Index using Bleve.
type BleveIndex struct {
	index bleve.Index
}

func chunkMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()

	// standard analyzer: lowercase and tokenize without stemming, so course jargon matches exactly
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	doc.AddFieldMappingsAt("content", text)
	doc.AddFieldMappingsAt("course_title", text)
	doc.AddFieldMappingsAt("lesson_title", text)

	keyword := bleve.NewKeywordFieldMapping()
	doc.AddFieldMappingsAt("id", keyword)
	doc.AddFieldMappingsAt("course_id", keyword)
	doc.AddFieldMappingsAt("lesson_number", bleve.NewNumericFieldMapping())

	im.AddDocumentMapping("chunk", doc)
	im.DefaultType = "chunk"
	im.DefaultMapping = doc
	return im
}

// NewBleveIndex creates or opens a Bleve index at path. An existing index is reused; remove
// the directory after changing the mapping.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}
	index, err := bleve.New(path, chunkMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// NewMemoryBleveIndex returns an index held only in memory.
func NewMemoryBleveIndex() (*BleveIndex, error) {
	index, err := bleve.NewMemOnly(chunkMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// IndexDocuments indexes docs in one batch. Existing IDs are replaced.
func (b *BleveIndex) IndexDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	batch := b.index.NewBatch()
	for i := range docs {
		if err := batch.Index(docs[i].ID, docs[i]); err != nil {
			return fmt.Errorf("batch index %s: %w", docs[i].ID, err)
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.index.Batch(batch)
}

// Search returns up to limit chunk hits. Text matches over content and the title fields are
// combined with the course and lesson filters. Multi-term queries are re-ranked by the share
// of query terms each hit contains, squared, so chunks covering every term rank first.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]Result, error) {
	if opts == nil {
		opts = &SearchOptions{}
	}
	terms := tokenizeQuery(query)
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}
	titleBoost := opts.TitleBoost
	if titleBoost <= 0 {
		titleBoost = 1
	}
	fuzziness := opts.Fuzziness
	if fuzziness <= 0 {
		fuzziness = 1
	}

	text := bleve.NewDisjunctionQuery(
		b.fieldQuery(query, terms, "content", 1, opts.FuzzyEnabled, fuzziness),
		b.fieldQuery(query, terms, "course_title", titleBoost, opts.FuzzyEnabled, fuzziness),
		b.fieldQuery(query, terms, "lesson_title", titleBoost, opts.FuzzyEnabled, fuzziness),
	)
	filters := filterQueries(opts)

	reqSize := limit * 2
	if reqSize < 50 {
		reqSize = 50
	}
	req := bleve.NewSearchRequest(withFilters(text, filters))
	req.Size = reqSize
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}

	coverage := map[string]int{}
	if len(terms) > 1 {
		coverage = b.termCoverage(ctx, terms, filters, reqSize, opts.FuzzyEnabled, fuzziness)
	}

	out := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		score := hit.Score
		if len(terms) > 1 {
			matched := coverage[hit.ID]
			if matched == 0 {
				matched = 1
			}
			c := float64(matched) / float64(len(terms))
			score *= c * c
		}
		out = append(out, Result{ID: hit.ID, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// fieldQuery matches query in field, term by term with fuzzy queries when enabled.
func (b *BleveIndex) fieldQuery(query string, terms []string, field string, boost float64, fuzzy bool, fuzziness int) blevequery.Query {
	if !fuzzy {
		mq := bleve.NewMatchQuery(query)
		mq.SetField(field)
		mq.SetBoost(boost)
		return mq
	}
	qs := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField(field)
		fq.SetBoost(boost)
		qs = append(qs, fq)
	}
	return bleve.NewDisjunctionQuery(qs...)
}

func filterQueries(opts *SearchOptions) []blevequery.Query {
	var filters []blevequery.Query
	if opts.CourseID != "" {
		tq := bleve.NewTermQuery(opts.CourseID)
		tq.SetField("course_id")
		filters = append(filters, tq)
	}
	if opts.LessonNumber != nil {
		n := float64(*opts.LessonNumber)
		inclusive := true
		nq := bleve.NewNumericRangeInclusiveQuery(&n, &n, &inclusive, &inclusive)
		nq.SetField("lesson_number")
		filters = append(filters, nq)
	}
	return filters
}

func withFilters(q blevequery.Query, filters []blevequery.Query) blevequery.Query {
	if len(filters) == 0 {
		return q
	}
	return bleve.NewConjunctionQuery(append([]blevequery.Query{q}, filters...)...)
}

// termCoverage counts how many query terms each chunk matches in any text field.
func (b *BleveIndex) termCoverage(ctx context.Context, terms []string, filters []blevequery.Query, size int, fuzzy bool, fuzziness int) map[string]int {
	coverage := make(map[string]int)
	for _, term := range terms {
		var fields []blevequery.Query
		for _, field := range []string{"content", "course_title", "lesson_title"} {
			fields = append(fields, b.fieldQuery(term, []string{term}, field, 1, fuzzy, fuzziness))
		}
		req := bleve.NewSearchRequest(withFilters(bleve.NewDisjunctionQuery(fields...), filters))
		req.Size = size
		res, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			continue
		}
		for _, hit := range res.Hits {
			coverage[hit.ID]++
		}
	}
	return coverage
}

// tokenizeQuery splits query into lowercase terms with surrounding punctuation removed.
func tokenizeQuery(query string) []string {
	words := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,;:!?\"'()[]{}")
		if w != "" {
			terms = append(terms, w)
		}
	}
	return terms
}

// DeleteCourse removes every chunk of a course.
func (b *BleveIndex) DeleteCourse(ctx context.Context, courseID string) error {
	tq := bleve.NewTermQuery(courseID)
	tq.SetField("course_id")
	return b.deleteMatching(ctx, tq)
}

// Clear removes every document.
func (b *BleveIndex) Clear(ctx context.Context) error {
	return b.deleteMatching(ctx, bleve.NewMatchAllQuery())
}

func (b *BleveIndex) deleteMatching(ctx context.Context, q blevequery.Query) error {
	for {
		req := bleve.NewSearchRequest(q)
		req.Size = deleteBatchSize
		res, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return fmt.Errorf("Bleve search failed: %w", err)
		}
		if len(res.Hits) == 0 {
			return nil
		}
		batch := b.index.NewBatch()
		for _, hit := range res.Hits {
			batch.Delete(hit.ID)
		}
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("Bleve delete failed: %w", err)
		}
	}
}

// DocCount returns the total number of documents in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
