package llm

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/hyperjump/lectern/internal/embedding"
	"github.com/hyperjump/lectern/internal/ingest"
)

const (
	searchToolName  = "search_course_content"
	outlineToolName = "get_course_outline"

	maxAnswerSentences = 3

	// NoResultsAnswer is the extractive answer when the tools returned nothing usable.
	NoResultsAnswer = "I couldn't find anything in the course materials about that."
)

var outlineWords = []string{"outline", "syllabus", "lessons", "lesson list", "structure of"}

// ExtractiveProvider answers without a model. It asks for a content search (or a course
// outline for outline questions) on the first turn and answers the tool-result turn by
// quoting the result sentences that share the most words with the question.
type ExtractiveProvider struct{}

// NewExtractiveProvider returns an offline provider.
func NewExtractiveProvider() *ExtractiveProvider { return &ExtractiveProvider{} }

// Name returns "extractive".
func (p *ExtractiveProvider) Name() string { return "extractive" }

// Complete implements Provider.
func (p *ExtractiveProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	question := firstUserText(req.Messages)
	results := lastToolResults(req.Messages)

	if len(results) == 0 {
		if call, ok := firstCall(question, req.Tools); ok {
			return &Response{Content: []ContentBlock{call}, StopReason: StopToolUse}, nil
		}
		return textResponse(NoResultsAnswer), nil
	}

	// An outline miss gets one content search before answering.
	if hasTool(req.Tools, searchToolName) && !searchedAlready(req.Messages) && allErrors(results) {
		return &Response{Content: []ContentBlock{toolUse(searchToolName, map[string]string{"query": question})}, StopReason: StopToolUse}, nil
	}

	var answers []string
	for _, r := range results {
		if r.block.IsError {
			continue
		}
		if r.tool == outlineToolName {
			answers = append(answers, r.block.Content)
			continue
		}
		if a := bestSentences(question, r.block.Content, maxAnswerSentences); a != "" {
			answers = append(answers, a)
		}
	}
	if len(answers) == 0 {
		return textResponse(NoResultsAnswer), nil
	}
	return textResponse(strings.Join(answers, "\n\n")), nil
}

func textResponse(text string) *Response {
	return &Response{Content: []ContentBlock{{Type: BlockText, Text: text}}, StopReason: StopEndTurn}
}

func toolUse(name string, input interface{}) ContentBlock {
	raw, _ := json.Marshal(input)
	return ContentBlock{Type: BlockToolUse, ID: "toolu_" + uuid.NewString(), Name: name, Input: raw}
}

func firstCall(question string, tools []ToolDefinition) (ContentBlock, bool) {
	if question == "" {
		return ContentBlock{}, false
	}
	if hasTool(tools, outlineToolName) && isOutlineQuestion(question) {
		if name := courseNameFrom(question); name != "" {
			return toolUse(outlineToolName, map[string]string{"course_name": name}), true
		}
	}
	if hasTool(tools, searchToolName) {
		return toolUse(searchToolName, map[string]string{"query": question}), true
	}
	return ContentBlock{}, false
}

func hasTool(tools []ToolDefinition, name string) bool {
	for _, t := range tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

func isOutlineQuestion(q string) bool {
	lower := strings.ToLower(q)
	for _, w := range outlineWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// courseNameFrom takes the text after the last " of ", " for " or " in " as the course name.
func courseNameFrom(q string) string {
	lower := strings.ToLower(q)
	cut := -1
	for _, sep := range []string{" of ", " for ", " in "} {
		if i := strings.LastIndex(lower, sep); i >= 0 && i+len(sep) > cut {
			cut = i + len(sep)
		}
	}
	if cut < 0 {
		return ""
	}
	name := strings.Trim(q[cut:], " \t?.!\"'`")
	name = strings.TrimPrefix(name, "the ")
	return strings.TrimSuffix(strings.TrimSuffix(name, " course"), " Course")
}

func firstUserText(msgs []Message) string {
	for _, m := range msgs {
		if m.Role != RoleUser {
			continue
		}
		for _, b := range m.Content {
			if b.Type == BlockText && strings.TrimSpace(b.Text) != "" {
				return strings.TrimSpace(b.Text)
			}
		}
	}
	return ""
}

type toolResult struct {
	tool  string
	block ContentBlock
}

// lastToolResults returns the tool results of the last user message, paired with the
// tool each answers.
func lastToolResults(msgs []Message) []toolResult {
	if len(msgs) == 0 {
		return nil
	}
	last := msgs[len(msgs)-1]
	if last.Role != RoleUser {
		return nil
	}
	names := make(map[string]string)
	for _, m := range msgs {
		for _, b := range m.Content {
			if b.Type == BlockToolUse {
				names[b.ID] = b.Name
			}
		}
	}
	var out []toolResult
	for _, b := range last.Content {
		if b.Type == BlockToolResult {
			out = append(out, toolResult{tool: names[b.ToolUseID], block: b})
		}
	}
	return out
}

func searchedAlready(msgs []Message) bool {
	for _, m := range msgs {
		for _, b := range m.Content {
			if b.Type == BlockToolUse && b.Name == searchToolName {
				return true
			}
		}
	}
	return false
}

func allErrors(results []toolResult) bool {
	for _, r := range results {
		if !r.block.IsError {
			return false
		}
	}
	return true
}

type scoredSentence struct {
	pos   int
	score int
	text  string
}

// bestSentences picks up to n sentences of the search results sharing the most content
// words with question, in their original order. Result headers ("[Course - Lesson n]")
// and the "Lesson n content:" prefix are not quoted.
func bestSentences(question, results string, n int) string {
	want := make(map[string]bool)
	for _, w := range embedding.ContentWords(question) {
		want[w] = true
	}
	var sentences []scoredSentence
	for _, line := range strings.Split(results, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || (strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]")) {
			continue
		}
		if i := strings.Index(line, " content: "); i >= 0 && strings.HasPrefix(line, "Lesson ") {
			line = line[i+len(" content: "):]
		}
		for _, s := range ingest.SplitSentences(line) {
			score := 0
			seen := make(map[string]bool)
			for _, w := range embedding.ContentWords(s) {
				if want[w] && !seen[w] {
					score++
					seen[w] = true
				}
			}
			sentences = append(sentences, scoredSentence{pos: len(sentences), score: score, text: strings.TrimSpace(s)})
		}
	}
	if len(sentences) == 0 {
		return ""
	}
	ranked := make([]scoredSentence, len(sentences))
	copy(ranked, sentences)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if ranked[0].score == 0 {
		return sentences[0].text
	}
	var picked []scoredSentence
	for _, s := range ranked {
		if s.score == 0 || len(picked) == n {
			break
		}
		picked = append(picked, s)
	}
	sort.Slice(picked, func(i, j int) bool { return picked[i].pos < picked[j].pos })
	parts := make([]string, len(picked))
	for i, s := range picked {
		parts[i] = s.text
	}
	return strings.Join(parts, " ")
}
