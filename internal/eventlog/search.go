package eventlog

import (
	"fmt"
	"log"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
)

// SearchHit is one full-text match over the conversation log.
type SearchHit struct {
	EventID  string  `json:"event_id"`
	ThreadID string  `json:"thread_id"`
	Type     string  `json:"type"`
	Score    float64 `json:"score"`
	Snippet  string  `json:"snippet"`
}

// Searcher provides keyword search over appended events. It indexes the
// human-readable text of user messages, agent messages and tool results;
// control events (approvals, markers) carry no searchable prose and are
// skipped.
type Searcher struct {
	index bleve.Index
	path  string
}

// NewSearcher creates or opens the event search index next to the event
// database. A corrupted index is deleted and recreated; the log remains the
// source of truth, so the index is always rebuildable.
func NewSearcher(dbPath string) (*Searcher, error) {
	indexPath := dbPath + ".bleve"

	index, err := bleve.Open(indexPath)
	if err == bleve.ErrorIndexPathDoesNotExist {
		index, err = bleve.New(indexPath, buildEventMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create event index: %w", err)
		}
	} else if err != nil {
		log.Printf("event index appears corrupted (error: %v), recreating", err)
		if index != nil {
			index.Close()
		}
		if err := os.RemoveAll(indexPath); err != nil {
			log.Printf("failed to remove corrupted event index: %v", err)
		}
		index, err = bleve.New(indexPath, buildEventMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to recreate event index: %w", err)
		}
	}

	return &Searcher{index: index, path: indexPath}, nil
}

func buildEventMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()

	eventMapping := bleve.NewDocumentMapping()

	threadField := bleve.NewTextFieldMapping()
	threadField.Analyzer = keyword.Name
	threadField.Store = true
	threadField.Index = true
	eventMapping.AddFieldMappingsAt("thread_id", threadField)

	typeField := bleve.NewTextFieldMapping()
	typeField.Analyzer = keyword.Name
	typeField.Store = true
	typeField.Index = true
	eventMapping.AddFieldMappingsAt("type", typeField)

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = standard.Name
	textField.Store = true
	textField.Index = true
	eventMapping.AddFieldMappingsAt("text", textField)

	indexMapping.DefaultMapping = eventMapping
	return indexMapping
}

// Index adds one event to the search index. Events without searchable text
// are ignored.
func (s *Searcher) Index(ev Event) error {
	text, ok := searchableText(ev)
	if !ok {
		return nil
	}
	doc := map[string]interface{}{
		"thread_id": ev.ThreadID,
		"type":      string(ev.Type),
		"text":      text,
	}
	return s.index.Index(ev.ID, doc)
}

// searchableText extracts the prose carried by an event, if any.
func searchableText(ev Event) (string, bool) {
	switch ev.Type {
	case TypeUserMessage:
		var m UserMessage
		if err := ev.Decode(&m); err != nil || m.Content == "" {
			return "", false
		}
		return m.Content, true
	case TypeAgentMessage:
		var m AgentMessage
		if err := ev.Decode(&m); err != nil || m.Content == "" {
			return "", false
		}
		return m.Content, true
	case TypeToolResult:
		var r ToolResultData
		if err := ev.Decode(&r); err != nil || r.Content == "" {
			return "", false
		}
		return r.Content, true
	default:
		return "", false
	}
}

// Search returns the top k matches for query, optionally scoped to one
// thread (empty threadID searches everything).
func (s *Searcher) Search(query, threadID string, k int) ([]SearchHit, error) {
	if k <= 0 {
		k = 10
	}

	q := bleve.NewMatchQuery(query)
	q.SetField("text")

	var combined = bleve.NewConjunctionQuery(q)
	if threadID != "" {
		threadQuery := bleve.NewTermQuery(threadID)
		threadQuery.SetField("thread_id")
		combined = bleve.NewConjunctionQuery(q, threadQuery)
	}

	req := bleve.NewSearchRequest(combined)
	req.Size = k
	req.Fields = []string{"thread_id", "type", "text"}

	res, err := s.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("event search failed: %w", err)
	}

	hits := make([]SearchHit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		h := SearchHit{EventID: hit.ID, Score: hit.Score}
		if v, ok := hit.Fields["thread_id"].(string); ok {
			h.ThreadID = v
		}
		if v, ok := hit.Fields["type"].(string); ok {
			h.Type = v
		}
		if v, ok := hit.Fields["text"].(string); ok {
			if len(v) > 200 {
				v = v[:200]
			}
			h.Snippet = v
		}
		hits = append(hits, h)
	}
	return hits, nil
}

// Close closes the underlying index.
func (s *Searcher) Close() error {
	return s.index.Close()
}
