package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxCards = "flashrevise_cards"

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the card index.
// The returned value is usable even when the server is down; it reports
// unhealthy until the health loop sees it recover.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxCards,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxCards, err)
	}

	index := m.client.Index(idxCards)
	filterable := []interface{}{"goalId", "subtopicId", "mastery"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs for %s: %v", idxCards, err)
	}
	searchable := []string{"front", "expansion", "trail"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs for %s: %v", idxCards, err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}
	q = normalizeQuery(q)

	resp, err := m.client.Index(idxCards).Search(q.Text, searchRequest(q))
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToResult(hit))
	}
	return results, int(resp.EstimatedTotalHits), nil
}

func searchRequest(q Query) *meili.SearchRequest {
	sr := &meili.SearchRequest{
		Limit:                 int64(q.Limit),
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"front", "expansion"},
		AttributesToCrop:      []string{"expansion"},
		CropLength:            30,
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	var filters []string
	if q.FilterGoalID != "" {
		filters = append(filters, fmt.Sprintf("goalId = %q", q.FilterGoalID))
	}
	if q.MaxMastery >= 0 {
		filters = append(filters, fmt.Sprintf("mastery <= %d", q.MaxMastery))
	}
	if len(filters) > 0 {
		sr.Filter = filters
	}
	return sr
}

func hitToResult(hit meili.Hit) Result {
	r := CardRecord{
		ID:         decodeString(hit, "id"),
		Front:      firstNonBlank(decodeFormattedString(hit, "front"), decodeString(hit, "front")),
		Trail:      decodeString(hit, "trail"),
		GoalID:     decodeString(hit, "goalId"),
		SubjectID:  decodeString(hit, "subjectId"),
		TopicID:    decodeString(hit, "topicId"),
		SubtopicID: decodeString(hit, "subtopicId"),
	}
	if raw, ok := hit["mastery"]; ok {
		_ = json.Unmarshal(raw, &r.Mastery)
	}
	return r.result(firstNonBlank(decodeFormattedString(hit, "expansion"), decodeString(hit, "expansion")))
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	s, _ := formatted[key].(string)
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexCards adds or updates records in bulk.
func (m *Meili) IndexCards(records []CardRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxCards).AddDocuments(records, nil)
	return err
}

// DeleteCards removes cards by id.
func (m *Meili) DeleteCards(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := m.client.Index(idxCards).DeleteDocuments(ids, nil)
	return err
}
