package types

import (
	"fmt"

	"github.com/google/uuid"
)

// Chunk is the streamed unit of embedding, extraction and summarization.
// It is not persisted in the relational store; its identity is deterministic
// per (document, ordinal) so repeated pipeline runs overwrite rather than
// duplicate downstream rows and nodes.
type Chunk struct {
	ID        string    `json:"id"`
	DocID     uuid.UUID `json:"doc_id"`
	Idx       int       `json:"idx"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding,omitempty"`
	Summary   string    `json:"summary,omitempty"`
}

func ChunkID(docID uuid.UUID, idx int) string {
	return fmt.Sprintf("chunk-%s-%d", docID.String(), idx)
}

// Entity ids are scoped to the owning chunk (CHUNK_<chunk_id>_ENTITY_<n>) so
// extraction over different chunks cannot collide before graph merge.
type Entity struct {
	ID         string   `json:"id"`
	Text       string   `json:"text"`
	EntityType string   `json:"entity_type"`
	ChunkIDs   []string `json:"chunks,omitempty"`
}

const (
	RelationMentions  = "MENTIONS"
	RelationLocatedIn = "LOCATED_IN"
	RelationPartOf    = "PART_OF"
	RelationFoundedBy = "FOUNDED_BY"
	RelationRelatedTo = "RELATED_TO"
	RelationTeaches   = "TEACHES"
	RelationLivedIn   = "LIVED_IN"
)

var relationTypes = map[string]bool{
	RelationMentions:  true,
	RelationLocatedIn: true,
	RelationPartOf:    true,
	RelationFoundedBy: true,
	RelationRelatedTo: true,
	RelationTeaches:   true,
	RelationLivedIn:   true,
}

func IsRelationType(s string) bool { return relationTypes[s] }

type Relation struct {
	SrcEntityID  string `json:"src_entity_id"`
	TgtEntityID  string `json:"tgt_entity_id"`
	RelationType string `json:"relation_type"`
}

// Extraction is the strict-JSON payload returned by one extraction call.
type Extraction struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
}

// Community is derived by the global clustering pass, never authored.
type Community struct {
	ID   string `json:"id"`
	Size int    `json:"size"`
}

// Subgraph is the result of a scoped graph traversal: the full matching
// entity subgraph, not a ranked list.
type Subgraph struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
}

// SearchHit is one fused hybrid-retrieval result.
type SearchHit struct {
	ChunkID   string  `json:"chunk_id"`
	Text      string  `json:"text"`
	DocID     string  `json:"doc_id"`
	CreatorID string  `json:"creator_id"`
	Idx       int64   `json:"idx"`
	Score     float32 `json:"score"`
}
