// Package flow implements the conversation state machine: given a
// conversation's current state and an inbound message, it resolves the next
// question, side effects and reply.
package flow

import (
	"context"
	"fmt"
	"sync"

	"github.com/huntred/chatflow/internal/model"
	"github.com/huntred/chatflow/internal/repository"
)

// DefaultFlowName is the flow loaded for a business unit when none is named.
const DefaultFlowName = "candidate_intake"

// Graph is an in-memory flow graph keyed by question ref. Graphs may contain
// cycles (retry loops); traversal never assumes acyclicity.
type Graph struct {
	def       *model.FlowDefinition
	questions map[string]*model.Question
}

func NewGraph(def *model.FlowDefinition, questions []model.Question) (*Graph, error) {
	g := &Graph{
		def:       def,
		questions: make(map[string]*model.Question, len(questions)),
	}
	for i := range questions {
		q := &questions[i]
		if _, dup := g.questions[q.Ref]; dup {
			return nil, fmt.Errorf("duplicate question ref %q in flow %s", q.Ref, def.ID)
		}
		g.questions[q.Ref] = q
	}
	if _, ok := g.questions[def.EntryRef]; !ok {
		return nil, fmt.Errorf("flow %s entry ref %q has no question", def.ID, def.EntryRef)
	}
	return g, nil
}

func (g *Graph) Entry() *model.Question {
	return g.questions[g.def.EntryRef]
}

func (g *Graph) Question(ref string) (*model.Question, bool) {
	q, ok := g.questions[ref]
	return q, ok
}

// Next follows the yes or no edge from a question. A nil result means the
// flow terminates there.
func (g *Graph) Next(q *model.Question, affirmative bool) *model.Question {
	var ref *string
	if affirmative {
		ref = q.NextOnYes
	} else {
		ref = q.NextOnNo
	}
	if ref == nil {
		return nil
	}
	next, ok := g.questions[*ref]
	if !ok {
		return nil
	}
	return next
}

// GraphCache loads flow graphs from the repository once per business unit
// and serves them from memory afterwards.
type GraphCache struct {
	repo   repository.FlowRepository
	mu     sync.RWMutex
	graphs map[string]*Graph
}

func NewGraphCache(repo repository.FlowRepository) *GraphCache {
	return &GraphCache{
		repo:   repo,
		graphs: make(map[string]*Graph),
	}
}

func (c *GraphCache) For(ctx context.Context, businessUnitID string) (*Graph, error) {
	c.mu.RLock()
	g, ok := c.graphs[businessUnitID]
	c.mu.RUnlock()
	if ok {
		return g, nil
	}

	def, err := c.repo.FindDefinition(ctx, businessUnitID, DefaultFlowName)
	if err != nil {
		return nil, fmt.Errorf("load flow definition: %w", err)
	}
	if def == nil {
		return nil, fmt.Errorf("no %q flow configured for business unit %s", DefaultFlowName, businessUnitID)
	}

	questions, err := c.repo.FindQuestions(ctx, def.ID)
	if err != nil {
		return nil, fmt.Errorf("load flow questions: %w", err)
	}

	g, err = NewGraph(def, questions)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.graphs[businessUnitID] = g
	c.mu.Unlock()
	return g, nil
}
