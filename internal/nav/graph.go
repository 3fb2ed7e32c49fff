// Package nav resolves a respondent's next destination from their
// current position, the survey's jump tables and their accumulated
// answers.
package nav

import (
	"sort"

	"github.com/canvass/canvass/pkg/schema"
)

// Graph is an immutable, indexed snapshot of one survey's structure.
// Built once per resolution request from the persistence layer's view;
// the resolver never mutates it.
type Graph struct {
	surveyID        string
	pages           []*schema.Page
	pagesByID       map[string]*schema.Page
	questionsByID   map[string]*schema.Question
	questionsByPage map[string][]*schema.Question
	jumpsByQuestion map[string][]*schema.Jump
	jumpsByPage     map[string][]*schema.Jump
	expressionsByID map[string]*schema.Expression
}

// NewGraph indexes the survey structure. Pages and questions are sorted
// by index; jumps by ascending priority with creation order (Seq)
// breaking ties.
func NewGraph(surveyID string, pages []schema.Page, questions []schema.Question, jumps []schema.Jump, expressions []schema.Expression) *Graph {
	g := &Graph{
		surveyID:        surveyID,
		pagesByID:       make(map[string]*schema.Page, len(pages)),
		questionsByID:   make(map[string]*schema.Question, len(questions)),
		questionsByPage: make(map[string][]*schema.Question),
		jumpsByQuestion: make(map[string][]*schema.Jump),
		jumpsByPage:     make(map[string][]*schema.Jump),
		expressionsByID: make(map[string]*schema.Expression, len(expressions)),
	}

	for i := range pages {
		p := &pages[i]
		g.pages = append(g.pages, p)
		g.pagesByID[p.ID] = p
	}
	sort.SliceStable(g.pages, func(i, j int) bool {
		return g.pages[i].Index < g.pages[j].Index
	})

	for i := range questions {
		q := &questions[i]
		g.questionsByID[q.ID] = q
		g.questionsByPage[q.PageID] = append(g.questionsByPage[q.PageID], q)
	}
	for _, qs := range g.questionsByPage {
		sort.SliceStable(qs, func(i, j int) bool {
			return qs[i].Index < qs[j].Index
		})
	}

	for i := range jumps {
		j := &jumps[i]
		switch {
		case j.FromQuestionID != "":
			g.jumpsByQuestion[j.FromQuestionID] = append(g.jumpsByQuestion[j.FromQuestionID], j)
		case j.FromPageID != "":
			g.jumpsByPage[j.FromPageID] = append(g.jumpsByPage[j.FromPageID], j)
		}
	}
	for _, js := range g.jumpsByQuestion {
		sortJumps(js)
	}
	for _, js := range g.jumpsByPage {
		sortJumps(js)
	}

	for i := range expressions {
		e := &expressions[i]
		g.expressionsByID[e.ID] = e
	}

	return g
}

func sortJumps(js []*schema.Jump) {
	sort.SliceStable(js, func(i, j int) bool {
		if js[i].Priority != js[j].Priority {
			return js[i].Priority < js[j].Priority
		}
		return js[i].Seq < js[j].Seq
	})
}

// SurveyID returns the survey this graph was built from.
func (g *Graph) SurveyID() string { return g.surveyID }

// Page returns a page by ID, or nil.
func (g *Graph) Page(id string) *schema.Page { return g.pagesByID[id] }

// Question returns a question by ID, or nil.
func (g *Graph) Question(id string) *schema.Question { return g.questionsByID[id] }

// Pages returns all pages in ascending index order.
func (g *Graph) Pages() []*schema.Page { return g.pages }

// PageQuestions returns the page's questions in ascending index order.
func (g *Graph) PageQuestions(pageID string) []*schema.Question {
	return g.questionsByPage[pageID]
}

// QuestionJumps returns jumps originating at the question, sorted by
// priority then creation order.
func (g *Graph) QuestionJumps(questionID string) []*schema.Jump {
	return g.jumpsByQuestion[questionID]
}

// PageJumps returns jumps originating at the page, sorted by priority
// then creation order.
func (g *Graph) PageJumps(pageID string) []*schema.Jump {
	return g.jumpsByPage[pageID]
}

// Expression returns an expression by ID, or nil.
func (g *Graph) Expression(id string) *schema.Expression {
	return g.expressionsByID[id]
}

// NextPage returns the page with the lowest index greater than the given
// page's, or nil when the page is last.
func (g *Graph) NextPage(pageID string) *schema.Page {
	current := g.pagesByID[pageID]
	if current == nil {
		return nil
	}
	for _, p := range g.pages {
		if p.Index > current.Index {
			return p
		}
	}
	return nil
}

// AnswerSet rekeys stored answers (by question ID) to the variable names
// the condition language uses. Answers to unknown questions are dropped.
func (g *Graph) AnswerSet(byQuestionID map[string]schema.AnswerValue) schema.AnswerSet {
	out := make(schema.AnswerSet, len(byQuestionID))
	for qid, v := range byQuestionID {
		if q := g.questionsByID[qid]; q != nil {
			out[q.VariableName] = v
		}
	}
	return out
}
