package extract

import "strings"

// Category is the semantic class of an inbound message.
type Category string

const (
	CategoryUpdate     Category = "UPDATE"
	CategoryFinancials Category = "FINANCIALS"
	CategoryBoard      Category = "BOARD"
	CategoryNotebookLM Category = "NOTEBOOKLM"
	CategoryCapTable   Category = "CAPTABLE"
	CategoryGeneral    Category = "GENERAL"
)

// Classifier assigns a message to a category by evaluating the
// configured rule table in order. The ordering is load-bearing: a
// message matching multiple rules gets the first rule's category.
type Classifier struct {
	rules []ClassifierRule
}

// NewClassifier builds a classifier over the configured rule table.
func NewClassifier(p Patterns) *Classifier {
	return &Classifier{rules: p.ClassifierRules}
}

// Classify returns the first matching rule's category, or GENERAL.
func (c *Classifier) Classify(subject, body string) Category {
	subjectLower := strings.ToLower(subject)
	bodyLower := strings.ToLower(body)

	for _, rule := range c.rules {
		for _, s := range rule.SubjectContains {
			if strings.Contains(subjectLower, s) {
				return rule.Category
			}
		}
		for _, b := range rule.BodyContains {
			if strings.Contains(bodyLower, b) {
				return rule.Category
			}
		}
	}
	return CategoryGeneral
}
