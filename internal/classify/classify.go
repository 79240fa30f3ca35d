// Package classify decides whether a backlog task can run unattended.
//
// Classification is an ordered rule table. The first rule that matches
// decides the verdict, so precedence is the order of the table: eligibility,
// then a recorded decision, then every interactive rule, then the background
// rules. A task that matches nothing is skipped rather than guessed at.
package classify

import (
	"regexp"
	"strings"

	"github.com/imkarma/drover/internal/store"
)

// Verdict is the outcome of classifying one task.
type Verdict string

const (
	Background  Verdict = "background"
	Interactive Verdict = "interactive"
	Skip        Verdict = "skip"
)

// Result explains a verdict.
type Result struct {
	Verdict Verdict `json:"verdict"`
	Rule    string  `json:"rule"`
	Reason  string  `json:"reason"`
}

// Rule is one row of the table.
type Rule struct {
	Name    string
	Verdict Verdict
	Reason  string
	Match   func(in Input) bool
}

// Input is the normalized view of a task the rules see.
type Input struct {
	ID     string
	Status store.Status
	Name   string // lower-cased
	Text   string // lower-cased name + description

	// Decided is set once a decision is recorded and nothing is left open.
	Decided bool
}

// DefaultBackgroundPrefixes are the id prefixes reserved for background work.
var DefaultBackgroundPrefixes = []string{"BG-"}

const (
	reasonNotEligible = "not eligible"
	reasonAmbiguous   = "ambiguous, no confident signal"
)

var (
	clarificationRe = regexp.MustCompile(`\bclarification required\b|\bneeds? clarification\b`)
	userInputRe     = regexp.MustCompile(`\buser input\b|\buser interaction\b|\bneeds? (?:user )?input\b`)
	designRe        = regexp.MustCompile(`\bdesign`)
	designObjectRe  = regexp.MustCompile(`\b(?:framework|system|strategy|allocation)`)
	decisionRe      = regexp.MustCompile(`\b(?:decide|choose|select|recommend|suggest|propose)`)
	strategyRe      = regexp.MustCompile(`\bstrateg`)
	planRe          = regexp.MustCompile(`\bplan`)
	workflowRe      = regexp.MustCompile(`\bworkflow`)
	implementRe     = regexp.MustCompile(`\bimplement`)
	workVerbRe      = regexp.MustCompile(`\b(?:implement|create|add|update|fix|refactor|test|validate|document|configure|config|setup|set up|research)`)
)

// Classifier evaluates tasks against its rule table.
type Classifier struct {
	rules []Rule
}

// New builds a classifier whose reserved-prefix rule uses prefixes.
func New(prefixes []string) *Classifier {
	ps := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p = strings.TrimSpace(p); p != "" {
			ps = append(ps, p)
		}
	}
	return &Classifier{rules: buildRules(ps)}
}

// Default returns a classifier using DefaultBackgroundPrefixes.
func Default() *Classifier {
	return New(DefaultBackgroundPrefixes)
}

// Rules returns the table in evaluation order.
func (c *Classifier) Rules() []Rule {
	return append([]Rule(nil), c.rules...)
}

// Classify returns the verdict of the first matching rule.
func (c *Classifier) Classify(t store.Task) Result {
	in := Input{
		ID:      t.ID,
		Status:  t.Status.Normalize(),
		Name:    strings.ToLower(t.Name),
		Text:    t.Text(),
		Decided: Decided(t),
	}
	for _, r := range c.rules {
		if r.Match(in) {
			return Result{Verdict: r.Verdict, Rule: r.Name, Reason: r.Reason}
		}
	}
	return Result{Verdict: Skip, Rule: "fallthrough", Reason: reasonAmbiguous}
}

// WouldBeInteractive classifies t as if it were in Todo. Used to check
// whether a task outside Todo still carries an interactive signal.
func (c *Classifier) WouldBeInteractive(t store.Task) bool {
	t.Status = store.StatusTodo
	return c.Classify(t).Verdict == Interactive
}

func withoutImplement(in Input) bool {
	return !implementRe.MatchString(in.Text)
}

func buildRules(prefixes []string) []Rule {
	return []Rule{
		{
			Name: "eligibility", Verdict: Skip, Reason: reasonNotEligible,
			Match: func(in Input) bool { return in.Status != store.StatusTodo },
		},
		{
			Name: "decision-recorded", Verdict: Background,
			Reason: "decision recorded",
			Match:  func(in Input) bool { return in.Decided },
		},
		{
			Name: "needs-clarification", Verdict: Interactive,
			Reason: "task needs clarification",
			Match:  func(in Input) bool { return clarificationRe.MatchString(in.Text) },
		},
		{
			Name: "needs-user-input", Verdict: Interactive,
			Reason: "task needs user input",
			Match:  func(in Input) bool { return userInputRe.MatchString(in.Text) },
		},
		{
			Name: "design-decision", Verdict: Interactive,
			Reason: "design task requires a decision",
			Match: func(in Input) bool {
				return designRe.MatchString(in.Text) && designObjectRe.MatchString(in.Text) && withoutImplement(in)
			},
		},
		{
			Name: "decision-verb", Verdict: Interactive,
			Reason: "task asks for a decision",
			Match: func(in Input) bool {
				return decisionRe.MatchString(in.Text) && withoutImplement(in)
			},
		},
		{
			Name: "strategy", Verdict: Interactive,
			Reason: "strategy task needs human input",
			Match: func(in Input) bool {
				planning := strategyRe.MatchString(in.Text) ||
					(planRe.MatchString(in.Name) && workflowRe.MatchString(in.Text))
				return planning && withoutImplement(in)
			},
		},
		{
			Name: "reserved-prefix", Verdict: Background,
			Reason: "reserved background id prefix",
			Match: func(in Input) bool {
				for _, p := range prefixes {
					if strings.HasPrefix(strings.ToUpper(in.ID), strings.ToUpper(p)) {
						return true
					}
				}
				return false
			},
		},
		{
			Name: "work-verb", Verdict: Background,
			Reason: "concrete work verb in name",
			Match:  func(in Input) bool { return workVerbRe.MatchString(in.Name) },
		},
	}
}
