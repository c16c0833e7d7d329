// Package classifier decides where an inbound email lands: a case, a client bucket,
// the court queue (INSTANȚE) or the unclear queue (NECLAR).
package classifier

import (
	"context"
	"fmt"

	"case-mail-router/internal/matcher"
	"case-mail-router/internal/model"
	"case-mail-router/internal/reference"
)

// Directory loads the cases and clients rules are evaluated against
type Directory interface {
	ListCases(ctx context.Context) ([]model.Case, error)
	ListClients(ctx context.Context) ([]model.Client, error)
}

// StaticDirectory is a fixed in-memory Directory
type StaticDirectory struct {
	Cases   []model.Case
	Clients []model.Client
}

func (d StaticDirectory) ListCases(context.Context) ([]model.Case, error)     { return d.Cases, nil }
func (d StaticDirectory) ListClients(context.Context) ([]model.Client, error) { return d.Clients, nil }

// Input is the email as seen by the router
type Input struct {
	Sender      string
	Subject     string
	Body        string
	Attachments []string
}

// Evidence is everything a rule may look at
type Evidence struct {
	Input        Input
	Reference    *reference.Match
	Candidates   []matcher.Candidate
	Directory    matcher.Directory
	SenderDomain string
}

// Decision is the outcome of classification
type Decision struct {
	State      model.ClassificationState `json:"state"`
	CaseIDs    []string                  `json:"case_ids,omitempty"`
	ClientID   string                    `json:"client_id,omitempty"`
	MatchType  model.MatchType           `json:"match_type,omitempty"`
	Confidence float64                   `json:"confidence"`
	Rule       string                    `json:"rule"`
	Reference  string                    `json:"reference,omitempty"`
	Note       string                    `json:"note,omitempty"`
}

// Router evaluates rules in order; the first rule returning a decision wins
type Router struct {
	directory Directory
	matcher   *matcher.Matcher
	rules     []Rule
}

// NewRouter creates a router over directory using the given rule chain
func NewRouter(directory Directory, m *matcher.Matcher, rules []Rule) *Router {
	return &Router{directory: directory, matcher: m, rules: rules}
}

// Classify loads the directory, gathers evidence and runs the rule chain
func (r *Router) Classify(ctx context.Context, in Input) (Decision, error) {
	dir, err := r.loadDirectory(ctx)
	if err != nil {
		return Decision{}, err
	}
	return r.Evaluate(r.Gather(in, dir)), nil
}

// Gather runs the reference extractor and the matcher over in
func (r *Router) Gather(in Input, dir matcher.Directory) Evidence {
	ev := Evidence{
		Input:        in,
		Directory:    dir,
		SenderDomain: model.DomainOf(in.Sender),
	}

	texts := []reference.Text{
		{Source: reference.SourceSubject, Content: in.Subject},
		{Source: reference.SourceBody, Content: in.Body},
	}
	for _, a := range in.Attachments {
		texts = append(texts, reference.Text{Source: reference.SourceAttachment, Content: a})
	}
	if m, ok := reference.Extract(texts...); ok {
		ev.Reference = &m
	}

	ev.Candidates = r.matcher.Match(matcher.Input{
		Sender:  in.Sender,
		Subject: in.Subject,
		Body:    in.Body,
	}, dir)
	return ev
}

// Evaluate applies the rule chain to ev. The last rule always decides.
func (r *Router) Evaluate(ev Evidence) Decision {
	for _, rule := range r.rules {
		if d := rule.Apply(ev); d != nil {
			d.Rule = rule.Name
			if ev.Reference != nil && d.Reference == "" {
				d.Reference = ev.Reference.Normalized
			}
			return *d
		}
	}
	return Decision{State: model.StateUncertain, Rule: "fallback", Note: "no rule matched"}
}

func (r *Router) loadDirectory(ctx context.Context) (matcher.Directory, error) {
	cases, err := r.directory.ListCases(ctx)
	if err != nil {
		return matcher.Directory{}, fmt.Errorf("failed to load cases: %w", err)
	}
	clients, err := r.directory.ListClients(ctx)
	if err != nil {
		return matcher.Directory{}, fmt.Errorf("failed to load clients: %w", err)
	}
	return matcher.Directory{Cases: cases, Clients: clients}, nil
}
