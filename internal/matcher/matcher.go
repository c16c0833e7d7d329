// Package matcher recognizes a sender against the case and client directory.
package matcher

import (
	"sort"
	"strings"

	"case-mail-router/internal/model"
)

// Confidence tiers, strongest first. A case-level domain always outranks a keyword,
// and a keyword always outranks a domain that only identifies the client.
const (
	ConfidenceContact         = 0.95
	ConfidenceCaseDomain      = 0.9
	ConfidenceInheritedDomain = 0.8
	ConfidenceKeyword         = 0.7
	ConfidenceClientDomain    = 0.5
)

// Level tells whether a candidate points at a case or only at a client
type Level string

const (
	LevelCase   Level = "case"
	LevelClient Level = "client"
)

// Candidate is one possible owner of an email
type Candidate struct {
	CaseID     string          `json:"case_id,omitempty"`
	ClientID   string          `json:"client_id"`
	Level      Level           `json:"level"`
	MatchType  model.MatchType `json:"match_type"`
	Confidence float64         `json:"confidence"`
	Reason     string          `json:"reason"`
}

// Directory is a read-only snapshot of the cases and clients an email can match
type Directory struct {
	Cases   []model.Case
	Clients []model.Client
}

// Input is the part of an email the matcher looks at
type Input struct {
	Sender  string
	Subject string
	Body    string
}

// Matcher scores an email against a Directory
type Matcher struct {
	public map[string]struct{}
}

// New creates a matcher; addresses at publicDomains are never matched by domain
func New(publicDomains []string) *Matcher {
	public := make(map[string]struct{}, len(publicDomains))
	for _, d := range publicDomains {
		if d = model.NormalizeDomain(d); d != "" {
			public[d] = struct{}{}
		}
	}
	return &Matcher{public: public}
}

// IsPublicDomain reports whether domain belongs to a free mail provider
func (m *Matcher) IsPublicDomain(domain string) bool {
	_, ok := m.public[model.NormalizeDomain(domain)]
	return ok
}

// Match returns the strongest candidate per case, followed by client-level candidates.
// Case candidates are ordered by confidence, highest first.
func (m *Matcher) Match(in Input, dir Directory) []Candidate {
	sender := model.NormalizeAddress(in.Sender)
	domain := model.DomainOf(sender)
	domainUsable := domain != "" && !m.IsPublicDomain(domain)
	text := strings.ToLower(in.Subject + "\n" + in.Body)

	clientDomains := make(map[string][]string, len(dir.Clients))
	for _, cl := range dir.Clients {
		clientDomains[cl.ID] = normalizedSet(cl.EmailDomains)
	}

	var out []Candidate
	for _, c := range dir.Cases {
		best := Candidate{}
		consider := func(mt model.MatchType, conf float64, reason string) {
			if conf > best.Confidence {
				best = Candidate{
					CaseID:     c.ID,
					ClientID:   c.ClientID,
					Level:      LevelCase,
					MatchType:  mt,
					Confidence: conf,
					Reason:     reason,
				}
			}
		}

		if sender != "" {
			for _, contact := range c.ContactEmails {
				if model.NormalizeAddress(contact) == sender {
					consider(model.MatchSender, ConfidenceContact, "contact "+sender)
					break
				}
			}
		}

		if domainUsable {
			caseDomains := normalizedSet(c.EmailDomains)
			if len(caseDomains) > 0 {
				if contains(caseDomains, domain) {
					consider(model.MatchSender, ConfidenceCaseDomain, "case domain "+domain)
				}
			} else if contains(clientDomains[c.ClientID], domain) {
				consider(model.MatchSender, ConfidenceInheritedDomain, "client domain "+domain+" inherited by case")
			}
		}

		for _, kw := range c.Keywords {
			kw = model.NormalizeKeyword(kw)
			if kw != "" && strings.Contains(text, kw) {
				consider(model.MatchKeyword, ConfidenceKeyword, "keyword "+kw)
				break
			}
		}

		if best.Confidence > 0 {
			out = append(out, best)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })

	if domainUsable {
		for _, cl := range dir.Clients {
			if contains(clientDomains[cl.ID], domain) {
				out = append(out, Candidate{
					ClientID:   cl.ID,
					Level:      LevelClient,
					MatchType:  model.MatchClientDomain,
					Confidence: ConfidenceClientDomain,
					Reason:     "client domain " + domain,
				})
			}
		}
	}

	return out
}

// CaseCandidates filters candidates that name a specific case
func CaseCandidates(all []Candidate) []Candidate {
	var out []Candidate
	for _, c := range all {
		if c.Level == LevelCase {
			out = append(out, c)
		}
	}
	return out
}

// ClientCandidates filters candidates that only name a client
func ClientCandidates(all []Candidate) []Candidate {
	var out []Candidate
	for _, c := range all {
		if c.Level == LevelClient {
			out = append(out, c)
		}
	}
	return out
}

func normalizedSet(domains []string) []string {
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		if d = model.NormalizeDomain(d); d != "" {
			out = append(out, d)
		}
	}
	return out
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
