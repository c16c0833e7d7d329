package classifier

import (
	"fmt"
	"sort"

	"case-mail-router/internal/matcher"
	"case-mail-router/internal/model"
)

// Rule is one step of the priority chain. Apply returns nil to fall through.
type Rule struct {
	Name  string
	Apply func(ev Evidence) *Decision
}

// DefaultRules is the production priority chain. The court sender rule is only
// included when courtDomains is non-empty.
func DefaultRules(courtDomains []string) []Rule {
	rules := []Rule{
		ReferenceMatchRule(),
		ReferenceUnknownRule(),
		CaseMatchRule(),
		ClientBucketRule(),
	}
	if len(courtDomains) > 0 {
		rules = append(rules, CourtSenderRule(courtDomains))
	}
	return append(rules, UnknownSenderRule())
}

// ReferenceMatchRule links every case holding the extracted court number
func ReferenceMatchRule() Rule {
	return Rule{Name: "reference-match", Apply: func(ev Evidence) *Decision {
		if ev.Reference == nil {
			return nil
		}
		var caseIDs []string
		clientID := ""
		for i := range ev.Directory.Cases {
			c := &ev.Directory.Cases[i]
			if c.HasCourtNumber(ev.Reference.Normalized) {
				caseIDs = append(caseIDs, c.ID)
				if clientID == "" {
					clientID = c.ClientID
				}
			}
		}
		if len(caseIDs) == 0 {
			return nil
		}
		return &Decision{
			State:      model.StateClassified,
			CaseIDs:    caseIDs,
			ClientID:   clientID,
			MatchType:  model.MatchReferenceNumber,
			Confidence: 1.0,
			Note:       fmt.Sprintf("court file %s (%s)", ev.Reference.Normalized, ev.Reference.Source),
		}
	}}
}

// ReferenceUnknownRule parks mail carrying an unknown court number in the court queue
func ReferenceUnknownRule() Rule {
	return Rule{Name: "reference-unknown", Apply: func(ev Evidence) *Decision {
		if ev.Reference == nil {
			return nil
		}
		return &Decision{
			State:      model.StateCourtUnassigned,
			Confidence: ev.Reference.Confidence,
			Note:       fmt.Sprintf("court file %s matches no case", ev.Reference.Normalized),
		}
	}}
}

// CaseMatchRule assigns the single best case-level candidate. Ties fall through.
func CaseMatchRule() Rule {
	return Rule{Name: "case-match", Apply: func(ev Evidence) *Decision {
		top := topCaseCandidates(ev.Candidates)
		if len(top) != 1 {
			return nil
		}
		best := top[0]
		return &Decision{
			State:      model.StateClassified,
			CaseIDs:    []string{best.CaseID},
			ClientID:   best.ClientID,
			MatchType:  best.MatchType,
			Confidence: best.Confidence,
			Note:       best.Reason,
		}
	}}
}

// ClientBucketRule files mail under a client when the sender identifies exactly one
// client but no single case.
func ClientBucketRule() Rule {
	return Rule{Name: "client-bucket", Apply: func(ev Evidence) *Decision {
		clients := map[string]struct{}{}
		top := topCaseCandidates(ev.Candidates)
		for _, c := range top {
			clients[c.ClientID] = struct{}{}
		}
		if len(top) == 0 {
			for _, c := range matcher.ClientCandidates(ev.Candidates) {
				clients[c.ClientID] = struct{}{}
			}
		}
		if len(clients) != 1 {
			return nil
		}
		var clientID string
		for id := range clients {
			clientID = id
		}
		note := "sender known at client level"
		if len(top) > 1 {
			note = fmt.Sprintf("%d cases tie at %.2f", len(top), top[0].Confidence)
		}
		return &Decision{
			State:      model.StateClassified,
			ClientID:   clientID,
			MatchType:  model.MatchClientDomain,
			Confidence: matcher.ConfidenceClientDomain,
			Note:       note,
		}
	}}
}

// CourtSenderRule routes mail from a court domain without a usable reference to the court queue
func CourtSenderRule(courtDomains []string) Rule {
	set := make(map[string]struct{}, len(courtDomains))
	for _, d := range courtDomains {
		set[model.NormalizeDomain(d)] = struct{}{}
	}
	return Rule{Name: "court-sender", Apply: func(ev Evidence) *Decision {
		if _, ok := set[ev.SenderDomain]; !ok || ev.SenderDomain == "" {
			return nil
		}
		return &Decision{
			State:     model.StateCourtUnassigned,
			MatchType: model.MatchCourtDomain,
			Note:      "sender is a court domain " + ev.SenderDomain,
		}
	}}
}

// UnknownSenderRule always fires and sends the email to the unclear queue
func UnknownSenderRule() Rule {
	return Rule{Name: "unknown-sender", Apply: func(ev Evidence) *Decision {
		note := "sender not recognized"
		if top := topCaseCandidates(ev.Candidates); len(top) > 1 {
			note = fmt.Sprintf("%d cases across several clients tie at %.2f", len(top), top[0].Confidence)
		}
		return &Decision{State: model.StateUncertain, Note: note}
	}}
}

// topCaseCandidates returns the case-level candidates sharing the highest confidence
func topCaseCandidates(all []matcher.Candidate) []matcher.Candidate {
	cases := matcher.CaseCandidates(all)
	if len(cases) == 0 {
		return nil
	}
	sort.SliceStable(cases, func(i, j int) bool { return cases[i].Confidence > cases[j].Confidence })
	n := 1
	for n < len(cases) && cases[n].Confidence == cases[0].Confidence {
		n++
	}
	return cases[:n]
}
