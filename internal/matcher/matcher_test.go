package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"case-mail-router/internal/model"
)

func directory() Directory {
	return Directory{
		Clients: []model.Client{
			{ID: "cl-acme", Name: "Acme SRL", EmailDomains: []string{"acme.ro"}},
			{ID: "cl-popescu", Name: "Popescu", EmailDomains: []string{"@Popescu-Law.RO"}},
		},
		Cases: []model.Case{
			{ID: "case-acme-1", ClientID: "cl-acme", EmailDomains: []string{"legal.acme.ro"}, Keywords: []string{"contract furnizare"}},
			{ID: "case-acme-2", ClientID: "cl-acme", Keywords: []string{"litigiu ANAF"}},
			{ID: "case-pop-1", ClientID: "cl-popescu", ContactEmails: []string{"popescu@gmail.com"}},
		},
	}
}

func TestMatchCaseDomainBeatsKeyword(t *testing.T) {
	m := New([]string{"gmail.com"})
	got := m.Match(Input{Sender: "Ana <ana@LEGAL.acme.ro>", Subject: "contract furnizare"}, directory())

	// the keyword also matches case-acme-1; only the stronger domain signal is kept
	require.Len(t, got, 1)
	assert.Equal(t, "case-acme-1", got[0].CaseID)
	assert.Equal(t, model.MatchSender, got[0].MatchType)
	assert.Equal(t, ConfidenceCaseDomain, got[0].Confidence)
}

func TestMatchInheritedDomainAndClientLevel(t *testing.T) {
	m := New(nil)
	got := m.Match(Input{Sender: "ion@acme.ro", Subject: "salut"}, directory())

	cases := CaseCandidates(got)
	require.Len(t, cases, 1)
	assert.Equal(t, "case-acme-2", cases[0].CaseID)
	assert.Equal(t, ConfidenceInheritedDomain, cases[0].Confidence)

	clients := ClientCandidates(got)
	require.Len(t, clients, 1)
	assert.Equal(t, "cl-acme", clients[0].ClientID)
	assert.Equal(t, model.MatchClientDomain, clients[0].MatchType)
	assert.Equal(t, ConfidenceClientDomain, clients[0].Confidence)
}

func TestMatchKeywordCaseInsensitive(t *testing.T) {
	m := New(nil)
	got := m.Match(Input{Sender: "someone@other.com", Body: "Referitor la LITIGIU anaf, va rugam"}, directory())

	require.Len(t, got, 1)
	assert.Equal(t, "case-acme-2", got[0].CaseID)
	assert.Equal(t, model.MatchKeyword, got[0].MatchType)
	assert.Equal(t, ConfidenceKeyword, got[0].Confidence)
}

func TestMatchContactOnPublicDomain(t *testing.T) {
	m := New([]string{"gmail.com"})
	got := m.Match(Input{Sender: "Popescu@Gmail.com"}, directory())

	require.Len(t, got, 1)
	assert.Equal(t, "case-pop-1", got[0].CaseID)
	assert.Equal(t, ConfidenceContact, got[0].Confidence)

	// another gmail user is not recognized through the public domain
	assert.Empty(t, m.Match(Input{Sender: "stranger@gmail.com"}, directory()))
}

func TestMatchUnknownSender(t *testing.T) {
	m := New(nil)
	assert.Empty(t, m.Match(Input{Sender: "unknown@random.com", Subject: "hello"}, directory()))
	assert.Empty(t, m.Match(Input{}, directory()))
}

func TestMatchConfidenceOrdering(t *testing.T) {
	assert.Greater(t, ConfidenceCaseDomain, ConfidenceKeyword)
	assert.Greater(t, ConfidenceKeyword, ConfidenceClientDomain)
}
