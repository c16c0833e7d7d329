package classifier

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"case-mail-router/internal/matcher"
	"case-mail-router/internal/model"
	"case-mail-router/internal/reference"
)

func fixture() StaticDirectory {
	return StaticDirectory{
		Clients: []model.Client{
			{ID: "cl-1", Name: "Client Domain SRL", EmailDomains: []string{"clientdomain.ro"}},
			{ID: "cl-2", Name: "Beta", EmailDomains: []string{"beta.ro"}},
			{ID: "cl-3", Name: "Gamma", EmailDomains: []string{"gamma.ro"}},
		},
		Cases: []model.Case{
			{ID: "case-c", ClientID: "cl-1", CourtFileNumbers: []string{"1234/62/2024"}, EmailDomains: []string{"clientdomain.ro"}},
			{ID: "case-b1", ClientID: "cl-2", Keywords: []string{"fuziune"}},
			{ID: "case-b2", ClientID: "cl-2", Keywords: []string{"fuziune"}},
			{ID: "case-g1", ClientID: "cl-3", Keywords: []string{"fuziune"}, EmailDomains: []string{"g1.gamma.ro"}},
		},
	}
}

func newRouter(courtDomains ...string) *Router {
	return NewRouter(fixture(), matcher.New([]string{"gmail.com"}), DefaultRules(courtDomains))
}

func TestScenarioReferenceMatch(t *testing.T) {
	d, err := newRouter().Classify(context.Background(), Input{
		Sender:  "ion@clientdomain.ro",
		Subject: "Re: Dosar nr. 1234/62/2024",
	})
	require.NoError(t, err)
	assert.Equal(t, model.StateClassified, d.State)
	assert.Equal(t, []string{"case-c"}, d.CaseIDs)
	assert.Equal(t, model.MatchReferenceNumber, d.MatchType)
	assert.Equal(t, 1.0, d.Confidence)
	assert.Equal(t, "reference-match", d.Rule)
	assert.Equal(t, "1234/62/2024", d.Reference)
}

func TestScenarioUnknownSender(t *testing.T) {
	d, err := newRouter().Classify(context.Background(), Input{
		Sender:  "unknown@random.com",
		Subject: "Buna ziua",
		Body:    "Am o intrebare.",
	})
	require.NoError(t, err)
	assert.Equal(t, model.StateUncertain, d.State)
	assert.Empty(t, d.CaseIDs)
	assert.Equal(t, "unknown-sender", d.Rule)
}

func TestReferenceUnknownGoesToCourtQueue(t *testing.T) {
	d, err := newRouter().Classify(context.Background(), Input{
		Sender: "ion@clientdomain.ro",
		Body:   "Citatie in dosarul nr. 999/3/2023",
	})
	require.NoError(t, err)
	assert.Equal(t, model.StateCourtUnassigned, d.State)
	assert.Empty(t, d.CaseIDs)
	assert.Equal(t, "reference-unknown", d.Rule)
	assert.Equal(t, "999/3/2023", d.Reference)
}

func TestDateInSubjectDoesNotHideBodyReference(t *testing.T) {
	d, err := newRouter().Classify(context.Background(), Input{
		Sender:  "grefa@just.ro",
		Subject: "Termen 15/03/2025",
		Body:    "Va comunicam termenul in dosarul nr. 1234/62/2024.",
	})
	require.NoError(t, err)
	assert.Equal(t, model.StateClassified, d.State)
	assert.Equal(t, []string{"case-c"}, d.CaseIDs)
	assert.Equal(t, "reference-match", d.Rule)
	assert.Equal(t, "1234/62/2024", d.Reference)
}

func TestReferenceInAttachment(t *testing.T) {
	d, err := newRouter().Classify(context.Background(), Input{
		Sender:      "grefa@just.ro",
		Subject:     "Comunicare",
		Attachments: []string{"Dosar nr. 01234/62/2024 - citatie"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StateClassified, d.State)
	assert.Equal(t, []string{"case-c"}, d.CaseIDs)
}

func TestCaseMatchUsesDomain(t *testing.T) {
	d, err := newRouter().Classify(context.Background(), Input{Sender: "ana@clientdomain.ro", Subject: "Factura"})
	require.NoError(t, err)
	assert.Equal(t, model.StateClassified, d.State)
	assert.Equal(t, []string{"case-c"}, d.CaseIDs)
	assert.Equal(t, model.MatchSender, d.MatchType)
	assert.Equal(t, matcher.ConfidenceCaseDomain, d.Confidence)
	assert.Equal(t, "cl-1", d.ClientID)
}

func TestTieWithinOneClientFallsToClientBucket(t *testing.T) {
	d, err := newRouter().Classify(context.Background(), Input{Sender: "x@beta.ro", Subject: "fuziune"})
	require.NoError(t, err)
	// both beta cases inherit beta.ro at the same confidence
	assert.Equal(t, model.StateClassified, d.State)
	assert.Empty(t, d.CaseIDs)
	assert.Equal(t, "cl-2", d.ClientID)
	assert.Equal(t, "client-bucket", d.Rule)
}

func TestTieAcrossClientsIsUncertain(t *testing.T) {
	d, err := newRouter().Classify(context.Background(), Input{Sender: "x@other.com", Subject: "proiect fuziune"})
	require.NoError(t, err)
	assert.Equal(t, model.StateUncertain, d.State)
	assert.Empty(t, d.CaseIDs)
	assert.Empty(t, d.ClientID)
}

func TestClientOnlyDomain(t *testing.T) {
	d, err := newRouter().Classify(context.Background(), Input{Sender: "boss@gamma.ro", Subject: "salut"})
	require.NoError(t, err)
	// case-g1 declares its own domain, so gamma.ro only identifies the client
	assert.Equal(t, model.StateClassified, d.State)
	assert.Empty(t, d.CaseIDs)
	assert.Equal(t, "cl-3", d.ClientID)
	assert.Equal(t, "client-bucket", d.Rule)
}

func TestCourtSenderRuleOnlyWhenConfigured(t *testing.T) {
	in := Input{Sender: "registratura@just.ro", Subject: "Comunicare"}

	d, err := newRouter().Classify(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, model.StateUncertain, d.State)

	d, err = newRouter("just.ro").Classify(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, model.StateCourtUnassigned, d.State)
	assert.Equal(t, "court-sender", d.Rule)
}

func TestRulesIndividually(t *testing.T) {
	ref := &reference.Match{Normalized: "1234/62/2024", Confidence: 0.95, Source: reference.SourceSubject}
	dir := matcher.Directory{Cases: fixture().Cases, Clients: fixture().Clients}

	assert.NotNil(t, ReferenceMatchRule().Apply(Evidence{Reference: ref, Directory: dir}))
	assert.Nil(t, ReferenceMatchRule().Apply(Evidence{Directory: dir}))

	assert.NotNil(t, ReferenceUnknownRule().Apply(Evidence{Reference: ref}))
	assert.Nil(t, ReferenceUnknownRule().Apply(Evidence{}))

	tie := []matcher.Candidate{
		{CaseID: "a", ClientID: "x", Level: matcher.LevelCase, Confidence: 0.7},
		{CaseID: "b", ClientID: "y", Level: matcher.LevelCase, Confidence: 0.7},
	}
	assert.Nil(t, CaseMatchRule().Apply(Evidence{Candidates: tie}))
	assert.Nil(t, ClientBucketRule().Apply(Evidence{Candidates: tie}))

	unique := append([]matcher.Candidate{{CaseID: "c", ClientID: "x", Level: matcher.LevelCase, Confidence: 0.9}}, tie...)
	d := CaseMatchRule().Apply(Evidence{Candidates: unique})
	require.NotNil(t, d)
	assert.Equal(t, []string{"c"}, d.CaseIDs)

	assert.NotNil(t, UnknownSenderRule().Apply(Evidence{}))
}

func TestEveryDecisionHasAState(t *testing.T) {
	r := newRouter("just.ro")
	inputs := []Input{
		{},
		{Sender: "not an address"},
		{Sender: "a@clientdomain.ro", Subject: "dosar nr. 0/0/2024"},
		{Sender: "x@beta.ro", Body: "nr. 5/5/2025"},
	}
	for _, in := range inputs {
		d, err := r.Classify(context.Background(), in)
		require.NoError(t, err)
		assert.True(t, d.State.Valid())
		assert.NotEqual(t, model.StatePending, d.State)
	}
}

type failingDirectory struct{}

func (failingDirectory) ListCases(context.Context) ([]model.Case, error) {
	return nil, errors.New("db down")
}
func (failingDirectory) ListClients(context.Context) ([]model.Client, error) { return nil, nil }

func TestClassifyDirectoryError(t *testing.T) {
	r := NewRouter(failingDirectory{}, matcher.New(nil), DefaultRules(nil))
	_, err := r.Classify(context.Background(), Input{Sender: "a@b.ro"})
	assert.Error(t, err)
}
