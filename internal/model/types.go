package model

// ClassificationState is where an email sits in the triage flow
type ClassificationState string

const (
	StatePending         ClassificationState = "pending"
	StateClassified      ClassificationState = "classified"
	StateUncertain       ClassificationState = "uncertain"        // NECLAR
	StateCourtUnassigned ClassificationState = "court_unassigned" // INSTANȚE
)

// Valid reports whether s is one of the known states
func (s ClassificationState) Valid() bool {
	switch s {
	case StatePending, StateClassified, StateUncertain, StateCourtUnassigned:
		return true
	}
	return false
}

// MatchType records which signal produced an email-case link
type MatchType string

const (
	MatchSender           MatchType = "sender"
	MatchReferenceNumber  MatchType = "reference_number"
	MatchKeyword          MatchType = "keyword"
	MatchSemantic         MatchType = "semantic"
	MatchCourtDomain      MatchType = "court_domain"
	MatchManual           MatchType = "manual"
	MatchThreadContinuity MatchType = "thread_continuity"
	// MatchClientDomain identifies a client, never a case; it does not produce links.
	MatchClientDomain MatchType = "client_domain"
)

// LinkedBySystem marks links created without a human actor
const LinkedBySystem = "system"

// SyncStatus is the lifecycle of a historical sync job
type SyncStatus string

const (
	SyncPending    SyncStatus = "pending"
	SyncInProgress SyncStatus = "in_progress"
	SyncCompleted  SyncStatus = "completed"
	SyncFailed     SyncStatus = "failed"
)

// Terminal reports whether no further transitions happen from s
func (s SyncStatus) Terminal() bool {
	return s == SyncCompleted || s == SyncFailed
}

// DocumentStatus is the lifecycle of a document request
type DocumentStatus string

const (
	DocumentPending  DocumentStatus = "pending"
	DocumentSent     DocumentStatus = "sent"
	DocumentReminded DocumentStatus = "reminded"
	DocumentReceived DocumentStatus = "received"
	DocumentExpired  DocumentStatus = "expired"
)

// Open reports whether the request is still waiting for the document
func (s DocumentStatus) Open() bool {
	return s == DocumentPending || s == DocumentSent || s == DocumentReminded
}
