package model

import "time"

// AgentAction reports what the page agent did with one page load.
type AgentAction string

const (
	// AgentActionNone: nothing on the page concerned the agent.
	AgentActionNone AgentAction = "none"
	// AgentActionReplayed: stored credentials were filled and submitted.
	AgentActionReplayed AgentAction = "replayed"
	// AgentActionLearning: no stored credentials; user-entered values were
	// captured and the form submitted.
	AgentActionLearning AgentAction = "learning"
	// AgentActionSaved: a learning capture was confirmed and saved.
	AgentActionSaved AgentAction = "saved"
	// AgentActionDiscarded: a learning capture failed its success check or
	// the user declined to save it.
	AgentActionDiscarded AgentAction = "discarded"
	// AgentActionPasswordCaptured: a password-change form was submitted and
	// the new password captured pending confirmation.
	AgentActionPasswordCaptured AgentAction = "password-captured"
	// AgentActionPasswordSynced: a captured password change was confirmed and
	// pushed to the vault.
	AgentActionPasswordSynced AgentAction = "password-synced"
	// AgentActionManual: the agent stepped aside for manual entry.
	AgentActionManual AgentAction = "manual"
	// AgentActionDecisionRequired: a silent replay already failed once; the
	// agent stopped and asked for a retry/manual/relearn decision.
	AgentActionDecisionRequired AgentAction = "decision-required"
)

// RecoveryChoice is the user's answer after a failed silent replay.
type RecoveryChoice string

const (
	RecoveryRetry   RecoveryChoice = "retry"
	RecoveryManual  RecoveryChoice = "manual"
	RecoveryRelearn RecoveryChoice = "relearn"
)

// PageResult is the outcome of handling one page load. NextPage is set when
// the agent itself submitted a form; the host feeds it into the next
// HandlePageLoad call, standing in for the browser's navigation.
type PageResult struct {
	Action   AgentAction
	AppID    string
	NextPage *Page
}

// PluginBootstrap is the coordinator's view of a successful bootstrap
// exchange with the identity service.
type PluginBootstrap struct {
	Identity  string
	Token     string
	ExpiresAt time.Time
}

// SessionStatus reports whether the upstream identity session is alive.
type SessionStatus struct {
	Authenticated bool
	Username      string
}

// CredentialLookup is the delegated fetch result: either the stored fields,
// or a clean "nothing stored yet" that routes the agent into learning.
type CredentialLookup struct {
	Found  bool
	Fields Fields
}
