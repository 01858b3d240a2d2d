package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/formvault/formvault/internal/domain/model"
	"github.com/formvault/formvault/internal/domain/port/driven"
)

// CredentialBroker is the slice of the coordinator the page agent talks to.
type CredentialBroker interface {
	App(ctx context.Context, origin string) (*model.AppDescriptor, error)
	GetCredentials(ctx context.Context, origin string) (*model.CredentialLookup, error)
	SaveCredentials(ctx context.Context, origin string, fields model.Fields) error
	UpdatePassword(ctx context.Context, origin, newPassword string) error
	IsVerified(origin string) bool
	MarkVerified(origin string)
	MarkVisited(origin string)
}

// Compile-time interface satisfaction check.
var _ CredentialBroker = (*Coordinator)(nil)

// SuccessPredicate decides whether a page shows that a submitted form took
// effect.
type SuccessPredicate func(app *model.AppDescriptor, page *model.Page) bool

// LoginSucceeded is the default login heuristic: the login form is gone and
// the app's declared success text, when it declares one, is present.
func LoginSucceeded(app *model.AppDescriptor, page *model.Page) bool {
	if _, ok := page.LoginForm(); ok {
		return false
	}
	if app.SuccessText != "" {
		return page.ContainsText(app.SuccessText)
	}
	return true
}

// PasswordChangeSucceeded is the default change heuristic: the declared
// success text when the app names one, absence of the change form otherwise.
func PasswordChangeSucceeded(app *model.AppDescriptor, page *model.Page) bool {
	if app.SuccessText != "" {
		return page.ContainsText(app.SuccessText)
	}
	_, ok := page.PasswordChangeForm()
	return !ok
}

const (
	// changeCaptureGrace is how many page loads a pending password-change
	// capture survives without confirmation before it is abandoned.
	changeCaptureGrace = 2

	defaultPollAttempts = 3
	defaultPollInterval = 500 * time.Millisecond
)

// Agent runs the per-page-load decision tree: resolve a pending password
// change, capture a password-change form, replay or learn at a login form,
// settle a pending learning capture on a quiet page. It holds no state of
// its own; everything that must survive a navigation lives in the marker
// store, written before the step that destroys the page and cleared before
// a credential leaves the agent.
type Agent struct {
	broker   CredentialBroker
	markers  driven.MarkerStore
	browser  driven.Browser
	prompter driven.Prompter

	loginOK  SuccessPredicate
	changeOK SuccessPredicate

	pollAttempts int
	pollInterval time.Duration
}

// NewAgent creates an Agent with the default success heuristics and polling
// bounds.
func NewAgent(broker CredentialBroker, markers driven.MarkerStore, browser driven.Browser, prompter driven.Prompter) *Agent {
	return &Agent{
		broker:       broker,
		markers:      markers,
		browser:      browser,
		prompter:     prompter,
		loginOK:      LoginSucceeded,
		changeOK:     PasswordChangeSucceeded,
		pollAttempts: defaultPollAttempts,
		pollInterval: defaultPollInterval,
	}
}

// SetSuccessPredicates overrides the login and password-change heuristics.
func (a *Agent) SetSuccessPredicates(login, change SuccessPredicate) {
	a.loginOK = login
	a.changeOK = change
}

// SetPolling bounds the success-confirmation poll loop.
func (a *Agent) SetPolling(attempts int, interval time.Duration) {
	a.pollAttempts = attempts
	a.pollInterval = interval
}

// HandlePageLoad runs the decision tree once for a freshly loaded page.
// Pages outside every granted application come back as AgentActionNone.
// NextPage is set when the agent itself submitted a form; the host feeds it
// into the next call, standing in for the browser's navigation.
func (a *Agent) HandlePageLoad(ctx context.Context, page *model.Page) (*model.PageResult, error) {
	app, err := a.broker.App(ctx, page.Origin)
	if errors.Is(err, driven.ErrNotFound) {
		return &model.PageResult{Action: model.AgentActionNone}, nil
	}
	if err != nil {
		return nil, err
	}

	result, err := a.handle(ctx, app, page)
	if err != nil {
		return nil, err
	}
	result.AppID = app.AppID
	return result, nil
}

func (a *Agent) handle(ctx context.Context, app *model.AppDescriptor, page *model.Page) (*model.PageResult, error) {
	// A pending password change resolves before anything else on the page
	// gets a say.
	change, err := a.markers.PasswordChangeCapture(app.Origin)
	if err != nil {
		return nil, fmt.Errorf("read password-change marker: %w", err)
	}
	if change != nil {
		return a.resolvePasswordChange(ctx, app, page, change)
	}

	if form, ok := page.PasswordChangeForm(); ok {
		return a.capturePasswordChange(ctx, app, page, form)
	}

	if form, ok := page.LoginForm(); ok {
		return a.handleLoginForm(ctx, app, page, form)
	}

	return a.settleQuietPage(ctx, app, page)
}

// capturePasswordChange records the newly chosen password and submits the
// change form. The capture is persisted before the submit because the
// navigation that follows destroys this execution context.
func (a *Agent) capturePasswordChange(ctx context.Context, app *model.AppDescriptor, page *model.Page, form model.Form) (*model.PageResult, error) {
	if err := a.clearReplayFlag(app); err != nil {
		return nil, err
	}

	fillable := form.FillableFields()
	names := make([]string, 0, len(fillable))
	for _, f := range fillable {
		names = append(names, f.Name)
	}

	values, err := a.prompter.CollectFields(ctx, app, names)
	if err != nil {
		return nil, err
	}

	// The last password value typed is taken as the new one. A wrong pick
	// is harmless: the sync only fires after the application itself
	// confirms the change succeeded.
	newPassword := ""
	for _, f := range fillable {
		if f.IsPassword() && values[f.Name] != "" {
			newPassword = values[f.Name]
		}
	}
	if newPassword == "" {
		slog.Info("no new password entered, leaving the form alone", "app_id", app.AppID)
		return &model.PageResult{Action: model.AgentActionManual}, nil
	}

	if err := a.markers.PutPasswordChangeCapture(&model.PasswordChangeCapture{
		Origin:      app.Origin,
		NewPassword: newPassword,
		Remaining:   changeCaptureGrace,
		CapturedAt:  time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("persist password-change capture: %w", err)
	}

	next, err := a.browser.Submit(ctx, page, &form, values)
	if err != nil {
		// The capture stays; Remaining bounds how long the ambiguity lives.
		return nil, err
	}
	a.broker.MarkVisited(app.Origin)
	slog.Info("password change captured", "app_id", app.AppID)
	return &model.PageResult{Action: model.AgentActionPasswordCaptured, NextPage: next}, nil
}

// resolvePasswordChange checks whether a submitted change took effect and
// syncs the captured password when it did. Confirmation may lag the
// redirect, so the page is re-fetched a bounded number of times before the
// load counts against the capture's grace.
func (a *Agent) resolvePasswordChange(ctx context.Context, app *model.AppDescriptor, page *model.Page, capture *model.PasswordChangeCapture) (*model.PageResult, error) {
	if a.changeOK(app, page) {
		return a.syncPassword(ctx, app, capture)
	}

	if _, stillThere := page.PasswordChangeForm(); !stillThere {
		for attempt := 0; attempt < a.pollAttempts; attempt++ {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(a.pollInterval):
			}
			refreshed, err := a.browser.Fetch(ctx, page.URL)
			if err != nil {
				return nil, err
			}
			if a.changeOK(app, refreshed) {
				return a.syncPassword(ctx, app, capture)
			}
		}
	}

	capture.Remaining--
	if capture.Remaining <= 0 {
		if err := a.markers.ClearPasswordChangeCapture(app.Origin); err != nil {
			return nil, fmt.Errorf("clear password-change capture: %w", err)
		}
		slog.Warn("password change never confirmed, capture dropped", "app_id", app.AppID)
		return &model.PageResult{Action: model.AgentActionDiscarded}, nil
	}
	if err := a.markers.PutPasswordChangeCapture(capture); err != nil {
		return nil, fmt.Errorf("persist password-change capture: %w", err)
	}
	return &model.PageResult{Action: model.AgentActionNone}, nil
}

// syncPassword pushes a confirmed password change upstream. The marker is
// cleared before the credential leaves the agent: a crash between the two
// can lose a capture but never replay one.
func (a *Agent) syncPassword(ctx context.Context, app *model.AppDescriptor, capture *model.PasswordChangeCapture) (*model.PageResult, error) {
	learning, err := a.markers.LearningCapture(app.Origin)
	if err != nil {
		return nil, fmt.Errorf("read learning marker: %w", err)
	}

	if err := a.markers.ClearPasswordChangeCapture(app.Origin); err != nil {
		return nil, fmt.Errorf("clear password-change capture: %w", err)
	}

	if learning != nil {
		// The first login forced a rotation before the learned fields were
		// ever saved. Save the whole record with the rotated password
		// rather than updating one that does not exist yet.
		if err := a.markers.ClearLearningCapture(app.Origin); err != nil {
			return nil, fmt.Errorf("clear learning capture: %w", err)
		}
		merged := learning.Fields.Clone()
		merged[model.FieldPassword] = capture.NewPassword

		ok, err := a.prompter.ConfirmSave(ctx, app, merged)
		if err != nil {
			return nil, err
		}
		if !ok {
			slog.Info("rotated capture discarded by user", "app_id", app.AppID)
			return &model.PageResult{Action: model.AgentActionDiscarded}, nil
		}
		if err := a.broker.SaveCredentials(ctx, app.Origin, merged); err != nil {
			return nil, err
		}
		slog.Info("learned credentials saved with rotated password", "app_id", app.AppID)
		return &model.PageResult{Action: model.AgentActionSaved}, nil
	}

	if err := a.broker.UpdatePassword(ctx, app.Origin, capture.NewPassword); err != nil {
		if errors.Is(err, driven.ErrNotFound) {
			slog.Warn("password changed but nothing stored to update", "app_id", app.AppID)
			return &model.PageResult{Action: model.AgentActionDiscarded}, nil
		}
		return nil, err
	}
	slog.Info("password change synced", "app_id", app.AppID)
	return &model.PageResult{Action: model.AgentActionPasswordSynced}, nil
}

// handleLoginForm is the replay/learn fork, guarded by the failure markers
// of whatever the previous load submitted.
func (a *Agent) handleLoginForm(ctx context.Context, app *model.AppDescriptor, page *model.Page, form model.Form) (*model.PageResult, error) {
	// A login form with a capture still pending means the learned
	// submission bounced. Drop it unsaved.
	learning, err := a.markers.LearningCapture(app.Origin)
	if err != nil {
		return nil, fmt.Errorf("read learning marker: %w", err)
	}
	if learning != nil {
		if err := a.markers.ClearLearningCapture(app.Origin); err != nil {
			return nil, fmt.Errorf("clear learning capture: %w", err)
		}
		slog.Info("learned submission bounced, capture dropped", "app_id", app.AppID)
		return &model.PageResult{Action: model.AgentActionDiscarded}, nil
	}

	// A login form with the replay flag still set means the silent replay
	// failed. Ask instead of retrying.
	attempt, err := a.markers.AutoLoginAttempt(app.Origin)
	if err != nil {
		return nil, fmt.Errorf("read replay flag: %w", err)
	}
	if attempt != nil {
		return a.recoverFailedReplay(ctx, app, page, form)
	}

	// Local presence check before the first fill for this application.
	if !a.broker.IsVerified(app.Origin) {
		ok, err := a.prompter.ConfirmPresence(ctx, app)
		if err != nil {
			return nil, err
		}
		if !ok {
			return &model.PageResult{Action: model.AgentActionManual}, nil
		}
		a.broker.MarkVerified(app.Origin)
	}

	lookup, err := a.broker.GetCredentials(ctx, app.Origin)
	if err != nil {
		return nil, err
	}
	if !lookup.Found {
		return a.learn(ctx, app, page, form)
	}
	return a.replay(ctx, app, page, form, lookup.Fields)
}

// recoverFailedReplay surfaces the retry/manual/relearn choice after a
// replay bounced back to the login form.
func (a *Agent) recoverFailedReplay(ctx context.Context, app *model.AppDescriptor, page *model.Page, form model.Form) (*model.PageResult, error) {
	choice, err := a.prompter.ChooseRecovery(ctx, app)
	if err != nil {
		// The flag stays set so the next load lands back here rather than
		// in another silent replay.
		slog.Warn("recovery prompt failed", "app_id", app.AppID, "error", err)
		return &model.PageResult{Action: model.AgentActionDecisionRequired}, nil
	}

	if err := a.markers.ClearAutoLoginAttempt(app.Origin); err != nil {
		return nil, fmt.Errorf("clear replay flag: %w", err)
	}

	switch choice {
	case model.RecoveryRetry:
		lookup, err := a.broker.GetCredentials(ctx, app.Origin)
		if err != nil {
			return nil, err
		}
		if !lookup.Found {
			return a.learn(ctx, app, page, form)
		}
		return a.replay(ctx, app, page, form, lookup.Fields)
	case model.RecoveryRelearn:
		return a.learn(ctx, app, page, form)
	default:
		return &model.PageResult{Action: model.AgentActionManual}, nil
	}
}

// replay fills the schema-declared fields from the stored record and
// submits. The flag goes down first: if the next load still shows a login
// form, the agent knows this replay already happened and must not fire
// another.
func (a *Agent) replay(ctx context.Context, app *model.AppDescriptor, page *model.Page, form model.Form, fields model.Fields) (*model.PageResult, error) {
	values := make(model.Fields, len(app.LoginSchema))
	for _, sf := range app.LoginSchema {
		field, ok := form.FieldByLocator(sf.Locator)
		if !ok || field.Name == "" {
			slog.Warn("schema locator missing from the form", "app_id", app.AppID, "field", sf.Name)
			return &model.PageResult{Action: model.AgentActionManual}, nil
		}
		value, ok := fields[sf.Name]
		if !ok {
			if sf.Kind == model.FieldKindHidden {
				// The form's own value rides along on submit.
				continue
			}
			// Never fill a form partially; a half-filled login risks a
			// lockout.
			slog.Warn("stored record is missing a schema field", "app_id", app.AppID, "field", sf.Name)
			return &model.PageResult{Action: model.AgentActionManual}, nil
		}
		values[field.Name] = value
	}

	if err := a.markers.PutAutoLoginAttempt(&model.AutoLoginAttempt{
		Origin:      app.Origin,
		AttemptedAt: time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("persist replay flag: %w", err)
	}

	next, err := a.browser.Submit(ctx, page, &form, values)
	if err != nil {
		return nil, err
	}
	a.broker.MarkVisited(app.Origin)
	slog.Info("credentials replayed", "app_id", app.AppID)
	return &model.PageResult{Action: model.AgentActionReplayed, NextPage: next}, nil
}

// learn captures user-entered values for every schema field and submits the
// form. The capture is persisted before the submit; it becomes a stored
// record only after the next load confirms the login worked and the user
// consents.
func (a *Agent) learn(ctx context.Context, app *model.AppDescriptor, page *model.Page, form model.Form) (*model.PageResult, error) {
	type resolvedField struct {
		schema model.SchemaField
		field  model.FormField
	}
	resolved := make([]resolvedField, 0, len(app.LoginSchema))
	var visible []string
	for _, sf := range app.LoginSchema {
		field, ok := form.FieldByLocator(sf.Locator)
		if !ok || (sf.Kind != model.FieldKindHidden && field.Name == "") {
			slog.Warn("schema locator missing from the form", "app_id", app.AppID, "field", sf.Name)
			return &model.PageResult{Action: model.AgentActionManual}, nil
		}
		resolved = append(resolved, resolvedField{schema: sf, field: field})
		if sf.Kind != model.FieldKindHidden {
			visible = append(visible, sf.Name)
		}
	}

	entered, err := a.prompter.CollectFields(ctx, app, visible)
	if err != nil {
		return nil, err
	}

	captured := make(model.Fields, len(resolved))
	values := make(model.Fields, len(resolved))
	for _, r := range resolved {
		if r.schema.Kind == model.FieldKindHidden {
			// Snapshot the form's own value into the record; the submit
			// carries it untouched.
			captured[r.schema.Name] = r.field.Value
			continue
		}
		captured[r.schema.Name] = entered[r.schema.Name]
		values[r.field.Name] = entered[r.schema.Name]
	}

	if captured[model.FieldPassword] == "" {
		slog.Info("no password entered, leaving the form alone", "app_id", app.AppID)
		return &model.PageResult{Action: model.AgentActionManual}, nil
	}

	if err := a.markers.PutLearningCapture(&model.LearningCapture{
		Origin:     app.Origin,
		Fields:     captured,
		CapturedAt: time.Now().UTC(),
	}); err != nil {
		return nil, fmt.Errorf("persist learning capture: %w", err)
	}

	next, err := a.browser.Submit(ctx, page, &form, values)
	if err != nil {
		// The capture stays; a login form on the next load discards it.
		return nil, err
	}
	a.broker.MarkVisited(app.Origin)
	slog.Info("learning capture submitted", "app_id", app.AppID, "fields", len(captured))
	return &model.PageResult{Action: model.AgentActionLearning, NextPage: next}, nil
}

// settleQuietPage resolves what the previous load submitted: a page without
// a login form confirms a replay and, with the user's consent, turns a
// learning capture into a stored record.
func (a *Agent) settleQuietPage(ctx context.Context, app *model.AppDescriptor, page *model.Page) (*model.PageResult, error) {
	if err := a.clearReplayFlag(app); err != nil {
		return nil, err
	}

	learning, err := a.markers.LearningCapture(app.Origin)
	if err != nil {
		return nil, fmt.Errorf("read learning marker: %w", err)
	}
	if learning == nil {
		return &model.PageResult{Action: model.AgentActionNone}, nil
	}
	if !a.loginOK(app, page) {
		// Declared success text not visible yet; the capture stays pending.
		return &model.PageResult{Action: model.AgentActionNone}, nil
	}

	ok, err := a.prompter.ConfirmSave(ctx, app, learning.Fields)
	if err != nil {
		return nil, err
	}
	if err := a.markers.ClearLearningCapture(app.Origin); err != nil {
		return nil, fmt.Errorf("clear learning capture: %w", err)
	}
	if !ok {
		slog.Info("capture discarded by user", "app_id", app.AppID)
		return &model.PageResult{Action: model.AgentActionDiscarded}, nil
	}

	if err := a.broker.SaveCredentials(ctx, app.Origin, learning.Fields); err != nil {
		return nil, err
	}
	slog.Info("learned credentials saved", "app_id", app.AppID)
	return &model.PageResult{Action: model.AgentActionSaved}, nil
}

// clearReplayFlag drops the auto-login marker once a load without a login
// form confirms the replay landed.
func (a *Agent) clearReplayFlag(app *model.AppDescriptor) error {
	attempt, err := a.markers.AutoLoginAttempt(app.Origin)
	if err != nil {
		return fmt.Errorf("read replay flag: %w", err)
	}
	if attempt == nil {
		return nil
	}
	if err := a.markers.ClearAutoLoginAttempt(app.Origin); err != nil {
		return fmt.Errorf("clear replay flag: %w", err)
	}
	return nil
}
