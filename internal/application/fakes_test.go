package application_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/formvault/formvault/internal/domain/model"
	"github.com/formvault/formvault/internal/domain/port/driven"
)

// --- In-memory fakes for the identity-side driven ports ---

type fakeIdentityStore struct {
	nextID int64
	byID   map[int64]model.Identity
	err    error
}

func newFakeIdentityStore() *fakeIdentityStore {
	return &fakeIdentityStore{byID: make(map[int64]model.Identity)}
}

func (f *fakeIdentityStore) Create(_ context.Context, ident model.Identity) (model.Identity, error) {
	if f.err != nil {
		return model.Identity{}, f.err
	}
	for _, existing := range f.byID {
		if existing.Username == ident.Username {
			return model.Identity{}, driven.ErrConflict
		}
	}
	f.nextID++
	ident.ID = f.nextID
	ident.CreatedAt = time.Now().UTC()
	f.byID[ident.ID] = ident
	return ident, nil
}

func (f *fakeIdentityStore) GetByUsername(_ context.Context, username string) (*model.Identity, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, ident := range f.byID {
		if ident.Username == username {
			found := ident
			return &found, nil
		}
	}
	return nil, driven.ErrNotFound
}

func (f *fakeIdentityStore) GetByID(_ context.Context, id int64) (*model.Identity, error) {
	if f.err != nil {
		return nil, f.err
	}
	ident, ok := f.byID[id]
	if !ok {
		return nil, driven.ErrNotFound
	}
	return &ident, nil
}

func (f *fakeIdentityStore) Delete(_ context.Context, id int64) error {
	if f.err != nil {
		return f.err
	}
	if _, ok := f.byID[id]; !ok {
		return driven.ErrNotFound
	}
	delete(f.byID, id)
	return nil
}

type fakeGrantStore struct {
	grants map[int64][]string
	err    error
}

func newFakeGrantStore() *fakeGrantStore {
	return &fakeGrantStore{grants: make(map[int64][]string)}
}

func (f *fakeGrantStore) Add(_ context.Context, identityID int64, appID string) error {
	if f.err != nil {
		return f.err
	}
	for _, id := range f.grants[identityID] {
		if id == appID {
			return nil
		}
	}
	f.grants[identityID] = append(f.grants[identityID], appID)
	return nil
}

func (f *fakeGrantStore) Has(_ context.Context, identityID int64, appID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	for _, id := range f.grants[identityID] {
		if id == appID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeGrantStore) ListAppIDs(_ context.Context, identityID int64) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.grants[identityID], nil
}

func (f *fakeGrantStore) DeleteByIdentity(_ context.Context, identityID int64) error {
	if f.err != nil {
		return f.err
	}
	delete(f.grants, identityID)
	return nil
}

type fakeSessionStore struct {
	sessions map[string]model.Session
	err      error
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]model.Session)}
}

func (f *fakeSessionStore) Create(_ context.Context, s model.Session) error {
	if f.err != nil {
		return f.err
	}
	f.sessions[s.Token] = s
	return nil
}

func (f *fakeSessionStore) Get(_ context.Context, token string) (*model.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	s, ok := f.sessions[token]
	if !ok {
		return nil, driven.ErrNotFound
	}
	return &s, nil
}

func (f *fakeSessionStore) Delete(_ context.Context, token string) error {
	if f.err != nil {
		return f.err
	}
	delete(f.sessions, token)
	return nil
}

func (f *fakeSessionStore) DeleteByIdentity(_ context.Context, identityID int64) error {
	if f.err != nil {
		return f.err
	}
	for token, s := range f.sessions {
		if s.IdentityID == identityID {
			delete(f.sessions, token)
		}
	}
	return nil
}

func (f *fakeSessionStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	var n int64
	for token, s := range f.sessions {
		if s.Expired(now) {
			delete(f.sessions, token)
			n++
		}
	}
	return n, nil
}

type fakeTokenStore struct {
	tokens map[string]model.PluginToken
	err    error
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{tokens: make(map[string]model.PluginToken)}
}

func (f *fakeTokenStore) Create(_ context.Context, t model.PluginToken) error {
	if f.err != nil {
		return f.err
	}
	f.tokens[t.Token] = t
	return nil
}

func (f *fakeTokenStore) Get(_ context.Context, token string) (*model.PluginToken, error) {
	if f.err != nil {
		return nil, f.err
	}
	t, ok := f.tokens[token]
	if !ok {
		return nil, driven.ErrNotFound
	}
	return &t, nil
}

func (f *fakeTokenStore) DeleteByIdentity(_ context.Context, identityID int64) error {
	if f.err != nil {
		return f.err
	}
	for token, t := range f.tokens {
		if t.IdentityID == identityID {
			delete(f.tokens, token)
		}
	}
	return nil
}

func (f *fakeTokenStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	var n int64
	for token, t := range f.tokens {
		if t.Expired(now) {
			delete(f.tokens, token)
			n++
		}
	}
	return n, nil
}

type fakeRegistry struct {
	apps []model.AppDescriptor
}

func (f *fakeRegistry) ByAppID(appID string) (*model.AppDescriptor, bool) {
	for i := range f.apps {
		if f.apps[i].AppID == appID {
			return &f.apps[i], true
		}
	}
	return nil, false
}

func (f *fakeRegistry) ByOrigin(origin string) (*model.AppDescriptor, bool) {
	for i := range f.apps {
		if f.apps[i].Origin == origin {
			return &f.apps[i], true
		}
	}
	return nil, false
}

func (f *fakeRegistry) List() []model.AppDescriptor {
	return f.apps
}

func (f *fakeRegistry) ETag() string { return `"fake"` }

type fakeVaultClient struct {
	records        map[string]model.Fields
	err            error
	deleteAllCalls int
}

func newFakeVaultClient() *fakeVaultClient {
	return &fakeVaultClient{records: make(map[string]model.Fields)}
}

func vaultKey(vaultID, appID string) string { return vaultID + "/" + appID }

func (f *fakeVaultClient) Read(_ context.Context, vaultID, appID string) (model.Fields, error) {
	if f.err != nil {
		return nil, f.err
	}
	fields, ok := f.records[vaultKey(vaultID, appID)]
	if !ok {
		return nil, driven.ErrNotFound
	}
	return fields, nil
}

func (f *fakeVaultClient) Write(_ context.Context, vaultID, appID string, fields model.Fields) error {
	if f.err != nil {
		return f.err
	}
	f.records[vaultKey(vaultID, appID)] = fields
	return nil
}

func (f *fakeVaultClient) UpdatePassword(_ context.Context, vaultID, appID, newPassword string) error {
	if f.err != nil {
		return f.err
	}
	fields, ok := f.records[vaultKey(vaultID, appID)]
	if !ok {
		return driven.ErrNotFound
	}
	fields["password"] = newPassword
	return nil
}

func (f *fakeVaultClient) Delete(_ context.Context, vaultID, appID string) error {
	if f.err != nil {
		return f.err
	}
	if _, ok := f.records[vaultKey(vaultID, appID)]; !ok {
		return driven.ErrNotFound
	}
	delete(f.records, vaultKey(vaultID, appID))
	return nil
}

func (f *fakeVaultClient) DeleteAll(_ context.Context, vaultID string) (int64, error) {
	f.deleteAllCalls++
	if f.err != nil {
		return 0, f.err
	}
	var n int64
	for key := range f.records {
		if len(key) > len(vaultID) && key[:len(vaultID)+1] == vaultID+"/" {
			delete(f.records, key)
			n++
		}
	}
	return n, nil
}

func (f *fakeVaultClient) Health(_ context.Context) error {
	return f.err
}

// --- In-memory fakes for the agent-side driven ports ---

type fakeIdentityClient struct {
	status    model.SessionStatus
	statusErr error

	identity     string
	apps         []model.AppDescriptor
	tokenTTL     time.Duration
	bootstrapErr error
	appsErr      error

	records   map[string]model.Fields
	fetchErr  error
	saveErr   error
	updateErr error

	revoked map[string]bool

	bootstraps  int
	statusCalls int
}

func newFakeIdentityClient(identity string, apps []model.AppDescriptor) *fakeIdentityClient {
	return &fakeIdentityClient{
		status:   model.SessionStatus{Authenticated: true, Username: identity},
		identity: identity,
		apps:     apps,
		tokenTTL: time.Hour,
		records:  make(map[string]model.Fields),
		revoked:  make(map[string]bool),
	}
}

// switchTo simulates a different user logging in on the shared workstation.
func (f *fakeIdentityClient) switchTo(username string) {
	f.identity = username
	f.status = model.SessionStatus{Authenticated: true, Username: username}
}

func (f *fakeIdentityClient) SessionStatus(context.Context) (*model.SessionStatus, error) {
	f.statusCalls++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	status := f.status
	return &status, nil
}

func (f *fakeIdentityClient) Bootstrap(context.Context) (*model.PluginBootstrap, error) {
	if f.bootstrapErr != nil {
		return nil, f.bootstrapErr
	}
	f.bootstraps++
	return &model.PluginBootstrap{
		Identity:  f.identity,
		Token:     fmt.Sprintf("token-%d", f.bootstraps),
		ExpiresAt: time.Now().Add(f.tokenTTL),
	}, nil
}

func (f *fakeIdentityClient) Apps(_ context.Context, token string) ([]model.AppDescriptor, error) {
	if f.appsErr != nil {
		return nil, f.appsErr
	}
	if f.revoked[token] {
		return nil, driven.ErrUnauthorized
	}
	return f.apps, nil
}

func (f *fakeIdentityClient) FetchCredentials(_ context.Context, token, appID string) (*model.CredentialLookup, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if f.revoked[token] {
		return nil, driven.ErrUnauthorized
	}
	fields, ok := f.records[appID]
	if !ok {
		return &model.CredentialLookup{Found: false}, nil
	}
	return &model.CredentialLookup{Found: true, Fields: fields.Clone()}, nil
}

func (f *fakeIdentityClient) SaveCredentials(_ context.Context, token, appID string, fields model.Fields) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	if f.revoked[token] {
		return driven.ErrUnauthorized
	}
	f.records[appID] = fields.Clone()
	return nil
}

func (f *fakeIdentityClient) UpdatePassword(_ context.Context, token, appID, newPassword string) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	if f.revoked[token] {
		return driven.ErrUnauthorized
	}
	fields, ok := f.records[appID]
	if !ok {
		return driven.ErrNotFound
	}
	fields[model.FieldPassword] = newPassword
	return nil
}

type fakeMarkerStore struct {
	owner    string
	learning map[string]*model.LearningCapture
	changes  map[string]*model.PasswordChangeCapture
	attempts map[string]*model.AutoLoginAttempt
	err      error
	resets   int
}

func newFakeMarkerStore() *fakeMarkerStore {
	return &fakeMarkerStore{
		learning: make(map[string]*model.LearningCapture),
		changes:  make(map[string]*model.PasswordChangeCapture),
		attempts: make(map[string]*model.AutoLoginAttempt),
	}
}

func (f *fakeMarkerStore) LearningCapture(origin string) (*model.LearningCapture, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.learning[origin], nil
}

func (f *fakeMarkerStore) PutLearningCapture(c *model.LearningCapture) error {
	if f.err != nil {
		return f.err
	}
	f.learning[c.Origin] = c
	return nil
}

func (f *fakeMarkerStore) ClearLearningCapture(origin string) error {
	if f.err != nil {
		return f.err
	}
	delete(f.learning, origin)
	return nil
}

func (f *fakeMarkerStore) PasswordChangeCapture(origin string) (*model.PasswordChangeCapture, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.changes[origin], nil
}

func (f *fakeMarkerStore) PutPasswordChangeCapture(c *model.PasswordChangeCapture) error {
	if f.err != nil {
		return f.err
	}
	f.changes[c.Origin] = c
	return nil
}

func (f *fakeMarkerStore) ClearPasswordChangeCapture(origin string) error {
	if f.err != nil {
		return f.err
	}
	delete(f.changes, origin)
	return nil
}

func (f *fakeMarkerStore) AutoLoginAttempt(origin string) (*model.AutoLoginAttempt, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.attempts[origin], nil
}

func (f *fakeMarkerStore) PutAutoLoginAttempt(a *model.AutoLoginAttempt) error {
	if f.err != nil {
		return f.err
	}
	f.attempts[a.Origin] = a
	return nil
}

func (f *fakeMarkerStore) ClearAutoLoginAttempt(origin string) error {
	if f.err != nil {
		return f.err
	}
	delete(f.attempts, origin)
	return nil
}

func (f *fakeMarkerStore) Owner() (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.owner, nil
}

func (f *fakeMarkerStore) SetOwner(identity string) error {
	if f.err != nil {
		return f.err
	}
	f.owner = identity
	return nil
}

func (f *fakeMarkerStore) Reset() error {
	if f.err != nil {
		return f.err
	}
	f.resets++
	f.owner = ""
	f.learning = make(map[string]*model.LearningCapture)
	f.changes = make(map[string]*model.PasswordChangeCapture)
	f.attempts = make(map[string]*model.AutoLoginAttempt)
	return nil
}

func (f *fakeMarkerStore) empty() bool {
	return len(f.learning) == 0 && len(f.changes) == 0 && len(f.attempts) == 0
}

type submission struct {
	url    string
	values model.Fields
}

// fakeBrowser is mutex-guarded because cascade logouts run on their own
// goroutine.
type fakeBrowser struct {
	mu        sync.Mutex
	pages     map[string]*model.Page
	nextPage  *model.Page
	fetchErr  error
	submitErr error
	endErr    error
	submitted []submission
	ended     []string
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{pages: make(map[string]*model.Page)}
}

func (f *fakeBrowser) Fetch(_ context.Context, url string) (*model.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	page, ok := f.pages[url]
	if !ok {
		return nil, driven.ErrNotFound
	}
	return page, nil
}

func (f *fakeBrowser) Submit(_ context.Context, page *model.Page, _ *model.Form, values model.Fields) (*model.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted = append(f.submitted, submission{url: page.URL, values: values.Clone()})
	return f.nextPage, nil
}

func (f *fakeBrowser) EndSession(_ context.Context, app *model.AppDescriptor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.endErr != nil {
		return f.endErr
	}
	f.ended = append(f.ended, app.AppID)
	return nil
}

func (f *fakeBrowser) endedApps() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ended...)
}

func (f *fakeBrowser) submissions() []submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]submission(nil), f.submitted...)
}

type fakePrompter struct {
	presence    bool
	presenceErr error
	save        bool
	saveErr     error
	recovery    model.RecoveryChoice
	recoveryErr error

	// collectQueue feeds CollectFields call by call; collected is the
	// fallback once the queue drains.
	collected    model.Fields
	collectQueue []model.Fields
	collectErr   error

	presenceCalls int
	saveCalls     []model.Fields
	recoveryCalls int
	collectCalls  [][]string
}

func (f *fakePrompter) ConfirmPresence(_ context.Context, _ *model.AppDescriptor) (bool, error) {
	f.presenceCalls++
	if f.presenceErr != nil {
		return false, f.presenceErr
	}
	return f.presence, nil
}

func (f *fakePrompter) ConfirmSave(_ context.Context, _ *model.AppDescriptor, fields model.Fields) (bool, error) {
	f.saveCalls = append(f.saveCalls, fields.Clone())
	if f.saveErr != nil {
		return false, f.saveErr
	}
	return f.save, nil
}

func (f *fakePrompter) ChooseRecovery(_ context.Context, _ *model.AppDescriptor) (model.RecoveryChoice, error) {
	f.recoveryCalls++
	if f.recoveryErr != nil {
		return "", f.recoveryErr
	}
	return f.recovery, nil
}

func (f *fakePrompter) CollectFields(_ context.Context, _ *model.AppDescriptor, names []string) (model.Fields, error) {
	f.collectCalls = append(f.collectCalls, append([]string(nil), names...))
	if f.collectErr != nil {
		return nil, f.collectErr
	}
	if len(f.collectQueue) > 0 {
		head := f.collectQueue[0]
		f.collectQueue = f.collectQueue[1:]
		return head.Clone(), nil
	}
	return f.collected.Clone(), nil
}
