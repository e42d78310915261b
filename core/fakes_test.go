package core

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// memStore is an in-memory UserRepository, RoleRepository and DetailsRepository.
type memStore struct {
	mu      sync.Mutex
	nextID  int64
	users   map[int64]UserRecord
	roles   []Role
	details map[int64]UserDetails

	// credErr, when set, is returned by FindCredential.
	credErr error
}

func newMemStore() *memStore {
	s := &memStore{
		nextID:  1,
		users:   map[int64]UserRecord{},
		details: map[int64]UserDetails{},
	}
	_ = s.EnsureRoles(context.Background(), RoleUser, RoleAdmin)
	return s
}

func (s *memStore) roleNames(ids []int64) []string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		for _, r := range s.roles {
			if r.ID == id {
				names = append(names, r.Name)
			}
		}
	}
	return names
}

func (s *memStore) hasRole(id int64) bool {
	for _, r := range s.roles {
		if r.ID == id {
			return true
		}
	}
	return false
}

func (s *memStore) view(u UserRecord) *UserRecord {
	u.RoleIDs = append([]int64{}, u.RoleIDs...)
	u.Roles = s.roleNames(u.RoleIDs)
	return &u
}

func (s *memStore) usernameTaken(username string, except int64) bool {
	for id, u := range s.users {
		if id != except && u.Username == username {
			return true
		}
	}
	return false
}

func normaliseRoleIDs(ids []int64) []int64 {
	seen := map[int64]bool{}
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *memStore) FindCredential(_ context.Context, username string) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.credErr != nil {
		return nil, s.credErr
	}
	for _, u := range s.users {
		if u.Username == username {
			return &Credential{Username: u.Username, PasswordDigest: u.PasswordHash, Roles: s.roleNames(u.RoleIDs)}, nil
		}
	}
	return nil, ErrCredentialNotFound
}

func (s *memStore) FindByID(_ context.Context, id int64) (*UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return s.view(u), nil
}

func (s *memStore) List(_ context.Context, page, perPage int) ([]UserRecord, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	start := (page - 1) * perPage
	items := []UserRecord{}
	for i := start; i < len(ids) && i < start+perPage; i++ {
		items = append(items, *s.view(s.users[ids[i]]))
	}
	return items, len(ids), nil
}

func (s *memStore) Create(_ context.Context, username, passwordHash string, roleIDs []int64) (*UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usernameTaken(username, 0) {
		return nil, ErrDuplicateUsername
	}
	for _, id := range roleIDs {
		if !s.hasRole(id) {
			return nil, ErrUnknownRole
		}
	}
	u := UserRecord{
		ID:           s.nextID,
		Username:     username,
		PasswordHash: passwordHash,
		RoleIDs:      normaliseRoleIDs(roleIDs),
		CreatedAt:    time.Now().UTC(),
	}
	s.nextID++
	s.users[u.ID] = u
	return s.view(u), nil
}

func (s *memStore) Update(_ context.Context, id int64, upd UserUpdate) (*UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	if s.usernameTaken(upd.Username, id) {
		return nil, ErrDuplicateUsername
	}
	u.Username = upd.Username
	if upd.PasswordHash != nil {
		u.PasswordHash = *upd.PasswordHash
	}
	if upd.RoleIDs != nil {
		for _, rid := range upd.RoleIDs {
			if !s.hasRole(rid) {
				return nil, ErrUnknownRole
			}
		}
		u.RoleIDs = normaliseRoleIDs(upd.RoleIDs)
	}
	s.users[id] = u
	return s.view(u), nil
}

func (s *memStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return ErrUserNotFound
	}
	delete(s.users, id)
	delete(s.details, id)
	return nil
}

func (s *memStore) EnsureRoles(_ context.Context, names ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range names {
		exists := false
		for _, r := range s.roles {
			if r.Name == name {
				exists = true
			}
		}
		if !exists {
			s.roles = append(s.roles, Role{ID: int64(len(s.roles) + 1), Name: name})
		}
	}
	return nil
}

func (s *memStore) FindRoleByName(_ context.Context, name string) (*Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.Name == name {
			r := r
			return &r, nil
		}
	}
	return nil, ErrUnknownRole
}

func (s *memStore) FindRolesByIDs(_ context.Context, ids []int64) ([]Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Role
	for _, r := range s.roles {
		for _, id := range ids {
			if r.ID == id {
				out = append(out, r)
				break
			}
		}
	}
	return out, nil
}

func (s *memStore) GetDetails(_ context.Context, userID int64) (*UserDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.details[userID]
	if !ok {
		return nil, ErrDetailsNotFound
	}
	return &d, nil
}

func (s *memStore) UpsertDetails(_ context.Context, d UserDetails) (*UserDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[d.UserID]; !ok {
		return nil, ErrUserNotFound
	}
	if d.Email != nil {
		for id, other := range s.details {
			if id != d.UserID && other.Email != nil && *other.Email == *d.Email {
				return nil, ErrDuplicateEmail
			}
		}
	}
	if prev, ok := s.details[d.UserID]; ok {
		d.PhotoURL = prev.PhotoURL
	} else {
		d.PhotoURL = nil
	}
	s.details[d.UserID] = d
	return &d, nil
}

func (s *memStore) DeleteDetails(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.details, userID)
	return nil
}

func (s *memStore) SetPhotoURL(_ context.Context, userID int64, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return ErrUserNotFound
	}
	d := s.details[userID]
	d.UserID = userID
	d.PhotoURL = &url
	s.details[userID] = d
	return nil
}

func (s *memStore) ClearPhotoURL(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.details[userID]
	if !ok {
		return ErrDetailsNotFound
	}
	d.PhotoURL = nil
	s.details[userID] = d
	return nil
}

const testSecret = "0123456789abcdef0123456789abcdef"

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		JWTSecret:              testSecret,
		JWTIssuer:              "usermgr-test",
		TokenTTL:               time.Hour,
		BcryptCost:             bcrypt.MinCost,
		BootstrapAdminEnabled:  true,
		BootstrapAdminPassword: "admin",
		PhotoStorage:           "fs",
		PhotoDir:               t.TempDir(),
		PhotoMaxBytes:          1 << 20,
	}
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// testEnv is a router wired to in-memory collaborators with a bootstrapped
// admin/admin account.
type testEnv struct {
	cfg     Config
	store   *memStore
	hasher  *BcryptHasher
	tokens  *TokenCodec
	metrics *Metrics
	router  *gin.Engine
}

func newTestEnv(t *testing.T, customise ...func(*RouterDeps)) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := testConfig(t)
	store := newMemStore()
	hasher := NewBcryptHasher(cfg.BcryptCost)
	tokens, err := NewTokenCodecFromConfig(cfg)
	require.NoError(t, err)
	log := quietLogger()
	require.NoError(t, BootstrapAdmin(context.Background(), store, store, hasher, cfg, log))

	photos, err := NewFSPhotoStore(cfg.PhotoDir)
	require.NoError(t, err)
	metrics := NewMetrics()

	deps := RouterDeps{
		Auth:     NewAuthenticator(store, hasher, tokens),
		Requests: NewRequestAuthenticator(tokens, store, metrics, log),
		Users:    NewUserService(store, store, hasher),
		Details:  NewDetailsService(store, store),
		Photos:   NewPhotoService(store, store, photos),
		Metrics:  metrics,
		Probes:   map[string]Probe{"postgres": func(context.Context) error { return nil }},
		Logger:   log,
	}
	for _, fn := range customise {
		fn(&deps)
	}
	router, err := NewRouter(cfg, deps)
	require.NoError(t, err)

	return &testEnv{
		cfg:     cfg,
		store:   store,
		hasher:  hasher,
		tokens:  tokens,
		metrics: metrics,
		router:  router,
	}
}

func (e *testEnv) do(method, path, token, contentType string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) doJSON(t *testing.T, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}
	return e.do(method, path, token, "application/json", body)
}

func (e *testEnv) login(t *testing.T, username, password string) string {
	t.Helper()
	w := e.doJSON(t, http.MethodPost, "/api/auth/login", "", LoginRequest{Username: username, Password: password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

// addUser stores a ROLE_USER account directly and returns its id.
func (e *testEnv) addUser(t *testing.T, username, password string) int64 {
	t.Helper()
	hash, err := e.hasher.Hash(password)
	require.NoError(t, err)
	role, err := e.store.FindRoleByName(context.Background(), RoleUser)
	require.NoError(t, err)
	u, err := e.store.Create(context.Background(), username, hash, []int64{role.ID})
	require.NoError(t, err)
	return u.ID
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}
