package core

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// memLevelRepository is an in-memory LevelRepository for tests.
type memLevelRepository struct {
	mu     sync.Mutex
	nextID int64
	levels map[int64]*EducationLevel
}

func newMemLevelRepository() *memLevelRepository {
	return &memLevelRepository{nextID: 1, levels: map[int64]*EducationLevel{}}
}

func (r *memLevelRepository) List(_ context.Context, includeInactive bool) ([]EducationLevel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EducationLevel, 0, len(r.levels))
	for _, l := range r.levels {
		if l.Active || includeInactive {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (r *memLevelRepository) Get(_ context.Context, id int64) (*EducationLevel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.levels[id]
	if !ok {
		return nil, ErrLevelNotFound
	}
	cp := *l
	return &cp, nil
}

func (r *memLevelRepository) Create(_ context.Context, name, nameSwahili, description string, displayOrder int) (*EducationLevel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := &EducationLevel{
		ID: r.nextID, Name: name, NameSwahili: nameSwahili, Description: description,
		DisplayOrder: displayOrder, Active: true, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	r.nextID++
	r.levels[l.ID] = l
	cp := *l
	return &cp, nil
}

func (r *memLevelRepository) Update(_ context.Context, id int64, name, nameSwahili, description string, displayOrder int) (*EducationLevel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.levels[id]
	if !ok {
		return nil, ErrLevelNotFound
	}
	l.Name, l.NameSwahili, l.Description, l.DisplayOrder = name, nameSwahili, description, displayOrder
	l.UpdatedAt = time.Now().UTC()
	cp := *l
	return &cp, nil
}

func (r *memLevelRepository) Deactivate(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.levels[id]
	if !ok {
		return ErrLevelNotFound
	}
	l.Active = false
	return nil
}

type testAPI struct {
	router *gin.Engine
	repo   *memUserRepository
	levels *memLevelRepository
	hasher PasswordHasher
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	repo := newMemUserRepository()
	levels := newMemLevelRepository()
	hasher := NewBcryptHasher(bcrypt.MinCost)
	auth := NewAuthService(repo, hasher, newTestTokenService(t, "test-secret", time.Hour), nil, zerolog.Nop())

	router := NewRouter(Config{Port: "0"}, RouterDeps{
		Auth:   auth,
		Users:  repo,
		Levels: levels,
		Log:    zerolog.Nop(),
	})
	return &testAPI{router: router, repo: repo, levels: levels, hasher: hasher}
}

// seedUser creates a user directly in the store, bypassing the register
// endpoint's role policy.
func (a *testAPI) seedUser(t *testing.T, email, password string, role Role) *UserRecord {
	t.Helper()
	digest, err := a.hasher.Hash(password)
	require.NoError(t, err)
	rec, err := a.repo.Create(context.Background(), CreateUserParams{
		Email: email, PasswordDigest: digest, FirstName: "Seed", LastName: "User", Role: role,
	})
	require.NoError(t, err)
	return rec
}

func (a *testAPI) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func (a *testAPI) login(t *testing.T, email, password string) string {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": email, "password": password})
	require.Equal(t, http.StatusOK, w.Code)
	var payload struct {
		Token string `json:"token"`
	}
	env := decodeEnvelope(t, w)
	require.True(t, env.Success)
	require.NoError(t, json.Unmarshal(env.Data, &payload))
	require.NotEmpty(t, payload.Token)
	return payload.Token
}

func TestAPI_RegisterLoginProfile(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t)

	w := api.do(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"email": "t@x.com", "password": "secret123",
		"firstName": "Tabitha", "lastName": "Njeri",
		"role": "TEACHER", "school": "Hilltop Primary", "county": "Nakuru",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	env := decodeEnvelope(t, w)
	require.True(t, env.Success)
	var registered struct {
		Email string `json:"email"`
		Role  Role   `json:"role"`
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &registered))
	assert.Equal(t, "t@x.com", registered.Email)
	assert.Equal(t, RoleTeacher, registered.Role)
	assert.NotEmpty(t, registered.Token)

	token := api.login(t, "t@x.com", "secret123")

	w = api.do(t, http.MethodGet, "/api/v1/auth/profile", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	env = decodeEnvelope(t, w)
	var profile struct {
		Email string `json:"email"`
		Role  Role   `json:"role"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &profile))
	assert.Equal(t, "t@x.com", profile.Email)
	assert.Equal(t, RoleTeacher, profile.Role)
}

func TestAPI_ProfileTokenFailures(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t)

	// Present but invalid credential: 403.
	w := api.do(t, http.MethodGet, "/api/v1/auth/profile", "invalid-token", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.False(t, decodeEnvelope(t, w).Success)

	// No credential at all: 401.
	w = api.do(t, http.MethodGet, "/api/v1/auth/profile", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "MISSING_TOKEN", decodeEnvelope(t, w).Error)

	// Expired token: 403.
	expiredSvc := &TokenService{secret: []byte("test-secret"), ttl: -time.Minute}
	user := api.seedUser(t, "expired@x.com", "secret123", RoleTeacher)
	expired, err := expiredSvc.Issue(user.ID.String(), RoleTeacher)
	require.NoError(t, err)
	w = api.do(t, http.MethodGet, "/api/v1/auth/profile", expired, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "TOKEN_EXPIRED", decodeEnvelope(t, w).Error)
}

func TestAPI_DuplicateRegistration(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t)

	body := gin.H{
		"email": "dup@x.com", "password": "secret123",
		"firstName": "D", "lastName": "U",
	}
	w := api.do(t, http.MethodPost, "/api/v1/auth/register", "", body)
	require.Equal(t, http.StatusCreated, w.Code)

	w = api.do(t, http.MethodPost, "/api/v1/auth/register", "", body)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "DUPLICATE_EMAIL", decodeEnvelope(t, w).Error)

	// The first registration still works.
	api.login(t, "dup@x.com", "secret123")
}

func TestAPI_AdminEndpointRoleGate(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t)

	api.seedUser(t, "teacher@x.com", "secret123", RoleTeacher)
	api.seedUser(t, "admin@x.com", "secret123", RoleAdmin)

	teacherToken := api.login(t, "teacher@x.com", "secret123")
	adminToken := api.login(t, "admin@x.com", "secret123")

	w := api.do(t, http.MethodGet, "/api/v1/users", teacherToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", decodeEnvelope(t, w).Error)

	w = api.do(t, http.MethodGet, "/api/v1/users", adminToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeEnvelope(t, w).Success)
}

func TestAPI_RegisterRoleClampAndAdminGrant(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t)

	// Anonymous self-registration declaring ADMIN is clamped to TEACHER.
	w := api.do(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"email": "wannabe@x.com", "password": "secret123",
		"firstName": "W", "lastName": "B", "role": "ADMIN",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Role Role `json:"role"`
	}
	env := decodeEnvelope(t, w)
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, RoleTeacher, created.Role)

	// The same declaration backed by an admin token is honored.
	api.seedUser(t, "admin@x.com", "secret123", RoleAdmin)
	adminToken := api.login(t, "admin@x.com", "secret123")
	w = api.do(t, http.MethodPost, "/api/v1/auth/register", adminToken, gin.H{
		"email": "second-admin@x.com", "password": "secret123",
		"firstName": "S", "lastName": "A", "role": "ADMIN",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	env = decodeEnvelope(t, w)
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, RoleAdmin, created.Role)

	// An admin may not grant SUPER_ADMIN.
	w = api.do(t, http.MethodPost, "/api/v1/auth/register", adminToken, gin.H{
		"email": "giant@x.com", "password": "secret123",
		"firstName": "G", "lastName": "T", "role": "SUPER_ADMIN",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestAPI_RoleUpdateBySuperAdmin(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t)

	teacher := api.seedUser(t, "teacher@x.com", "secret123", RoleTeacher)
	api.seedUser(t, "root@x.com", "secret123", RoleSuperAdmin)
	api.seedUser(t, "admin@x.com", "secret123", RoleAdmin)

	teacherToken := api.login(t, "teacher@x.com", "secret123")
	superToken := api.login(t, "root@x.com", "secret123")
	adminToken := api.login(t, "admin@x.com", "secret123")

	// Only SUPER_ADMIN may change roles.
	w := api.do(t, http.MethodPut, "/api/v1/users/"+teacher.ID.String()+"/role", adminToken, gin.H{"role": "ADMIN"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(t, http.MethodPut, "/api/v1/users/"+teacher.ID.String()+"/role", superToken, gin.H{"role": "ADMIN"})
	require.Equal(t, http.StatusOK, w.Code)

	// The change is visible to the existing token on its next request.
	w = api.do(t, http.MethodGet, "/api/v1/auth/profile", teacherToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var profile struct {
		Role Role `json:"role"`
	}
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &profile))
	assert.Equal(t, RoleAdmin, profile.Role)

	// Unknown role values are rejected at the boundary.
	w = api.do(t, http.MethodPut, "/api/v1/users/"+teacher.ID.String()+"/role", superToken, gin.H{"role": "root"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_DeactivationLocksOutExistingToken(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t)

	teacher := api.seedUser(t, "teacher@x.com", "secret123", RoleTeacher)
	api.seedUser(t, "admin@x.com", "secret123", RoleAdmin)

	teacherToken := api.login(t, "teacher@x.com", "secret123")
	adminToken := api.login(t, "admin@x.com", "secret123")

	w := api.do(t, http.MethodPut, "/api/v1/users/"+teacher.ID.String()+"/active", adminToken, gin.H{"is_active": false})
	require.Equal(t, http.StatusOK, w.Code)

	w = api.do(t, http.MethodGet, "/api/v1/auth/profile", teacherToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "UNAUTHENTICATED", decodeEnvelope(t, w).Error)

	// And the account can no longer log in.
	w = api.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "teacher@x.com", "password": "secret123"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", decodeEnvelope(t, w).Error)
}

func TestAPI_EducationLevels(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t)

	api.seedUser(t, "teacher@x.com", "secret123", RoleTeacher)
	api.seedUser(t, "admin@x.com", "secret123", RoleAdmin)
	teacherToken := api.login(t, "teacher@x.com", "secret123")
	adminToken := api.login(t, "admin@x.com", "secret123")

	// Listing requires authentication.
	w := api.do(t, http.MethodGet, "/api/v1/education-levels", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Mutations require ADMIN.
	body := gin.H{"name": "Primary", "name_swahili": "Msingi", "display_order": 1}
	w = api.do(t, http.MethodPost, "/api/v1/education-levels", teacherToken, body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(t, http.MethodPost, "/api/v1/education-levels", adminToken, body)
	require.Equal(t, http.StatusCreated, w.Code)
	var level EducationLevel
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &level))
	assert.Equal(t, "Primary", level.Name)

	// Any authenticated role can read.
	w = api.do(t, http.MethodGet, "/api/v1/education-levels", teacherToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var levels []EducationLevel
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &levels))
	require.Len(t, levels, 1)

	// Deactivated levels disappear from the default listing.
	w = api.do(t, http.MethodDelete, "/api/v1/education-levels/1", adminToken, nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	w = api.do(t, http.MethodGet, "/api/v1/education-levels", teacherToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &levels))
	assert.Empty(t, levels)
}

func TestAPI_Healthz(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t)

	w := api.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var st SystemStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, "ok", st.Status)
	assert.Equal(t, Version, st.Version)
}

func TestAPI_LoginValidation(t *testing.T) {
	t.Parallel()
	api := newTestAPI(t)

	w := api.do(t, http.MethodPost, "/api/v1/auth/login", "", gin.H{"email": "t@x.com"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"email": "not-an-email", "password": "secret123", "firstName": "A", "lastName": "B",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"email": "short@x.com", "password": "short", "firstName": "A", "lastName": "B",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code, "passwords under 8 characters are rejected")
}
