package core

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Auth-service failures. Handlers map these to status codes; the login path
// collapses all of its failures into one generic client response so account
// existence cannot be probed.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountInactive    = errors.New("account inactive")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrRoleNotAllowed     = errors.New("role not allowed")
)

// User is the identity view returned to handlers and serialized in responses.
// It never carries the password digest.
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Role      Role      `json:"role"`
	School    string    `json:"school"`
	County    string    `json:"county"`
	Active    bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

func userFromRecord(rec *UserRecord) User {
	return User{
		ID:        rec.ID,
		Email:     rec.Email,
		FirstName: rec.FirstName,
		LastName:  rec.LastName,
		Role:      rec.Role,
		School:    rec.School,
		County:    rec.County,
		Active:    rec.Active,
		CreatedAt: rec.CreatedAt,
	}
}

// RegisterInput is the profile submitted at registration.
type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      Role
	School    string
	County    string
}

// dummyDigest is verified against when a login email is unknown, so the
// response time for "no such account" matches "wrong password". It is a
// syntactically valid bcrypt digest that corresponds to no real credential.
const dummyDigest = "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW"

// AuthService orchestrates registration, login, and token resolution against
// the user store. It holds no mutable state; every call is independent.
type AuthService struct {
	users  UserRepository
	hasher PasswordHasher
	tokens *TokenService
	cache  *IdentityCache // optional, nil disables caching
	log    zerolog.Logger
}

func NewAuthService(users UserRepository, hasher PasswordHasher, tokens *TokenService, cache *IdentityCache, log zerolog.Logger) *AuthService {
	return &AuthService{users: users, hasher: hasher, tokens: tokens, cache: cache, log: log}
}

// Register creates a new active user and issues a token for it.
//
// Role policy: self-registration always yields TEACHER. When actor is a
// verified identity with ADMIN privilege or above, the declared role is
// honored up to the actor's own role; asking for more is ErrRoleNotAllowed.
// Duplicate emails fail with ErrDuplicateEmail and leave the existing user
// untouched.
func (s *AuthService) Register(ctx context.Context, in RegisterInput, actor *User) (User, string, error) {
	role := RoleTeacher
	if in.Role.Valid() && in.Role != RoleTeacher {
		if actor == nil || !actor.Role.AtLeast(RoleAdmin) {
			// Silent elevation attempts by anonymous callers are clamped,
			// not rejected, matching self-service signup expectations.
			role = RoleTeacher
		} else if !actor.Role.AtLeast(in.Role) {
			return User{}, "", ErrRoleNotAllowed
		} else {
			role = in.Role
		}
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return User{}, "", err
	}

	rec, err := s.users.Create(ctx, CreateUserParams{
		Email:          in.Email,
		PasswordDigest: digest,
		FirstName:      in.FirstName,
		LastName:       in.LastName,
		Role:           role,
		School:         in.School,
		County:         in.County,
	})
	if err != nil {
		return User{}, "", err
	}

	token, err := s.tokens.Issue(rec.ID.String(), rec.Role)
	if err != nil {
		return User{}, "", err
	}

	s.log.Info().Str("email", rec.Email).Str("role", rec.Role.String()).Msg("user registered")
	return userFromRecord(rec), token, nil
}

// Login verifies credentials and issues a token carrying the identity's
// current role. Unknown email, wrong password, and inactive account are all
// reported to callers as ErrInvalidCredentials or ErrAccountInactive, both of
// which the HTTP layer renders identically.
func (s *AuthService) Login(ctx context.Context, email, password string) (User, string, error) {
	rec, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Burn a comparison so timing does not reveal whether the
			// account exists.
			_, _ = s.hasher.Verify(password, dummyDigest)
			return User{}, "", ErrInvalidCredentials
		}
		return User{}, "", err
	}

	ok, err := s.hasher.Verify(password, rec.PasswordDigest)
	if err != nil {
		// Corrupt digest: store data is damaged. Log loudly, fail the login.
		s.log.Error().Str("email", rec.Email).Err(err).Msg("stored password digest unusable")
		return User{}, "", err
	}
	if !ok {
		s.log.Warn().Str("email", rec.Email).Msg("failed login attempt")
		return User{}, "", ErrInvalidCredentials
	}
	if !rec.Active {
		s.log.Warn().Str("email", rec.Email).Msg("login attempt on inactive account")
		return User{}, "", ErrAccountInactive
	}

	token, err := s.tokens.Issue(rec.ID.String(), rec.Role)
	if err != nil {
		return User{}, "", err
	}
	return userFromRecord(rec), token, nil
}

// ResolveFromToken verifies a bearer token and re-fetches the identity it
// names, so role or status changes made after issuance are observed on the
// next request. A structurally valid token whose subject no longer exists or
// is inactive fails with ErrUnauthenticated.
func (s *AuthService) ResolveFromToken(ctx context.Context, token string) (User, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return User{}, err
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return User{}, ErrTokenMalformed
	}

	rec, err := s.lookup(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return User{}, ErrUnauthenticated
		}
		return User{}, err
	}
	if !rec.Active {
		return User{}, ErrUnauthenticated
	}
	return userFromRecord(rec), nil
}

// lookup fetches an identity by id, going through the short-TTL cache when
// one is configured.
func (s *AuthService) lookup(ctx context.Context, id uuid.UUID) (*UserRecord, error) {
	if s.cache == nil {
		return s.users.FindByID(ctx, id)
	}
	if rec, ok := s.cache.Get(ctx, id); ok {
		return rec, nil
	}
	rec, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Put(ctx, rec)
	return rec, nil
}
