package core

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// authPayload embeds the identity fields next to the issued token so the
// response body carries {...identity, token}.
type authPayload struct {
	User
	Token string `json:"token"`
}

// RouterDeps bundles everything NewRouter wires into handlers.
type RouterDeps struct {
	Auth   *AuthService
	Users  UserRepository
	Levels LevelRepository
	Cache  *IdentityCache
	DB     *pgxpool.Pool
	Redis  *redis.Client
	Log    zerolog.Logger
}

// NewRouter constructs the Gin engine with routes wired.
func NewRouter(cfg Config, deps RouterDeps) *gin.Engine {
	startedAt := time.Now()
	r := gin.Default()

	r.Use(OriginMiddleware(cfg))

	r.GET("/healthz", func(c *gin.Context) {
		st := CollectSystemStatus(c.Request.Context(), deps.DB, deps.Redis, startedAt)
		status := http.StatusOK
		if st.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, st)
	})

	auth := deps.Auth
	api := r.Group("/api/v1")
	{
		api.POST("/auth/register", func(c *gin.Context) {
			var req struct {
				Email     string `json:"email" binding:"required,email"`
				Password  string `json:"password" binding:"required,min=8"`
				FirstName string `json:"firstName" binding:"required"`
				LastName  string `json:"lastName" binding:"required"`
				Role      string `json:"role"`
				School    string `json:"school"`
				County    string `json:"county"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
				return
			}

			role := RoleTeacher
			if req.Role != "" {
				parsed, err := ParseRole(req.Role)
				if err != nil {
					respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "unknown role")
					return
				}
				role = parsed
			}

			// A caller holding a valid elevated token may register users with
			// elevated roles; everyone else self-registers as a teacher.
			actor, ok := optionalIdentity(c, auth)
			if !ok {
				return
			}

			user, token, err := auth.Register(c.Request.Context(), RegisterInput{
				Email:     req.Email,
				Password:  req.Password,
				FirstName: req.FirstName,
				LastName:  req.LastName,
				Role:      role,
				School:    req.School,
				County:    req.County,
			}, actor)
			if err != nil {
				switch {
				case errors.Is(err, ErrDuplicateEmail):
					respondError(c, http.StatusConflict, "DUPLICATE_EMAIL", "email already registered")
				case errors.Is(err, ErrRoleNotAllowed):
					respondError(c, http.StatusForbidden, "FORBIDDEN", "cannot grant a role above your own")
				default:
					respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to register user")
				}
				return
			}

			respondData(c, http.StatusCreated, authPayload{User: user, Token: token})
		})

		api.POST("/auth/login", func(c *gin.Context) {
			var req struct {
				Email    string `json:"email" binding:"required"`
				Password string `json:"password" binding:"required"`
			}
			if err := c.ShouldBindJSON(&req); err != nil {
				respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
				return
			}

			user, token, err := auth.Login(c.Request.Context(), req.Email, req.Password)
			if err != nil {
				// One generic response for unknown email, wrong password, and
				// inactive account; anything else is an internal failure.
				switch {
				case errors.Is(err, ErrInvalidCredentials),
					errors.Is(err, ErrAccountInactive),
					errors.Is(err, ErrUserNotFound):
					respondError(c, http.StatusUnauthorized, "INVALID_CREDENTIALS", "email or password is incorrect")
				default:
					respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to log in")
				}
				return
			}

			respondData(c, http.StatusOK, authPayload{User: user, Token: token})
		})

		protected := api.Group("", RequireAuth(auth))
		{
			protected.GET("/auth/profile", func(c *gin.Context) {
				user, _ := CurrentUser(c)
				respondData(c, http.StatusOK, user)
			})

			protected.GET("/education-levels", func(c *gin.Context) {
				includeInactive := c.Query("include_inactive") == "true"
				items, err := deps.Levels.List(c.Request.Context(), includeInactive)
				if err != nil {
					respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to fetch education levels")
					return
				}
				respondData(c, http.StatusOK, items)
			})

			protected.GET("/education-levels/:id", func(c *gin.Context) {
				id, err := strconv.ParseInt(c.Param("id"), 10, 64)
				if err != nil {
					respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid id")
					return
				}
				level, err := deps.Levels.Get(c.Request.Context(), id)
				if err != nil {
					if errors.Is(err, ErrLevelNotFound) {
						respondError(c, http.StatusNotFound, "NOT_FOUND", "education level not found")
						return
					}
					respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to fetch education level")
					return
				}
				respondData(c, http.StatusOK, level)
			})

			admin := protected.Group("", RequireRole(RoleAdmin))
			{
				admin.GET("/users", func(c *gin.Context) {
					page, perPage, err := parsePagination(c.Query("page"), c.Query("per_page"))
					if err != nil {
						respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
						return
					}
					items, total, err := deps.Users.List(c.Request.Context(), page, perPage)
					if err != nil {
						respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to fetch users")
						return
					}
					respondData(c, http.StatusOK, gin.H{
						"items":       items,
						"page":        page,
						"per_page":    perPage,
						"total_items": total,
						"total_pages": calcTotalPages(total, perPage),
					})
				})

				admin.PUT("/users/:id/active", func(c *gin.Context) {
					id, err := uuid.Parse(c.Param("id"))
					if err != nil {
						respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid user id")
						return
					}
					var req struct {
						Active *bool `json:"is_active" binding:"required"`
					}
					if err := c.ShouldBindJSON(&req); err != nil {
						respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
						return
					}
					if err := deps.Users.SetActive(c.Request.Context(), id, *req.Active); err != nil {
						if errors.Is(err, ErrUserNotFound) {
							respondError(c, http.StatusNotFound, "NOT_FOUND", "user not found")
							return
						}
						respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to update user")
						return
					}
					if deps.Cache != nil {
						deps.Cache.Invalidate(c.Request.Context(), id)
					}
					respondData(c, http.StatusOK, gin.H{"id": id, "is_active": *req.Active})
				})

				admin.POST("/education-levels", func(c *gin.Context) {
					var req struct {
						Name         string `json:"name" binding:"required"`
						NameSwahili  string `json:"name_swahili"`
						Description  string `json:"description"`
						DisplayOrder int    `json:"display_order"`
					}
					if err := c.ShouldBindJSON(&req); err != nil {
						respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
						return
					}
					level, err := deps.Levels.Create(c.Request.Context(), req.Name, req.NameSwahili, req.Description, req.DisplayOrder)
					if err != nil {
						respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to create education level")
						return
					}
					respondData(c, http.StatusCreated, level)
				})

				admin.PUT("/education-levels/:id", func(c *gin.Context) {
					id, err := strconv.ParseInt(c.Param("id"), 10, 64)
					if err != nil {
						respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid id")
						return
					}
					var req struct {
						Name         string `json:"name" binding:"required"`
						NameSwahili  string `json:"name_swahili"`
						Description  string `json:"description"`
						DisplayOrder int    `json:"display_order"`
					}
					if err := c.ShouldBindJSON(&req); err != nil {
						respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
						return
					}
					level, err := deps.Levels.Update(c.Request.Context(), id, req.Name, req.NameSwahili, req.Description, req.DisplayOrder)
					if err != nil {
						if errors.Is(err, ErrLevelNotFound) {
							respondError(c, http.StatusNotFound, "NOT_FOUND", "education level not found")
							return
						}
						respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to update education level")
						return
					}
					respondData(c, http.StatusOK, level)
				})

				admin.DELETE("/education-levels/:id", func(c *gin.Context) {
					id, err := strconv.ParseInt(c.Param("id"), 10, 64)
					if err != nil {
						respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid id")
						return
					}
					if err := deps.Levels.Deactivate(c.Request.Context(), id); err != nil {
						if errors.Is(err, ErrLevelNotFound) {
							respondError(c, http.StatusNotFound, "NOT_FOUND", "education level not found")
							return
						}
						respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to delete education level")
						return
					}
					c.Status(http.StatusNoContent)
				})
			}

			super := protected.Group("", RequireRole(RoleSuperAdmin))
			{
				super.PUT("/users/:id/role", func(c *gin.Context) {
					id, err := uuid.Parse(c.Param("id"))
					if err != nil {
						respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid user id")
						return
					}
					var req struct {
						Role string `json:"role" binding:"required"`
					}
					if err := c.ShouldBindJSON(&req); err != nil {
						respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request body")
						return
					}
					role, err := ParseRole(req.Role)
					if err != nil {
						respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "unknown role")
						return
					}
					if err := deps.Users.UpdateRole(c.Request.Context(), id, role); err != nil {
						if errors.Is(err, ErrUserNotFound) {
							respondError(c, http.StatusNotFound, "NOT_FOUND", "user not found")
							return
						}
						respondError(c, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", "failed to update role")
						return
					}
					if deps.Cache != nil {
						deps.Cache.Invalidate(c.Request.Context(), id)
					}
					respondData(c, http.StatusOK, gin.H{"id": id, "role": role})
				})
			}
		}
	}

	return r
}

// optionalIdentity resolves the bearer identity when an Authorization header
// is present, and returns (nil, true) for anonymous requests. A header that
// is present but fails verification gets the same response RequireAuth would
// give, and ok=false.
func optionalIdentity(c *gin.Context, auth *AuthService) (*User, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return nil, true
	}
	token, ok := bearerToken(header)
	if !ok {
		respondError(c, http.StatusForbidden, "INVALID_TOKEN", "invalid authorization header")
		return nil, false
	}
	user, err := auth.ResolveFromToken(c.Request.Context(), token)
	if err != nil {
		respondResolveError(c, err)
		return nil, false
	}
	return &user, true
}

// parsePagination applies defaults (page 1, 20 per page) and bounds.
func parsePagination(pageStr, perPageStr string) (int, int, error) {
	page := 1
	perPage := 20
	if pageStr != "" {
		v, err := strconv.Atoi(pageStr)
		if err != nil || v <= 0 {
			return 0, 0, errors.New("page must be a positive integer")
		}
		page = v
	}
	if perPageStr != "" {
		v, err := strconv.Atoi(perPageStr)
		if err != nil || v <= 0 || v > 100 {
			return 0, 0, errors.New("per_page must be between 1 and 100")
		}
		perPage = v
	}
	return page, perPage, nil
}

func calcTotalPages(total, perPage int) int {
	if perPage <= 0 {
		return 0
	}
	return (total + perPage - 1) / perPage
}
