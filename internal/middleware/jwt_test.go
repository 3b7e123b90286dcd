package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/fleet-management/internal/auth"
)

type nopStore struct{ mu sync.Mutex }

func (s *nopStore) ReplaceRefreshFingerprint(context.Context, uint64, string) error { return nil }
func (s *nopStore) ConsumeRefreshFingerprint(context.Context, uint64, string) (bool, error) {
	return true, nil
}
func (s *nopStore) ClearRefreshFingerprint(context.Context, uint64) error { return nil }

func testAuthority(t *testing.T) *auth.Authority {
	t.Helper()
	a, err := auth.New(auth.Config{
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
	}, &nopStore{})
	require.NoError(t, err)
	return a
}

func invoke(t *testing.T, mw echo.MiddlewareFunc, authz string, seed func(echo.Context)) (*httptest.ResponseRecorder, echo.Context) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/vehicles", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if seed != nil {
		seed(c)
	}
	handler := mw(func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	require.NoError(t, handler(c))
	return rec, c
}

func TestJWTAuth_ValidToken(t *testing.T) {
	t.Parallel()

	a := testAuthority(t)
	token, _, err := a.IssueAccess(42, "a@x.com", "fleet_manager")
	require.NoError(t, err)

	rec, c := invoke(t, JWTAuth(a), "Bearer "+token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(42), c.Get("user_id"))
	assert.Equal(t, "a@x.com", c.Get("email"))
	assert.Equal(t, "fleet_manager", c.Get("role"))
}

func TestJWTAuth_Rejections(t *testing.T) {
	t.Parallel()

	a := testAuthority(t)

	t.Run("missing header", func(t *testing.T) {
		rec, _ := invoke(t, JWTAuth(a), "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		rec, _ := invoke(t, JWTAuth(a), "Bearer nonsense", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("refresh token rejected on access routes", func(t *testing.T) {
		refresh, _, err := a.IssueRefresh(context.Background(), 42)
		require.NoError(t, err)
		rec, _ := invoke(t, JWTAuth(a), "Bearer "+refresh, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestRequireRole(t *testing.T) {
	t.Parallel()

	withRole := func(role string) func(echo.Context) {
		return func(c echo.Context) { c.Set("role", role) }
	}

	t.Run("allowed role passes", func(t *testing.T) {
		rec, _ := invoke(t, RequireRole("admin", "fleet_manager"), "", withRole("fleet_manager"))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("disallowed role is forbidden", func(t *testing.T) {
		rec, _ := invoke(t, RequireRole("admin"), "", withRole("user"))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("missing role is forbidden", func(t *testing.T) {
		rec, _ := invoke(t, RequireRole("admin"), "", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("empty set admits any authenticated role", func(t *testing.T) {
		rec, _ := invoke(t, RequireRole(), "", withRole("driver"))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
