package handler_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/ecoloop/internal/auth"
)

func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestAuthHandler_RegisterAndLogin(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	t.Run("register sets the token cookie", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/auth/register", map[string]any{
			"name": "Amina", "email": "Amina@Example.com", "password": "Passw0rd!",
			"lat": -1.29, "lng": 36.82,
		}, "")
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

		c := findCookie(rr, auth.CookieName)
		require.NotNil(t, c)
		assert.True(t, c.HttpOnly)
		assert.NotEmpty(t, c.Value)

		var res struct {
			Token string `json:"token"`
			User  struct {
				Email     string `json:"email"`
				EcoPoints int    `json:"ecoPoints"`
				Location  *struct {
					Lat float64 `json:"lat"`
				} `json:"location"`
			} `json:"user"`
		}
		decode(t, rr, &res)
		assert.Equal(t, c.Value, res.Token)
		assert.Equal(t, "amina@example.com", res.User.Email)
		assert.Zero(t, res.User.EcoPoints)
		require.NotNil(t, res.User.Location)
		assert.InDelta(t, -1.29, res.User.Location.Lat, 1e-9)
	})

	t.Run("duplicate email is a conflict", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/auth/register", map[string]any{
			"name": "Other", "email": "amina@example.com", "password": "Passw0rd!",
		}, "")
		assert.Equal(t, http.StatusConflict, rr.Code)
		assert.Equal(t, "conflict", decodeError(t, rr).Error)
	})

	t.Run("weak password names the field", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/auth/register", map[string]any{
			"name": "Weak", "email": "weak@example.com", "password": "password",
		}, "")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		body := decodeError(t, rr)
		assert.Equal(t, "validation_error", body.Error)
		assert.Equal(t, "password", body.Field)
	})

	t.Run("malformed JSON", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/auth/register", `{"name":`, "")
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("login", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/auth/login", map[string]string{
			"email": "AMINA@example.com", "password": "Passw0rd!",
		}, "")
		assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.NotNil(t, findCookie(rr, auth.CookieName))
	})

	t.Run("wrong password and unknown email look the same", func(t *testing.T) {
		wrong := env.do(t, http.MethodPost, "/api/auth/login", map[string]string{
			"email": "amina@example.com", "password": "Wrong0ne!",
		}, "")
		unknown := env.do(t, http.MethodPost, "/api/auth/login", map[string]string{
			"email": "nobody@example.com", "password": "Passw0rd!",
		}, "")
		assert.Equal(t, http.StatusUnauthorized, wrong.Code)
		assert.Equal(t, http.StatusUnauthorized, unknown.Code)
		assert.Equal(t, decodeError(t, wrong).Message, decodeError(t, unknown).Message)
	})

	t.Run("logout expires the cookie", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/auth/logout", nil, "")
		assert.Equal(t, http.StatusOK, rr.Code)
		c := findCookie(rr, auth.CookieName)
		require.NotNil(t, c)
		assert.Less(t, c.MaxAge, 0)
	})
}

func TestAuthHandler_Profile(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	u := env.register(t, "Baraka", "baraka@example.com")
	env.createItem(t, u, nil)

	t.Run("requires auth", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/auth/profile", nil, "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("includes counters", func(t *testing.T) {
		rr := env.do(t, http.MethodGet, "/api/auth/profile", nil, u.Token)
		require.Equal(t, http.StatusOK, rr.Code)
		var p struct {
			Name        string `json:"name"`
			EcoPoints   int    `json:"ecoPoints"`
			ItemsListed int    `json:"itemsListed"`
		}
		decode(t, rr, &p)
		assert.Equal(t, "Baraka", p.Name)
		assert.Equal(t, 15, p.EcoPoints)
		assert.Equal(t, 1, p.ItemsListed)
	})

	t.Run("update", func(t *testing.T) {
		rr := env.do(t, http.MethodPut, "/api/auth/profile", map[string]any{
			"name": "Baraka O.", "interests": []string{"Books", "Books", " Toys "},
		}, u.Token)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var p struct {
			Name      string   `json:"name"`
			Interests []string `json:"interests"`
		}
		decode(t, rr, &p)
		assert.Equal(t, "Baraka O.", p.Name)
		assert.ElementsMatch(t, []string{"Books", "Toys"}, p.Interests)
	})

	t.Run("update rejects a bad phone", func(t *testing.T) {
		rr := env.do(t, http.MethodPut, "/api/auth/profile", map[string]any{"phone": "call me"}, u.Token)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "phone", decodeError(t, rr).Field)
	})
}

var resetLink = regexp.MustCompile(`/reset-password/([0-9a-f]+)`)

func TestAuthHandler_PasswordReset(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.register(t, "Chebet", "chebet@example.com")

	rr := env.do(t, http.MethodPost, "/api/auth/forgot-password", map[string]string{"email": "chebet@example.com"}, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	msg, ok := env.mail.last()
	require.True(t, ok, "no reset email sent")
	assert.Equal(t, "chebet@example.com", msg.To)
	m := resetLink.FindStringSubmatch(msg.HTML)
	require.Len(t, m, 2, "reset link missing from %q", msg.HTML)

	rr = env.do(t, http.MethodPost, "/api/auth/reset-password", map[string]string{
		"token": m[1], "password": "N3w-Passw0rd",
	}, "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = env.do(t, http.MethodPost, "/api/auth/login", map[string]string{
		"email": "chebet@example.com", "password": "N3w-Passw0rd",
	}, "")
	assert.Equal(t, http.StatusOK, rr.Code)

	t.Run("token is single use", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/auth/reset-password", map[string]string{
			"token": m[1], "password": "An0ther-Pass",
		}, "")
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("unknown email", func(t *testing.T) {
		rr := env.do(t, http.MethodPost, "/api/auth/forgot-password", map[string]string{"email": "ghost@example.com"}, "")
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

type fakeGitHub struct {
	user *auth.GitHubUser
	err  error
}

func (f *fakeGitHub) AuthURL(state string) string {
	return "https://github.test/login/oauth/authorize?state=" + url.QueryEscape(state)
}

func (f *fakeGitHub) Exchange(_ context.Context, code string) (*auth.GitHubUser, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.user, nil
}

func TestAuthHandler_GitHub(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		env := newTestEnv(t, envOptions{})
		rr := env.do(t, http.MethodGet, "/api/auth/github/login", nil, "")
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})

	gh := &fakeGitHub{user: &auth.GitHubUser{ID: 4242, Login: "wanjiru", Email: "wanjiru@example.com"}}
	env := newTestEnv(t, envOptions{github: gh})

	login := env.do(t, http.MethodGet, "/api/auth/github/login", nil, "")
	require.Equal(t, http.StatusTemporaryRedirect, login.Code)
	state := findCookie(login, "oauth_state")
	require.NotNil(t, state)
	assert.Contains(t, login.Header().Get("Location"), "state="+state.Value)

	callback := func(query string, cookie *http.Cookie) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/github/callback?"+query, nil)
		if cookie != nil {
			req.AddCookie(cookie)
		}
		rr := httptest.NewRecorder()
		env.router.ServeHTTP(rr, req)
		return rr
	}

	t.Run("state mismatch", func(t *testing.T) {
		rr := callback("code=abc&state=forged", state)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("missing state cookie", func(t *testing.T) {
		rr := callback("code=abc&state="+state.Value, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("user denied", func(t *testing.T) {
		rr := callback("error=access_denied&state="+state.Value, state)
		assert.Equal(t, http.StatusSeeOther, rr.Code)
		assert.Equal(t, "http://frontend.test/login?auth=denied", rr.Header().Get("Location"))
	})

	t.Run("success signs in", func(t *testing.T) {
		rr := callback("code=abc&state="+state.Value, state)
		require.Equal(t, http.StatusSeeOther, rr.Code, rr.Body.String())
		assert.Equal(t, "http://frontend.test/?auth=success", rr.Header().Get("Location"))

		c := findCookie(rr, auth.CookieName)
		require.NotNil(t, c)
		userID, err := env.tokens.Validate(c.Value)
		require.NoError(t, err)

		u, err := env.db.GetUserByID(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, "wanjiru@example.com", u.Email)
	})

	t.Run("exchange failure", func(t *testing.T) {
		gh.err = errors.New("github down")
		defer func() { gh.err = nil }()
		rr := callback("code=abc&state="+state.Value, state)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})
}
