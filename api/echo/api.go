//nolint:varnamelen
// Package echo adapts the service provider facade onto an Echo router: the
// three protocol endpoints, a minimal consent page, and middleware guarding
// protected resources.
package echo

import (
	"fmt"
	"html"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	openauth "go.pilab.hu/openauth"
	"go.pilab.hu/openauth/internal/metrics"
)

// Context keys under which the middleware stores the validated token's
// identity.
const (
	ContextUserID   = "oauth.user_id"
	ContextClientID = "oauth.client_id"
	ContextScope    = "oauth.scope"
)

// Authenticator resolves the signed-in user for the authorization pages. How
// users log in is the embedding application's business.
type Authenticator func(c echo.Context) (userID string, err error)

// ProviderAPI holds the provider facade and the host application's login
// shim.
type ProviderAPI struct {
	provider     *openauth.ServiceProvider
	authenticate Authenticator
}

// NewProviderAPI initializes the provider API.
func NewProviderAPI(provider *openauth.ServiceProvider, authenticate Authenticator) *ProviderAPI {
	return &ProviderAPI{provider: provider, authenticate: authenticate}
}

// RegisterRoutes registers the OAuth endpoints.
func (pa *ProviderAPI) RegisterRoutes(e *echo.Echo) {
	e.POST("/oauth/request_token", pa.RequestTokenHandler)
	e.GET("/oauth/authorize", pa.AuthorizeHandler)
	e.POST("/oauth/authorize", pa.DecisionHandler)
	e.POST("/oauth/access_token", pa.AccessTokenHandler)
}

// RequestTokenHandler serves signed request-token requests.
func (pa *ProviderAPI) RequestTokenHandler(c echo.Context) error {
	wr := pa.provider.HandleRequestToken(c.Request().Context(), c.Request())
	if wr.Status == http.StatusOK {
		metrics.Inc(metrics.RequestTokensIssuedTotal)
	}
	return wr.WriteTo(c.Response())
}

// AccessTokenHandler serves signed access-token exchanges.
func (pa *ProviderAPI) AccessTokenHandler(c echo.Context) error {
	wr := pa.provider.HandleAccessToken(c.Request().Context(), c.Request())
	if wr.Status == http.StatusOK {
		metrics.Inc(metrics.TokensExchangedTotal)
	}
	return wr.WriteTo(c.Response())
}

// AuthorizeHandler shows the consent page for the request token the consumer
// sent the user here with.
func (pa *ProviderAPI) AuthorizeHandler(c echo.Context) error {
	if _, err := pa.authenticate(c); err != nil {
		return err
	}

	request, err := pa.provider.ReadAuthorizationRequest(c.Request().Context(), c.Request())
	if err != nil {
		return c.HTML(http.StatusBadRequest, consentError("The authorization request could not be understood."))
	}
	if request == nil || request.Token == "" {
		return c.HTML(http.StatusBadRequest, consentError("No request token was presented."))
	}

	return c.HTML(http.StatusOK, consentPage(request.Token))
}

// DecisionHandler records the user's consent decision.
func (pa *ProviderAPI) DecisionHandler(c echo.Context) error {
	userID, err := pa.authenticate(c)
	if err != nil {
		return err
	}

	token := c.FormValue("oauth_token")
	if token == "" {
		return c.HTML(http.StatusBadRequest, consentError("No request token was presented."))
	}
	if c.FormValue("decision") != "allow" {
		log.Info().Str("user_id", userID).Msg("user denied authorization")
		return c.HTML(http.StatusOK, consentError("Access was denied. You can close this page."))
	}

	decision, err := pa.provider.GrantAuthorization(c.Request().Context(), token, userID)
	if err != nil {
		log.Warn().Err(err).Msg("authorization grant failed")
		return c.HTML(http.StatusBadRequest, consentError("The token could not be authorized. It may have expired."))
	}
	metrics.Inc(metrics.TokensAuthorizedTotal)

	if decision.Redirect != nil {
		return decision.Redirect.WriteTo(c.Response())
	}
	// Out-of-band consumer: the user types the code into the application.
	return c.HTML(http.StatusOK, verifierPage(decision.Verifier))
}

// RequireAccessToken guards protected resources: the request must carry a
// valid signature over a live access token covering the listed scopes. The
// token's user, client and scope are stored on the context.
func (pa *ProviderAPI) RequireAccessToken(scopes ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, err := pa.provider.ValidateProtectedRequest(c.Request().Context(), c.Request(), scopes...)
			if err != nil {
				metrics.IncOutcome("rejected")
				c.Response().Header().Set("WWW-Authenticate", `OAuth realm=""`)
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing access token")
			}
			metrics.IncOutcome("ok")
			c.Set(ContextUserID, token.UserID)
			c.Set(ContextClientID, token.ClientID)
			c.Set(ContextScope, token.Scope)
			return next(c)
		}
	}
}

// TokenFromContext returns the identity the middleware attached.
func TokenFromContext(c echo.Context) (userID, clientID, scope string) {
	userID, _ = c.Get(ContextUserID).(string)
	clientID, _ = c.Get(ContextClientID).(string)
	scope, _ = c.Get(ContextScope).(string)
	return userID, clientID, scope
}

func consentPage(token string) string {
	return fmt.Sprintf(`<html><body>
<h1>Authorize application</h1>
<p>An application is asking for access to your account.</p>
<form method="POST" action="/oauth/authorize">
<input type="hidden" name="oauth_token" value=%q/>
<button name="decision" value="allow">Allow</button>
<button name="decision" value="deny">Deny</button>
</form></body></html>`, html.EscapeString(token))
}

func verifierPage(verifier string) string {
	return fmt.Sprintf(`<html><body>
<h1>Almost done</h1>
<p>Enter this code in the application:</p>
<p><code>%s</code></p>
</body></html>`, html.EscapeString(verifier))
}

func consentError(text string) string {
	return fmt.Sprintf("<html><body><p>%s</p></body></html>", html.EscapeString(text))
}
