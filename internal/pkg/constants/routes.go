package constants

// Route constants shared by the router and code that builds absolute URLs
const (
	AuthRoute     = "/auth"
	WebhooksRoute = "/webhooks"
	AdminRoute    = "/admin"
	APIRoute      = "/api"
	// Counter routes live below this prefix, keyed by account id and counter
	InternalRoute = "/internal"
)

// OAuthCallbackPath is where a provider redirects back to after consent.
func OAuthCallbackPath(provider string) string {
	return AuthRoute + "/" + provider + "/callback"
}
