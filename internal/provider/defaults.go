package provider

// defaults are the authorization servers the Area backend knows how to
// redeem. Credentials are never built in.
var defaults = []Provider{
	{
		Name:                  "github",
		Service:               "github",
		AuthorizationEndpoint: "https://github.com/login/oauth/authorize",
		TokenEndpoint:         "https://github.com/login/oauth/access_token",
		Scopes:                []string{"user", "repo", "user:email"},
		Exchange:              ExchangeCode,
	},
	{
		Name:                  "discord",
		Service:               "discord",
		AuthorizationEndpoint: "https://discord.com/oauth2/authorize",
		TokenEndpoint:         "https://discord.com/api/oauth2/token",
		Scopes:                []string{"identify", "email", "messages.read"},
		PKCE:                  true,
		Exchange:              ExchangeCode,
	},
	{
		Name:                  "spotify",
		Service:               "spotify",
		AuthorizationEndpoint: "https://accounts.spotify.com/authorize",
		TokenEndpoint:         "https://accounts.spotify.com/api/token",
		Scopes:                []string{"user-read-email", "playlist-modify-public"},
		PKCE:                  true,
		Exchange:              ExchangeCode,
	},
	{
		Name:                  "microsoft",
		Service:               "microsoft",
		AuthorizationEndpoint: "https://login.microsoftonline.com/common/oauth2/v2.0/authorize",
		TokenEndpoint:         "https://login.microsoftonline.com/common/oauth2/v2.0/token",
		Scopes:                []string{"Mail.ReadWrite", "User.Read", "Mail.Send", "offline_access"},
		PKCE:                  true,
		Exchange:              ExchangeCode,
	},
	{
		Name:                  "dropbox",
		Service:               "dropbox",
		AuthorizationEndpoint: "https://www.dropbox.com/oauth2/authorize",
		TokenEndpoint:         "https://www.dropbox.com/oauth2/token",
		PKCE:                  true,
		Exchange:              ExchangeCode,
	},
	{
		Name:                  "google",
		Service:               "gmail",
		AuthorizationEndpoint: "https://accounts.google.com/o/oauth2/v2/auth",
		TokenEndpoint:         "https://oauth2.googleapis.com/token",
		Scopes:                []string{"openid", "profile"},
		PKCE:                  true,
		Exchange:              ExchangeToken,
	},
}
