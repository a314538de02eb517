// Package oauth guards the HTTP MCP endpoints with Google bearer tokens.
//
// MCP clients authenticate against Google and send the access token as
// "Authorization: Bearer <token>". Handler.Protect checks the token with
// Google's userinfo endpoint, admits only the operators named in
// Config.AllowedEmails, stores the token per user in a
// github.com/giantswarm/mcp-oauth token store and puts the caller's
// providers.UserInfo into the request context.
//
// Requests without a valid token get 401 with a WWW-Authenticate header
// pointing at /.well-known/oauth-protected-resource (RFC 9728), which names
// Google as the authorization server.
package oauth
