// Package keycloak implements auth.IdentityClient against a Keycloak realm.
//
// Discovery and ID token verification use go-oidc, the authorization code
// flow with PKCE uses x/oauth2 with a local callback listener, and the
// userinfo, refresh and back-channel logout calls go through gocloak. The
// session is persisted in a tokenstore.Storage under its own key so a later
// process can restore it silently.
package keycloak
