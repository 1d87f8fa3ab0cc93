// Package auth implements the observastack session layer.
//
// A Facade owns exactly one Backend, chosen when it is built from the
// configured Method:
//
//   - FederatedBackend drives an external IdentityClient (Keycloak, see the
//     keycloak subpackage). The identity client keeps its own tokens.
//   - LocalBackend talks to the API's /auth endpoints through the transport
//     and keeps the issued credential bundle in a tokenstore.Store.
//
// Every Facade operation returns failures as *apierrors.Error values, so
// callers branch on the error kind without knowing which backend is active.
// Token refresh is single-flight per Facade, and StartRefreshLoop adds an
// optional proactive refresh ticker.
package auth
