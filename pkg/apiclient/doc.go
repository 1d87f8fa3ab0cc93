// Package apiclient is the HTTP transport used for every call to the
// observastack API.
//
// A Client attaches the current bearer token, serializes JSON request bodies,
// decodes JSON and text responses, bounds every attempt with a timeout and
// retries network-level faults with a linearly increasing delay. Failures are
// returned as *apierrors.Error values so callers branch on the error kind:
//
//	c, err := apiclient.New(apiclient.WithBaseURL("https://observastack.example/api/v1"))
//	...
//	var me User
//	if err := c.Get(ctx, "/auth/me", &me); apierrors.IsAuthentication(err) {
//		// send the user to login
//	}
//
// HTTP error statuses are never retried by the Client itself. Callers that want
// to retry transient server-side failures wrap the call in WithRetry.
package apiclient
