// Package client keeps a signed-in HTTP client's credentials fresh.
//
// A [Gate] owns one client session's token pair and serialises renewals:
// however many requests notice an expired access token at once, exactly one
// refresh exchange runs and every caller waits on its result. [Transport]
// attaches the access token to outgoing requests and, on a 401 that reports
// an expired token, renews through the gate and replays the request once.
//
// A failed exchange signs the session out: the credentials are cleared and
// every waiter gets [ErrUnauthenticated]. Nothing in this package redirects.
package client
