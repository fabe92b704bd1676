// Package api provides the HTTP endpoints of the game server.
//
// Endpoints:
//   - POST /graphql - Run a query or mutation ({query, variables, operationName})
//   - GET /graphql - Same, with the request in the URL query
//   - GET /graphql/ws - WebSocket upgrade, subscriptions included
//   - GET /healthz - Liveness and registry sizes
//   - GET /metrics - Prometheus scrape endpoint
//   - GET / - Static files, when a directory is configured
//
// Authentication:
//
// HTTP requests carry no connection state. A client logs in with the login
// mutation and sends the returned token on later requests:
//
//	Authorization: Bearer <token>
//
// Subscriptions need a long lived connection and are refused on /graphql.
//
// Rate limiting:
//
// /graphql is limited per client address with a token bucket. Clients
// behind a proxy or tunnel are keyed by the first X-Forwarded-For hop.
// Rejected requests get 429 with a Retry-After header.
//
// Response format:
//
// GraphQL results are returned as-is with status 200. Transport problems
// (bad body, bad token, subscription on HTTP) use 4xx statuses.
package api
