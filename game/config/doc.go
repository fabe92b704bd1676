// Package config loads the server configuration from environment variables.
//
// Values are read with caarlos0/env, after main has loaded an optional .env
// file. Command line flags override individual fields afterwards. Load
// validates the result and reports every invalid field in one error.
//
// Variables:
//
//	TTT_SECRET                    token signing secret (random per process when empty)
//	TTT_TOKEN_EXPIRES             session and invite token lifetime (24h)
//	TTT_TCP_ADDR                  line protocol listen address (0.0.0.0:4001)
//	TTT_HTTP_ADDR                 HTTP and WebSocket listen address (0.0.0.0:4000)
//	TTT_DELIMITER                 command terminator line (.)
//	TTT_STATIC_DIR                optional directory served at /
//	TTT_SWEEP_INTERVAL            lobby liveness sweep period (10s)
//	TTT_SESSION_MAX_AGE           idle session retention (24h)
//	TTT_SESSION_CLEANUP_INTERVAL  idle session cleanup period (1h)
//	TTT_RATE_LIMIT, TTT_RATE_BURST  per client HTTP GraphQL rate (20/s, burst 40)
//	TTT_DEBUG                     debug logging
//	NGROK_ENABLED, NGROK_AUTHTOKEN, NGROK_DOMAIN  optional tunnel
package config
