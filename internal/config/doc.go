// Package config loads polychat settings from an optional TOML file, an
// optional .env file and the process environment, in increasing order of
// precedence.
//
// A minimal file:
//
//	default_provider = "gemini"
//	default_model = "gemini-2.0-flash"
//	request_timeout = "2m"
//
//	[gemini]
//	cooldown = "4s"
//	model_cooldowns = { "gemini-2.5-pro" = "30s" }
//
//	[cache]
//	backend = "sqlite"
//	dsn = "polychat-cache.db"
//
//	[generation]
//	temperature = 0.7
package config
