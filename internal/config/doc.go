// Package config loads and merges vibe configuration from multiple sources.
//
// Precedence (highest to lowest):
//  1. CLI flags
//  2. Environment variables (VIBE_TRACKER, VIBE_MAX_ATTEMPTS, VIBE_FORMAT, etc.),
//     optionally seeded from a .env file in the working directory
//  3. Config file ($XDG_CONFIG_HOME/vibe/config.yaml)
//  4. Built-in defaults
//
// Tracker tokens come only from the environment (GITHUB_TOKEN or GH_TOKEN,
// GITLAB_TOKEN) and are never written to the config file.
package config
