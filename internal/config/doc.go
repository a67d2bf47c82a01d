// Package config loads the JSON runtime configuration, fills defaults relative
// to the configuration file's directory and exposes dotenv-backed settings such
// as EVM_PRIVATE_KEY to the agent runtime.
package config
