// Package config loads typed configuration structs from environment
// variables (with optional .env file support) and provides the Secret
// value type for credential fields.
//
// Secret renders as a masked sentinel everywhere a value could leak
// (String, JSON, logs) and carries an explicit Merge rule so that a
// round-tripped masked value never overwrites the stored credential.
package config
