// Package config loads and merges dumpserver's layered configuration:
// built-in defaults, a global config file, a project-local config file,
// then environment variable overrides, each layer taking precedence over
// the last.
//
// # Loading order
//
//  1. types.DefaultConfig()
//  2. ~/.config/dumpserver/dumpserver.json[c]
//  3. <directory>/.dumpserver/dumpserver.json[c]
//  4. DUMPSERVER_* environment variables
//
// Both .json and .jsonc (JSON with // and /* */ comments, stripped before
// unmarshaling) are accepted at each file layer; a .jsonc file loaded after
// its .json sibling wins.
//
// # Paths
//
// GetPaths returns the XDG Base Directory layout dumpserver's storage root
// defaults to (data/config/cache/state under dumpserver/), adapted to
// APPDATA on Windows.
package config
