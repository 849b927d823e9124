// Package config loads the CoSign daemon configuration from a JSON file and
// fills in defaults. Secrets are never read from the file itself; the file
// only names the environment variables that hold them.
package config
