// Package mysql holds the MySQL plumbing shared by CoSign-Chain stores:
// connection pooling, embedded schema migrations and the submission attempt
// history.
package mysql
