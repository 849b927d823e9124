// Package api exposes the cosignd REST interface: queueing fee-payer
// sponsored transfers, registrations and badge calls as jobs, reading job
// state and attempt history, decoding raw transactions before co-signing and
// reading on-chain account state. Mutating and read routes can be guarded by
// bearer tokens issued by the auth package.
package api
