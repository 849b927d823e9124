// Package chain defines the chain client capability used to read account
// state and submit multi-agent transactions, together with the YAML chain
// definition file that names the nodes a deployment talks to.
package chain
