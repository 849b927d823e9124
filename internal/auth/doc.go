// Package auth issues and verifies the HS256 bearer tokens that guard the
// cosignd API. Operator accounts come from configuration and carry
// permissions such as jobs:submit and jobs:read.
package auth
