// Package auth verifies the bearer tokens that identify light owners.
//
// Tokens are HS256 JWTs issued by the account service. The subject claim is
// the owner id every device and schedule operation is scoped to. This
// package only verifies them; GenerateToken exists for tooling and tests.
package auth
