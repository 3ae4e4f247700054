// Package auth decodes caller identity from bearer tokens.
//
// Decoding is optimistic: an invalid or missing token never rejects the
// request, it just leaves the caller anonymous, because parts of the
// graph are intentionally public. Token issuance is an external
// collaborator; this package only consumes its JWT contract.
package auth
