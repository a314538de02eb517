// Package google provides OAuth2 configuration and token management for the
// Google APIs ipdocket writes to: Gmail for outgoing mail, Calendar for
// deadlines and Drive for saved files.
//
// Tokens are kept per account in files under the user cache directory,
// optionally encrypted with AES-256-GCM. The TokenProvider interface lets the
// API clients ask for a fresh token without knowing where it is stored; the
// store-backed provider refreshes tokens that are about to expire and writes
// the refreshed token back.
package google
