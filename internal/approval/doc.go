// Package approval implements signed approval tokens and the approve/reject
// workflow built on them.
//
// A token is base64url(canonical JSON payload) + "." + base64url(HMAC-SHA256
// over the encoded payload). It binds a batch id, the approver's email, the
// action and a random nonce, and expires after DefaultTokenTTL. Verification
// is a pure function of the token, the secret and the clock. Replay
// protection lives in Service, which spends each nonce in a NonceStore
// (in memory or Redis) before acting on a token.
package approval
