// Package channel implements one logical duplex connection that multiplexes
// fire-and-forget notifications and promise-style RPC calls over an ordered
// stream of binary frames.
//
// Ownership boundary:
// - per-tag dispatch table (many plain handlers, at most one rpc handler)
// - pending-call map keyed by a wrapping uint32 id
// - connect/disconnect lifecycle; disconnect rejects every pending call once
//
// Timeouts are not enforced here. Callers bound Future.Await with a context;
// a reply that arrives after the caller gave up is dropped as an orphan.
package channel
