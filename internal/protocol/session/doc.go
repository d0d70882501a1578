// Package session owns the registry of live channels.
//
// Ownership boundary:
// - authenticate handshake and role assignment
// - role-gated handler table applied to every channel
// - broadcast, targeted calls and the idle event for interactive peers
// - session timeouts and reconnect backoff shared by helper processes
package session
