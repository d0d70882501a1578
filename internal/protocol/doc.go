// Package protocol owns the ledctl wire contract.
//
// Ownership boundary:
// - tag and role enums (disjoint tag ranges)
// - error taxonomy shared by channel and session layers
// - typed payload catalog binding each application tag to one payload type
package protocol
