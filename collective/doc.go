// Package collective carries scene broadcasts, swap votes and barrier
// rendezvous between the controller rank and the renderer ranks of a wall.
//
// The controller runs a Hub; every renderer runs an Endpoint. Both implement
// Channel. Rank 0 is the controller, renderers are numbered from 1.
//
// Two transports are provided: LocalCluster wires a hub and its endpoints
// in-process, Server and Dial carry the same messages as CBOR over websockets.
//
// Swap decisions:
//
//	A round is opened per frame number with a snapshot of the expected ranks.
//	It is decided once every rank of the snapshot voted: ready iff all votes
//	are ready and report the same scene version. Deciding frame f supersedes
//	every pending round below f. Votes for decided frames are stale and are
//	answered not-ready immediately.
package collective
