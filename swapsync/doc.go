// Package swapsync gates a node's buffer swap on cluster-wide readiness.
//
// A Synchronizer walks Idle → Rendering → AwaitingQuorum → Released → Idle
// once per frame. RequestSwap votes through a Voter (a collective.Channel)
// and swaps when every expected rank is ready with the same scene version, or
// unsynchronized once the timeout expires so a stuck rank never freezes the
// wall.
package swapsync
