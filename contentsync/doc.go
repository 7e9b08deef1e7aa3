// Package contentsync decouples each content's native update rate from the
// wall's shared frame cadence.
//
// # Philosophy
//
// "Drop frames, never block the swap." The render loop calls Update once per
// cycle on every Synchronizer. Update pulls at most one frame from the content's
// DataSource, which must never block: if nothing new is available it returns the
// previous texture with the ready flag cleared. A slow source degrades to a stale
// frame on screen, never to a stalled cluster swap.
//
// # Data Sources
//
// Decoders (movies, pixel streams, documents, image pyramids) live outside this
// package and plug in through DataSource:
//
//	reg := contentsync.NewRegistry(contentsync.Options{})
//	reg.Register(contentID, source)
//	reg.Sync(currentScene) // bind synchronizers to the scene's contents
//	reg.UpdateAll()        // once per render cycle
//
// Ready-made sources live in contentsync/sources.
//
// # Faults
//
// A DataSource error is isolated to its content: the synchronizer keeps the last
// good texture and reports HasNewFrame() == false. After FaultThreshold
// consecutive faults the content shows a static error tile until a fetch
// succeeds again.
//
// # Zero-Copy Contract
//
// Texture.Data is shared by reference. Sources MUST NOT modify it after handing
// it out; renderers MUST treat it as read-only.
package contentsync
