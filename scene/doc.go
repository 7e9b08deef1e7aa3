// Package scene holds the replicated, versioned layout of the wall: which
// content occupies which region.
//
// Only the controller mutates the scene, through Store.Update, which bumps the
// version once per visible change. Rendering nodes hold a Replica and swap whole
// snapshots; they never mutate what they receive. Pixel data is not part of the
// scene: each node fetches its own textures.
//
// Tiles refer to their window by index into the DisplayGroup, never by pointer,
// so a tile cannot keep a window alive.
package scene
