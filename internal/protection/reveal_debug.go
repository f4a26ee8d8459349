//go:build playerdebug

package protection

// revealAvailable enables Overlay.Reveal in binaries built with
// -tags playerdebug.
const revealAvailable = true
