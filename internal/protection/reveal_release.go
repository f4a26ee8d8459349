//go:build !playerdebug

package protection

// revealAvailable is false in release builds: the watermark can never be
// made visible, whatever Capabilities say.
const revealAvailable = false
