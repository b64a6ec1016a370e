//go:build cgo

package phoneme

const cgoEnabled = true
