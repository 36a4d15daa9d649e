// Package utils holds small validation, version and hashing helpers shared by
// the registry and the installer.
package utils
