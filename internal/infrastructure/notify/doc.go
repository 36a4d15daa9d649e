// Package notify delivers runtime notifications (crashes, defects, installs)
// to in-process subscribers such as the admin event stream.
package notify
