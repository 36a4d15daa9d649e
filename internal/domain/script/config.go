package script

import "time"

// Config bounds script execution
type Config struct {
	Timeout       time.Duration // Per callback; the VM is interrupted when exceeded
	MaxCallStack  int           // Maximum JavaScript call depth
	MaxScriptSize int64         // Largest script asset accepted, in bytes
	EnableConsole bool          // Route console.* to the logger
}

// DefaultConfig returns limits suited to interactive callbacks
func DefaultConfig() Config {
	return Config{
		Timeout:       250 * time.Millisecond,
		MaxCallStack:  1024,
		MaxScriptSize: 1 << 20,
		EnableConsole: true,
	}
}
