/*
Package resilience provides the crash-loop guard for launched packages.

# Overview

A package whose instances are force-destroyed repeatedly is refused further
launches for a cooldown period, then admitted for a single trial launch.

# States

	Closed --[Limit crashes in Window]-> Open --[Cooldown]-> Half-Open --[Healthy]-> Closed
	                                                             |
	                                                          [Crash]
	                                                             |
	                                                             v
	                                                           Open

# Usage

	guard := resilience.NewGuard(resilience.Settings{
		Limit:    3,
		Window:   time.Minute,
		Cooldown: 30 * time.Second,
	})

	if err := guard.Allow(pkg); err != nil {
		return err // wraps types.ErrCrashLoop
	}
*/
package resilience
