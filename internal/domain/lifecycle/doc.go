// Package lifecycle runs instances of entry points and moves them through
// Created, Started, Resumed, Paused, Stopped and Destroyed.
//
// Components:
//   - Controller: owns instances, resolves launches and drives the navigation stack
//   - Catalog: maps activity class names, or script assets, to Activity code
//   - Tasks: background units on an ants pool with completions queued for the loop
//   - Instance: the handle activities use for frames, timers, tasks, results and prefs
//
// Threading:
//
// The controller is single-threaded. Frame, Step and every public method run
// on the loop goroutine; calls made from inside a callback are queued and run
// after the current operation. Background work never touches instance state:
// its completion is handed back during Step, within the drain budget.
//
// Failures:
//
// A callback that returns an error or panics crashes its instance. The
// instance is forced to Destroyed, its resources are released and its stack
// entry removed, and a crash notification is published. An out-of-order move
// is reported as a defect the same way. Repeated crashes open the package's
// crash-loop guard and further launches are refused until the cooldown ends.
//
// Example Usage:
//
//	catalog := lifecycle.NewCatalog()
//	catalog.Register("com.example.notes.Main", func() lifecycle.Activity { return &notes.Main{} })
//
//	tasks, _ := lifecycle.NewTasks(8, logger, metrics)
//	ctl := lifecycle.NewController(reg, res, catalog, tasks, lifecycle.Settings{}, logger).
//		WithToolkit(display.NewHeadless(logger))
//
//	_ = ctl.Boot(ctx)
//	_, err := ctl.Start(ctx, types.Explicit("com.example.notes", "main"))
package lifecycle
