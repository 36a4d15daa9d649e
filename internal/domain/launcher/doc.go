// Package launcher provides the built-in home screen and app chooser activities.
//
// The home screen lists the main entry of every package except launchers,
// sorted by name, and launches the selected one explicitly. The registry
// seeder writes a built-in package whose entry names Class, so a fresh
// storage root always has a home to boot.
//
// The chooser is offered by the controller when an instance issues an
// implicit request with several matching entry points. It relaunches the
// original request at the picked candidate and forwards the result to the
// waiting caller, if any. Requests from outside the runtime still fail as
// ambiguous.
package launcher
