// Package script runs entry points whose code ships in the package as
// JavaScript. Each instance gets its own goja VM.
//
// A script defines any of onCreate, onStart, onResume, onPause, onStop,
// onDestroy, onResult, onNewIntent, onInput, onSaveView and onRestoreView as
// globals. Each receives the app object:
//
//	app.id, app.package, app.entry, app.root(), app.intent()
//	app.setResult(code, data), app.finish()
//	app.startActivity(req), app.startForResult(req, slot)
//	app.every(ms, fn), app.cancelTimer(id), app.onFrame(fn)
//	app.prefs.get(key, def), app.prefs.set(key, value), app.prefs.remove(key)
//
// A thrown exception or a callback running past Config.Timeout crashes the
// instance. require, process, module and exports are not available.
package script
