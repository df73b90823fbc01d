// Package registry keeps a named set of loaded predicate modules in sync
// with a directory of module files.
//
// Every file with a module extension becomes an entry named after its stem:
//
//	modules/
//	  kind1.wasm        -> "kind1"   WebAssembly module
//	  long-form.yaml    -> "long-form" expression manifest
//	  spam.json         -> "spam"    noscript envelope record
//
// A reload rescans the directory. Unchanged files keep their handles. A
// file that fails to load keeps the handle it had before, and a handle that
// is replaced or whose file is gone is closed. With Watch the directory is
// watched with fsnotify, or, when the git source is enabled, the clone is
// polled for new commits.
package registry
