// Package storage implements the package metadata and tarball store shared by
// every request-facing stage. Layout on disk:
//
//	<StoragePath>/<package>/package.json   # manifest
//	<StoragePath>/<package>/<file>.tgz     # tarballs
//
// Scoped packages live under <StoragePath>/@scope/<name>/. Writes go through a
// temp file + rename so readers never observe partial files. Init must run once
// before any other call; it receives the metadata filters applied on every read.
package storage
