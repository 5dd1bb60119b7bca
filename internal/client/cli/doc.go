// Package cli implements the dngdrop command-line client.
//
// Usage:
//
//	dngdrop-cli [-s URL] [-u USER] [-c config.json] <command> [flags] [args]
//
// Commands:
//
//	upload FILE...                       upload RAW files
//	list                                 list retained artifacts (reissues tokens)
//	download [--token T] [-o DIR] NAME   download and consume an artifact
//	preview [--token T] [-o FILE] NAME   save the JPEG preview of an artifact
//	reset [--admin-token T]              drop all server state
//	version                              print build information
//
// When stdout is a terminal results are printed as aligned tables;
// otherwise every command writes one JSON document so the output can be
// piped into other tools. download and preview fetch a fresh token through
// list when --token is omitted.
package cli
