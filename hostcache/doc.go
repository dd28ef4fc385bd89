// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package hostcache implements a bounded address book of peers that may be
connected to.

The cache holds at most a configured number of addresses and evicts the least
recently stored address when full.  Addresses are fetched at random while
excluding a set of authorities, typically those the caller is already
connected to.  An optional [Store] persists the cache across restarts; it is
loaded when the cache starts, flushed periodically while it runs, and flushed
one final time when it stops.  [LevelDBStore] is the provided implementation.
*/
package hostcache
