// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package storeclient implements the Store facade from spec.md §4.3:
// the ordered public operations (query path info, add to store, build
// paths, collect garbage, and the rest) layered over package worker's
// message grammar and package storeconn's connection pool.
//
// Client is the facade type. Every public method acquires a
// connection from the pool, issues one operation, and releases the
// connection, marking it bad first if the operation's error requires
// poisoning. Methods are grouped across files the way spec.md groups
// them: query.go, mutate.go, build.go, admin.go.
package storeclient
