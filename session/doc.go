// Copyright 2026 The Docstore Authors
// SPDX-License-Identifier: Apache-2.0

// Package session is the client side of docstore: a client-role node
// that dials one server address, takes publish and lookup commands
// through a queue, and queues everything the node reports as events.
//
// [Holder] keeps at most one session live. User interfaces connect
// through it and poll it at a fixed cadence:
//
//	holder := session.NewHolder(session.Options{})
//	if _, err := holder.Connect(ctx, address); err != nil {
//		return err
//	}
//	go holder.Poll(ctx, session.DefaultPollInterval, render)
//	holder.Current().PublishUpdate("hello")
package session
