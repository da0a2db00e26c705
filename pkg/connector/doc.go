// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package connector relays one IRC channel and one Discord channel into
// each other.
//
// Each side is an adapter made of a client, which turns platform traffic
// into events, and a relay, which renders events from the other side and
// sends them. Events travel through an [events.Dispatcher] into one
// [events.Destination] queue per relay, so a slow or disconnected side never
// blocks the other one. Either side can be left out of the config; the
// bridge then runs with the remaining one.
//
// # Core Types
//
// [Connector] builds the adapters from a [Config], supervises every loop,
// and applies config reloads triggered by SIGHUP, the file watcher or the
// admin API.
//
// [Metrics] observes the dispatcher and the destination queues and exposes
// them to Prometheus.
//
// # Echo Prevention
//
// Neither client turns the bridge's own messages into events. The IRC
// client drops lines from its own nick and from ignored nicks, and the
// Discord client drops messages from the bot user and from ignored user
// IDs. Delete notices are the exception: a deleted bridge message is still
// reported, with its IRC author recovered from the message header.
//
// # Sub-packages
//
//   - irc and discord hold the two adapters.
//   - richtext is the formatting tree shared by ircfmt and discordfmt.
//   - ircfmt parses and renders mIRC control codes.
//   - discordfmt parses, renders and escapes Discord markdown.
//   - mention resolves [nick] style mentions and Discord mention tokens.
//   - nicksanitize keeps relayed Discord names from highlighting IRC users.
package connector
