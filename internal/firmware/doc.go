// Package firmware holds the latest Pip firmware release in memory.
//
// The Cache is filled from a Source at startup and again whenever a new
// release is announced (HTTP webhook or MQTT). Devices that report an older
// version on connect are sent the cached image in chunks.
//
// SQLiteSource is the production Source: releases live in the
// firmware_releases table with their image zstd-compressed.
package firmware
