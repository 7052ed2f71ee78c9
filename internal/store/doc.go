// Package store persists the device records of a klw.Bucket.
//
// Two backends satisfy klw.Store:
//   - FileStore writes one JSON object (oid → record) per gateway, replacing
//     the file atomically on every save.
//   - SQLiteStore keeps one row per record in the device_records table,
//     scoped by network id so several gateways can share a database.
//
// Saves always carry the complete record set; both backends replace what
// they held before.
package store
