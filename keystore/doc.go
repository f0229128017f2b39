// Package keystore owns the on-disk signing key records.
//
// Each record is one JSON file named "<name>-<created_at>.sk.json" holding the
// hex public key and the private key encrypted under a password (see
// authcipher). Records are immutable: rotating a password writes the next
// version to a new file and keeps the old one as audit history.
//
// Version numbers have the form "<major>.<minor>" and start at "0.1".
package keystore
