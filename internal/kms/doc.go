// Package kms supplies key material and per-record encryption for the
// journal engine.
//
// # Model
//
// A KeyProvider resolves an opaque key id to symmetric key material. An
// Encryptor wraps one serialized record into an envelope {key id, IV,
// ciphertext}; a Decryptor reverses it, re-resolving the embedded key id at
// read time. Both are stateless per call, so the same instances can serve
// any number of writers and readers.
//
// Two providers ship here: StaticKeyProvider holds keys in memory (tests,
// simple deployments), and FileKeyProvider reads a keystore file whose
// entries are wrapped by a root key derived from a passphrase with PBKDF2.
//
// Encryption composes with block compression orthogonally: envelopes are
// produced per record, before any block framing, so a compressed block is a
// concatenation of already-encrypted envelopes.
package kms
