// Package security implements the cryptography of escrowed messaging.
//
// Every message is sealed twice with NaCl box under one fresh nonce: once
// to the recipient's public key and once to the admin authority's public
// key. This escrow is intentional. The holder of the admin secret key can
// read all traffic, and nothing in this package tries to prevent that.
//
// User secret keys are stored only inside a VaultBlob, sealed with
// secretbox under an argon2id key derived from the user's password. Both
// Decrypt and UnsealSecretKey report failure as a plain false so a caller
// can never tell a wrong key from damaged data.
package security
