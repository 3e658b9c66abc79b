// Package seal encrypts exported session strings at rest.
//
// Design goals:
// - One secret per deployment, read from PAIRGATE_EXPORT_KEY.
// - The AEAD key is derived once with Argon2id, so short human-typed secrets
//   are still stretched, and XChaCha20-Poly1305 is used for sealing.
// - Every ciphertext is bound to its session id (additional data), so a sealed
//   string copied onto another record fails to open.
//
// Format: "v1." + base64url(nonce || ciphertext).
//
// Policy:
//   - If RequireExportKey=true, callers MUST enforce a minimum key size (>= 32 bytes)
//     and MUST refuse to export in plaintext.
package seal
