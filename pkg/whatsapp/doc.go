/*
Package whatsapp implements the protocol edge of the WhatsApp Cloud API.

It verifies webhook authenticity (subscription challenge and the
X-Hub-Signature-256 HMAC), normalizes inbound webhook payloads into a
domain.User and a classified domain.Input, and implements the encrypted
data-exchange handshake used by WhatsApp Flows: RSA-OAEP unwrapping of the
per-request AES key, AES-GCM decryption of the request and encryption of the
response under the bit-flipped IV.

Nothing in this package touches session state.
*/
package whatsapp
