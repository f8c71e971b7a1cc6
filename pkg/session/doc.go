/*
Package session implements the per-user session store of the dialog engine.

It layers typed key/value access, nested user properties and a process-wide
global namespace on top of a ports.SessionBackend, and serializes all access
to one session with a reference-counted lock (plus an optional distributed
lock) so that concurrent webhooks for the same user never interleave.
*/
package session
