// Package ask drives one user turn from utterance to rendered timeline entries.
//
// A turn echoes the user text, shows a loading placeholder, calls the active backend session,
// waits at least a minimum delay so fast replies do not flicker, then expands the reply's
// fragments into assistant or system messages in backend order. Command fragments are handed
// to a dispatcher after their message is in place. At most one turn runs at a time.
package ask
