// Package timeline owns the ordered, id-addressable message sequence of one mounted widget.
//
// Ownership model:
//   - The ask pipeline and the command dispatcher are the only writers.
//   - Renderers, the quota monitor and the event publisher read immutable snapshots or
//     subscribe to committed changes.
//   - Every mutation produces a new backing slice; a snapshot handed out earlier never changes.
package timeline
