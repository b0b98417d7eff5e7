// Package session holds one synchronous command/response conversation with
// an interactive symbolic debugger (gdb conventions) over its free-text
// output stream.
//
// # Synchronization
//
// The debugger's output has no framing: answers arrive in arbitrary chunks,
// and breakpoint reports from the running inferior can be interleaved with
// them. A Session therefore treats the stream as a request/response channel
// with an explicit boundary algorithm:
//
//  1. Send writes the command and a newline.
//  2. Sync waits for the (unique, custom) prompt to reappear; everything
//     before it is the command's raw answer.
//  3. Sync then prints a freshly generated token wrapped in "---ATH...---",
//     waits for that exact token and then for the prompt once more.
//
// A prompt match alone is not a reliable boundary because the prompt text
// can occur inside captured data and asynchronous output may race with it.
// The token is generated per call and never produced by the inferior, so
// seeing it, followed by its prompt, proves the stream is drained. Only then
// is the answer from step 2 final.
//
// The session is strictly sequential: a caller never issues a command while
// an earlier round trip is outstanding.
package session
