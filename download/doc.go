// Package download fetches raw cache files from a live content server.
//
// A [Client] keeps one TCP connection open and multiplexes many file
// requests over it. After a handshake, each request is a small fixed
// packet naming (major, minor); the server streams each file back as a
// sequence of frames that start with the same (major, minor) pair, so
// responses may complete in any order. A single read loop per connection
// reassembles frames into whole files and hands them to waiting callers.
//
// Requests for a (major, minor) that is already in flight share the
// pending response instead of sending a second request. A connection
// error fails every pending request; the next request reconnects.
//
// [Client.GetFile] retries failed downloads, including files whose CRC-32
// does not match the caller's expected value, and slows down after
// repeated failures. Music files are fetched over HTTP instead of the
// socket when a music URL is configured.
package download
