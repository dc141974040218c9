// Package server is the bridge's HTTP front door.
//
// Every accepted connection goes through the same steps:
//
//  1. The admission filter; a refused peer is closed before any byte is read.
//
//  2. One request head is parsed. A malformed request line drops the
//     connection without a response.
//
//  3. HTTP Basic authentication, when configured.
//
//  4. The route table below.
//
// # Routes
//
//	GET, POST  /stty              200 JSON terminal configuration, 400 text
//	GET        /ws                101 and a terminal session, 400, or 503 when full
//	GET        /token             200 {"token": "..."}
//	GET        /, /index.html     200 gzip page, or 406 without gzip
//	GET, POST  anything else      404
//	other      any                400
//
// Apart from /ws every connection closes after its single response.
// A panic while serving a connection is logged and only that connection
// is dropped.
//
// # Static page
//
// static/index.html is a small xterm.js client for the ttyd protocol. The
// compressed copy is embedded; regenerate it with go generate after editing.
package server
