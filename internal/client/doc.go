// Package client drives a bridge from another machine: the /token and
// /stty endpoints over HTTP and interactive terminal sessions over /ws.
//
// Every failure is an *Error whose Kind says what went wrong:
//
//	cfg, err := c.Stty(ctx, client.SttyRequest{BaudRate: &baud})
//	if client.IsKind(err, client.KindRejected) {
//	    // the bridge refused the values; nothing changed
//	}
package client
