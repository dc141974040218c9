// Package discovery advertises and finds Wi-Se bridges over mDNS.
//
// A bridge registers itself as an "_http._tcp" service named after its
// hostname. The TXT records identify it:
//
//	path=/
//	wise=<software version>
//	uart=<serial port number>
//
// Scanners ignore any HTTP service without the "wise" record.
//
// # Usage Example
//
//	adv, err := discovery.Advertise(ctx, "Wi_Se", 80, version.Version, 1)
//	if err != nil {
//	    return err
//	}
//	defer adv.Shutdown()
//
//	bridges, err := discovery.NewScanner().Scan(ctx)
package discovery
