// Package client is the Go SDK for the imad measurement daemon.
//
// Reads are public:
//
//	c, err := client.New("http://localhost:8080")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ascii, err := c.ASCIIMeasurements(ctx, 1)
//
// Namespace lifecycle and measurement submission need an admin token, as
// issued by "imad token":
//
//	c, _ := client.New(base, client.WithTokenFile("/etc/imad/admin.jwt"))
//	ns, _ := c.CreateNamespace(ctx, 1, true)
//	res, err := c.Measure(ctx, ns.ID, client.MeasureRequest{
//	    Name:       "/usr/bin/env",
//	    FileDigest: hex.EncodeToString(sum[:]),
//	})
//	if client.IsDuplicate(err) {
//	    // already measured; res.Admissions[0].Position is the stored entry
//	}
package client
