// Package vard exposes the Go APIs behind the vard variable registry
// daemon: a single-binary service that owns a registry of named, typed,
// tagged, flagged variables and serves creation, mutation, watches, and
// criteria-based queries over a Unix-domain socket or TCP.
//
// # Running a server
//
//	cfg := vard.Config{ListenProto: "unix", Listen: "/run/vard.sock"}
//	srv, err := vard.NewServer(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go func() {
//	    if err := srv.Start(); err != nil {
//	        log.Fatalf("vard: %v", err)
//	    }
//	}()
//	defer srv.Shutdown(context.Background())
//
// # Querying
//
// The query engine lives in package vquery and drives any vquery.Registry:
// the in-process engine, or a remote server through the client SDK.
//
//	q, err := vquery.New(vquery.MatchTags|vquery.ShowValue, "", "sensor", 0, 0)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := vquery.Search(ctx, reg, q, os.Stdout); err != nil {
//	    log.Fatal(err)
//	}
//
// # Client SDK
//
// The Go client (github.com/varserver/vard/client) wraps the HTTP API. The
// base URL decides the transport: unix:///run/vard.sock or
// http://host:9550.
package vard
