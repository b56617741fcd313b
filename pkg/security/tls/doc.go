// Package tls terminates HTTPS for the relay.
//
// The certificate is held by a Reloader, which re-reads the key pair when
// either file changes so renewals take effect without a restart:
//
//	reloader, err := tls.NewReloader(cfg.CertFile, cfg.KeyFile)
//	if err != nil {
//	    return err
//	}
//	if err := reloader.Watch(); err != nil {
//	    return err
//	}
//	defer reloader.Stop()
//
//	srv.TLSConfig = tls.ServerConfig(reloader)
//	srv.ListenAndServeTLS("", "")
//
// A renewal that produces an unusable pair is logged and ignored; the
// previous certificate stays in service.
package tls
