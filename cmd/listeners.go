package cmd

import (
	"invocore/internal/capability"
	"invocore/internal/listener"
)

// buildListenerChain fans cfg's configured listeners out through a
// Forwarder, wrapping it in log persistence when cfg carries a
// LogSaver. Frozen immediately: per spec §5 a Configuration's listener
// set is fixed before the invocation/module it belongs to starts, and
// nothing downstream of cmd/ ever calls AddListener again.
func buildListenerChain(cfg *capability.Configuration) capability.TestInvocationListener {
	fwd := listener.NewForwarder()
	for _, l := range cfg.Listeners {
		_ = fwd.AddListener(l)
	}
	fwd.Freeze()

	if cfg.LogSaver == nil {
		return fwd
	}
	return listener.NewLogSaverForwarder(fwd, cfg.LogSaver)
}
