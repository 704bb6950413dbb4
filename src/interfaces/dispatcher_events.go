package interfaces

// -----------------------------------------------------------------------------
// DispatcherEvents is the set of callbacks an UpstreamConnection invokes on
// the dispatcher (spec §4.3 "Lifecycle callbacks"). The connection never
// holds a strong handle to the dispatcher or the pool; it only holds this
// interface (spec §9 design notes).
// -----------------------------------------------------------------------------

type DispatcherEvents interface {
	OnSubscriptionSuccess(connectionID, instrumentID string)
	OnSubscriptionFailed(connectionID, instrumentID string)
	OnUnsubscriptionSuccess(connectionID, instrumentID string)
	OnMarketData(connectionID, instrumentID string, quote map[string]interface{})

	HandleConnectionFailure(connectionID string)
	HandleConnectionRecovery(connectionID string)
}
