package pipeline

// Keys for the per-call scratch values shared between a policy's
// outbound and inbound hooks.
const (
	valueKeyProxies          = "proxies"
	valueKeyLoggingEnable    = "logging_enable"
	valueKeyResponseEncoding = "response_encoding"
)
