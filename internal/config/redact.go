package config

const redactedPlaceholder = "***redacted***"

// Redacted returns a copy of the configuration safe for logs and the
// observability surface. The store URI is always masked: it routinely
// carries credentials and replica-set internals.
func (c AppConfig) Redacted() AppConfig {
	out := c
	if out.MongoURI != "" {
		out.MongoURI = redactedPlaceholder
	}
	// PresenceServers is a shared slice; copy so callers cannot alias.
	out.PresenceServers = append([]PresenceServer(nil), c.PresenceServers...)
	return out
}
