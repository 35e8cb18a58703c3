/*
Package security groups the relay's credential and transport security
packages.

# Secret Management

The upstream API key is resolved through a provider chain on every
connection attempt, so rotated keys take effect without a restart:

	manager := secrets.NewManager([]secrets.Provider{
		secrets.NewEnvProvider(""),
		fileProvider,
	}, 5*time.Minute)

	apiKey, err := manager.GetSecret(ctx, "api-key")

See package secrets for the env, file and AWS SSM providers.

# TLS

Package tls terminates HTTPS with a certificate that is reloaded when its
files change:

	certs, err := tls.NewCertReloader("/etc/relay/tls.crt", "/etc/relay/tls.key")
	tlsConfig, err := tls.ServerConfig(&cfg.Server.TLS, certs)
*/
package security
