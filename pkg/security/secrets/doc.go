// Package secrets resolves the credentials the relay sends upstream.
//
// A Manager tries a chain of providers in order and caches the first value
// found. Three providers are available:
//
//   - EnvProvider reads environment variables. With an empty prefix the
//     secret "api-key" is read from API_KEY.
//   - FileProvider reads one file per secret from a directory (the layout
//     used by Kubernetes secret mounts). Files must be mode 0600 or 0400.
//     With watching enabled, writes to the directory invalidate the cache so
//     rotated keys take effect on the next upstream attempt.
//   - SSMProvider reads AWS Systems Manager parameters with decryption.
//
// Example:
//
//	env := secrets.NewEnvProvider("")
//	mgr := secrets.NewManager([]secrets.Provider{env}, time.Minute)
//	key, err := mgr.GetSecret(ctx, "api-key")
package secrets
