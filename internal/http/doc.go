// Package http provides the HTTP client shared by bucket adapters and
// download workers.
//
// This package handles:
//   - One connection pool for listing and downloading
//   - A connect and response-header timeout (10s by default)
//   - Optional proxying through http, https or socks5 proxies
//   - Disabled TLS verification unless VerifyTLS is set
//   - Mapping non-2xx responses to sentinel errors via StatusError
//
// # Usage
//
//	client, err := http.NewClient(http.Options{
//	    Proxy: "socks5://127.0.0.1:1080",
//	})
//
//	resp, err := client.Get(ctx, url, nil)
//	if err != nil {
//	    code := http.StatusCode(err) // 0 for transport errors
//	}
//	defer resp.Body.Close()
//
// Retries are off by default. Setting RetryAttempts enables exponential
// backoff with jitter for server errors and transport failures.
package http
