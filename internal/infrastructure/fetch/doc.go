// Package fetch is the outbound HTTP client of the runtime.
//
// Bundle downloads stream through go-retryablehttp; update catalog queries
// use resty with sonic decoding. Both share one rate limiter.
//
// Example Usage:
//
//	client := fetch.NewClient(fetch.DefaultOptions(), logger)
//	path, size, err := client.Download(ctx, url, layout.Staging())
package fetch
