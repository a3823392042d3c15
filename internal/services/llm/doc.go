// Package llm wraps the OpenRouter chat completion API for story script
// generation. Requests are JSON-only with bounded retry and exponential
// backoff; responses are sanitized before decoding because models wrap
// payloads in code fences or prose.
package llm
