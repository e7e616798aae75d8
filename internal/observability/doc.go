// Package observability builds the process-wide structured logger.
package observability
