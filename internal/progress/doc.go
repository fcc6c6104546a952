// Package progress carries crawl run milestones from the controller to
// observers without ever blocking the crawl. Events are batched on a
// background goroutine and handed to sinks such as the run log or the status
// endpoint.
package progress
