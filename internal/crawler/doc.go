// Package crawler implements the paginated listing crawl: the Extractor turns
// a rendered page into listing items, and the Controller drives navigation,
// persistence and next-page discovery over the Browser and ItemStore
// interfaces. Concrete navigators and stores live in sibling packages.
package crawler
