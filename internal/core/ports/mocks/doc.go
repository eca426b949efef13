// Package mocks provides test doubles for ports interfaces.
//
// These mocks are designed to be simple, thread-safe, in-memory implementations
// suitable for unit testing. Each mock provides:
//
//   - Default behavior that honors the same conditional-update semantics as
//     the PostgreSQL store
//   - Callback functions (xxxFn) for customizing behavior per test
//   - Helper methods for setting state directly
//
// # Usage Example
//
//	func TestScheduler(t *testing.T) {
//		store := mocks.NewStore()
//		store.PutHotspot(&domain.Hotspot{ID: "h1", Status: domain.StatusValidated})
//
//		machine := lifecycle.New(store, lifecycle.Config{}, &logger)
//		s := crawl.New(store, machine, mocks.NewCrawler(), crawl.Config{}, &logger)
//		// ... test scheduler behavior
//	}
//
// # Available Mocks
//
//   - Store: implements ports.Store
//   - Embedder: implements ports.Embedder
//   - Classifier: implements ports.Classifier
//   - Crawler: implements ports.CrawlerService
//   - Analyzer: implements ports.Analyzer
//   - Channel: implements ports.Channel
//   - Clock: a manually advanced time source
package mocks
